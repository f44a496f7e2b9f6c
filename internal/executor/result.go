package executor

import (
	"errors"
	"sort"
	"time"
)

// ExecutionResult is the single terminal outcome for one host.
// Payload is set only when Success is true; Kind and Message only when it
// is false.
type ExecutionResult[P any] struct {
	HostName   string
	Success    bool
	Payload    P
	Kind       ErrorKind
	Message    string
	State      TaskState
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the time the Task spent running, or zero if it never started.
func (r ExecutionResult[P]) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err rebuilds the classified error for a failed result.
func (r ExecutionResult[P]) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Err: errors.New(r.Message)}
}

// ResultSet holds one result per input host, sorted by host name.
type ResultSet[P any] []ExecutionResult[P]

func (rs ResultSet[P]) sort() {
	sort.Slice(rs, func(i, j int) bool { return rs[i].HostName < rs[j].HostName })
}

// Lookup finds the result for host.
func (rs ResultSet[P]) Lookup(host string) (ExecutionResult[P], bool) {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].HostName >= host })
	if i < len(rs) && rs[i].HostName == host {
		return rs[i], true
	}
	var zero ExecutionResult[P]
	return zero, false
}

// Hosts returns the host names in result order.
func (rs ResultSet[P]) Hosts() []string {
	hosts := make([]string, len(rs))
	for i, r := range rs {
		hosts[i] = r.HostName
	}
	return hosts
}

// Succeeded counts successful results.
func (rs ResultSet[P]) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.Success {
			n++
		}
	}
	return n
}

// Failed returns the unsuccessful results, still sorted by host name.
func (rs ResultSet[P]) Failed() ResultSet[P] {
	var out ResultSet[P]
	for _, r := range rs {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// CountByKind tallies failures per ErrorKind.
func (rs ResultSet[P]) CountByKind() map[ErrorKind]int {
	counts := make(map[ErrorKind]int)
	for _, r := range rs {
		if !r.Success {
			counts[r.Kind]++
		}
	}
	return counts
}

// Filter keeps the results whose host name is in hosts, preserving order.
func (rs ResultSet[P]) Filter(hosts []string) ResultSet[P] {
	keep := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		keep[h] = true
	}
	out := make(ResultSet[P], 0, len(hosts))
	for _, r := range rs {
		if keep[r.HostName] {
			out = append(out, r)
		}
	}
	return out
}
