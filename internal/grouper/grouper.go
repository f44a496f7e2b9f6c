// Package grouper buckets probe results by identical output so outliers
// stand out, and buckets failures by kind.
package grouper

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/agent462/sweep/internal/executor"
	"github.com/agent462/sweep/internal/probe"
)

// OutputGroup is a set of hosts that produced identical output.
type OutputGroup struct {
	Hosts  []string
	Stdout string
	Stderr string
	IsNorm bool   // the largest group
	Diff   string // unified diff against the norm; empty for the norm itself
}

// FailureGroup is every host that failed with one kind of error.
type FailureGroup struct {
	Kind     executor.ErrorKind
	Hosts    []string
	Messages map[string]string
}

// GroupedResults is a ResultSet reorganised for display and selection.
type GroupedResults struct {
	Groups   []OutputGroup  // norm first, then outliers
	Failures []FailureGroup // ordered by kind
}

// Group buckets successful results by output and picks the majority group
// as the norm. Ties go to the group whose first host sorts first.
func Group(rs executor.ResultSet[probe.Report]) *GroupedResults {
	gr := &GroupedResults{}

	type bucket struct {
		hosts  []string
		stdout string
		stderr string
	}
	buckets := make(map[string]*bucket)
	var order []string
	failures := make(map[executor.ErrorKind]*FailureGroup)

	for _, r := range rs {
		if !r.Success {
			fg, ok := failures[r.Kind]
			if !ok {
				fg = &FailureGroup{Kind: r.Kind, Messages: make(map[string]string)}
				failures[r.Kind] = fg
			}
			fg.Hosts = append(fg.Hosts, r.HostName)
			fg.Messages[r.HostName] = r.Message
			continue
		}

		key := outputKey(r.Payload)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{stdout: r.Payload.Stdout, stderr: r.Payload.Stderr}
			buckets[key] = b
			order = append(order, key)
		}
		b.hosts = append(b.hosts, r.HostName)
	}

	for _, fg := range failures {
		sort.Strings(fg.Hosts)
		gr.Failures = append(gr.Failures, *fg)
	}
	sort.Slice(gr.Failures, func(i, j int) bool { return gr.Failures[i].Kind < gr.Failures[j].Kind })

	if len(order) == 0 {
		return gr
	}

	normKey := order[0]
	for _, k := range order[1:] {
		if len(buckets[k].hosts) > len(buckets[normKey].hosts) {
			normKey = k
		}
	}
	norm := buckets[normKey]
	sort.Strings(norm.hosts)
	gr.Groups = append(gr.Groups, OutputGroup{
		Hosts:  norm.hosts,
		Stdout: norm.stdout,
		Stderr: norm.stderr,
		IsNorm: true,
	})

	for _, k := range order {
		if k == normKey {
			continue
		}
		b := buckets[k]
		sort.Strings(b.hosts)
		gr.Groups = append(gr.Groups, OutputGroup{
			Hosts:  b.hosts,
			Stdout: b.stdout,
			Stderr: b.stderr,
			Diff:   unifiedDiff(norm.stdout, b.stdout),
		})
	}
	return gr
}

func outputKey(r probe.Report) string {
	buf := make([]byte, 0, len(r.Stdout)+len(r.Stderr)+1)
	buf = append(buf, r.Stdout...)
	buf = append(buf, 0) // NUL separator prevents collisions
	buf = append(buf, r.Stderr...)
	return fmt.Sprintf("%x", sha256.Sum256(buf))
}

// Norm returns the majority group, or nil if nothing succeeded.
func (g *GroupedResults) Norm() *OutputGroup {
	for i := range g.Groups {
		if g.Groups[i].IsNorm {
			return &g.Groups[i]
		}
	}
	return nil
}

// Outliers returns the hosts outside the norm group.
func (g *GroupedResults) Outliers() []string {
	var hosts []string
	for _, grp := range g.Groups {
		if !grp.IsNorm {
			hosts = append(hosts, grp.Hosts...)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// FailedHosts returns the hosts that failed with any of kinds, or with any
// kind at all when none are given.
func (g *GroupedResults) FailedHosts(kinds ...executor.ErrorKind) []string {
	var hosts []string
	for _, fg := range g.Failures {
		if len(kinds) == 0 || containsKind(kinds, fg.Kind) {
			hosts = append(hosts, fg.Hosts...)
		}
	}
	sort.Strings(hosts)
	return hosts
}

func containsKind(kinds []executor.ErrorKind, k executor.ErrorKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// unifiedDiff renders b against a with three lines of context.
func unifiedDiff(a, b string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "norm",
		ToFile:   "outlier",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
