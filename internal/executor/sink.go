package executor

import "sync"

// ResultSink collects ExecutionResults from concurrent Tasks. Results travel
// over a channel to a single aggregator goroutine, which is the only code
// that touches the collected slice.
type ResultSink[P any] struct {
	in  chan ExecutionResult[P]
	out chan ResultSet[P]

	drainOnce  sync.Once
	drained    ResultSet[P]
	duplicates int
}

// NewResultSink starts the aggregator. buffer bounds how many results may
// be queued ahead of it.
func NewResultSink[P any](buffer int) *ResultSink[P] {
	if buffer < 0 {
		buffer = 0
	}
	s := &ResultSink[P]{
		in:  make(chan ExecutionResult[P], buffer),
		out: make(chan ResultSet[P], 1),
	}
	go s.aggregate()
	return s
}

func (s *ResultSink[P]) aggregate() {
	seen := make(map[string]bool)
	rs := ResultSet[P]{}
	for r := range s.in {
		// First write wins.
		if seen[r.HostName] {
			s.duplicates++
			continue
		}
		seen[r.HostName] = true
		rs = append(rs, r)
	}
	rs.sort()
	s.out <- rs
}

// Add hands a result to the aggregator. It is safe for concurrent use but
// must not be called after Drain.
func (s *ResultSink[P]) Add(r ExecutionResult[P]) {
	s.in <- r
}

// Drain stops the sink and returns every result sorted by host name.
// Call it only once all producers have finished; later calls return the
// same set.
func (s *ResultSink[P]) Drain() ResultSet[P] {
	s.drainOnce.Do(func() {
		close(s.in)
		s.drained = <-s.out
	})
	return s.drained
}

// Duplicates reports how many results were dropped because their host had
// already reported. Valid after Drain.
func (s *ResultSink[P]) Duplicates() int {
	s.Drain()
	return s.duplicates
}
