package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultConcurrency    = 20
	DefaultTaskTimeout    = 30 * time.Second
	DefaultOverallTimeout = 10 * time.Minute
)

type settings struct {
	concurrency    int
	taskTimeout    time.Duration
	overallTimeout time.Duration
	logger         *slog.Logger
	observer       Observer
}

// Option configures an Executor.
type Option func(*settings)

// WithConcurrency sets the maximum number of Tasks in flight. Values below
// one are rejected by Run with an ArgumentError.
func WithConcurrency(n int) Option {
	return func(s *settings) {
		s.concurrency = n
	}
}

// WithTaskTimeout sets the per-host deadline. Zero keeps the default;
// negative values are rejected by Run.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d != 0 {
			s.taskTimeout = d
		}
	}
}

// WithOverallTimeout sets the deadline for the whole run. Zero keeps the
// default; negative values are rejected by Run.
func WithOverallTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d != 0 {
			s.overallTimeout = d
		}
	}
}

// WithLogger sets the structured logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a callback for Task transitions.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

// Executor schedules an Operation across hosts with bounded concurrency.
// An Executor holds no per-run state and may be reused.
type Executor[P any] struct {
	settings
}

// New creates an Executor with the given options.
func New[P any](opts ...Option) *Executor[P] {
	e := &Executor[P]{settings: settings{
		concurrency:    DefaultConcurrency,
		taskTimeout:    DefaultTaskTimeout,
		overallTimeout: DefaultOverallTimeout,
		logger:         slog.Default(),
	}}
	for _, opt := range opts {
		opt(&e.settings)
	}
	return e
}

// Concurrency returns the configured in-flight cap.
func (e *Executor[P]) Concurrency() int { return e.concurrency }

// TaskTimeout returns the configured per-host deadline.
func (e *Executor[P]) TaskTimeout() time.Duration { return e.taskTimeout }

// OverallTimeout returns the configured run deadline.
func (e *Executor[P]) OverallTimeout() time.Duration { return e.overallTimeout }

// Run executes op once per host and returns one result per host, sorted by
// host name. Hosts launch in input order; at most Concurrency run at once.
// The only error Run returns is an *ArgumentError for invalid input.
func (e *Executor[P]) Run(ctx context.Context, hosts []HostTarget, op Operation[P]) (ResultSet[P], error) {
	if err := e.validate(hosts, op); err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return ResultSet[P]{}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, e.overallTimeout)
	defer cancel()

	e.logger.Info("starting run",
		"hosts", len(hosts),
		"concurrency", e.concurrency,
		"task_timeout", e.taskTimeout,
		"overall_timeout", e.overallTimeout)
	start := time.Now()

	sink := NewResultSink[P](e.concurrency)
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	next := 0
dispatch:
	for ; next < len(hosts); next++ {
		// Block until a slot frees or the run ends.
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break dispatch
		}
		if runCtx.Err() != nil {
			<-sem
			break
		}

		task := newTask(hosts[next])
		wg.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer func() { <-sem }()
			sink.Add(e.runTask(runCtx, t, op))
		}(task)
	}

	if next < len(hosts) {
		e.logger.Warn("run ended before all hosts were dispatched",
			"dispatched", next,
			"remaining", len(hosts)-next,
			"reason", runCtx.Err())
	}
	for _, h := range hosts[next:] {
		sink.Add(e.skipTask(runCtx, newTask(h)))
	}

	wg.Wait()
	results := sink.Drain()

	e.logger.Info("run completed",
		"total", len(results),
		"successful", results.Succeeded(),
		"failed", len(results)-results.Succeeded(),
		"duration", time.Since(start))

	return results, nil
}

// validate enforces Run's preconditions before anything is scheduled.
func (e *Executor[P]) validate(hosts []HostTarget, op Operation[P]) error {
	if e.concurrency < 1 {
		return &ArgumentError{Field: "concurrency", Value: e.concurrency, Message: "must be at least 1"}
	}
	if e.taskTimeout < 0 {
		return &ArgumentError{Field: "task_timeout", Value: e.taskTimeout, Message: "must not be negative"}
	}
	if e.overallTimeout < 0 {
		return &ArgumentError{Field: "overall_timeout", Value: e.overallTimeout, Message: "must not be negative"}
	}
	if op == nil {
		return &ArgumentError{Field: "operation", Message: "must not be nil"}
	}

	seen := make(map[string]bool, len(hosts))
	for i, h := range hosts {
		if h.Name == "" {
			return &ArgumentError{Field: "hosts", Value: i, Message: "host name must not be empty"}
		}
		if seen[h.Name] {
			return &ArgumentError{Field: "hosts", Value: h.Name, Message: "duplicate host name"}
		}
		seen[h.Name] = true
	}
	return nil
}

func (e *Executor[P]) notify(t *Task, kind ErrorKind, msg string) {
	if e.observer == nil {
		return
	}
	at := t.startedAt
	if t.state.Terminal() {
		at = t.finishedAt
	}
	e.observer(TaskEvent{
		Host:    t.host.Name,
		State:   t.state,
		At:      at,
		Kind:    kind,
		Message: msg,
	})
}

// Run is the one-call form of New(...).Run.
func Run[P any](ctx context.Context, hosts []HostTarget, op Operation[P], maxConcurrency int, perTaskTimeout, overallTimeout time.Duration) (ResultSet[P], error) {
	e := New[P](
		WithConcurrency(maxConcurrency),
		WithTaskTimeout(perTaskTimeout),
		WithOverallTimeout(overallTimeout),
	)
	return e.Run(ctx, hosts, op)
}
