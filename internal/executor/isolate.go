package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// outcome is what the Operation goroutine hands back to its Task.
type outcome[P any] struct {
	payload  P
	err      error
	panicked bool
	stack    []byte
}

// runTask is the failure boundary around one Operation call. It always
// returns exactly one result and never lets a panic or a stuck Operation
// escape into the scheduler.
func (e *Executor[P]) runTask(runCtx context.Context, t *Task, op Operation[P]) ExecutionResult[P] {
	taskCtx, cancel := context.WithTimeout(runCtx, e.taskTimeout)
	defer cancel()

	if err := t.start(time.Now()); err != nil {
		var zero P
		return e.finish(t, KindInternal, err.Error(), zero)
	}
	e.notify(t, KindNone, "")
	e.logger.Debug("task started", "host", t.host.Name)

	// Buffered so an abandoned Operation can still deliver and exit.
	done := make(chan outcome[P], 1)
	go func() {
		var out outcome[P]
		defer func() {
			if r := recover(); r != nil {
				out = outcome[P]{
					err:      fmt.Errorf("operation panicked: %v", r),
					panicked: true,
					stack:    debug.Stack(),
				}
			}
			done <- out
		}()
		out.payload, out.err = op(taskCtx, t.host)
	}()

	select {
	case out := <-done:
		if out.err != nil && !out.panicked && taskCtx.Err() != nil {
			// The Operation failed after its context ended; report why it ended.
			return e.interrupted(t, runCtx)
		}
		return e.complete(t, out)
	case <-taskCtx.Done():
		// Prefer a result that raced in with the deadline.
		select {
		case out := <-done:
			if out.err == nil {
				return e.complete(t, out)
			}
		default:
		}
		e.logger.Debug("operation abandoned", "host", t.host.Name, "reason", taskCtx.Err())
		return e.interrupted(t, runCtx)
	}
}

// complete turns a finished Operation call into a result.
func (e *Executor[P]) complete(t *Task, out outcome[P]) ExecutionResult[P] {
	if out.panicked {
		e.logger.Error("operation panicked", "host", t.host.Name, "error", out.err, "stack", string(out.stack))
		return e.finish(t, KindInternal, out.err.Error(), out.payload)
	}
	if out.err != nil {
		kind := classify(out.err)
		e.logger.Warn("task failed", "host", t.host.Name, "kind", kind, "error", out.err)
		return e.finish(t, kind, out.err.Error(), out.payload)
	}
	return e.finish(t, KindNone, "", out.payload)
}

// interrupted reports a Task whose context ended before the Operation did.
func (e *Executor[P]) interrupted(t *Task, runCtx context.Context) ExecutionResult[P] {
	var zero P
	switch {
	case errors.Is(runCtx.Err(), context.Canceled):
		return e.finish(t, KindCancelled, "run cancelled", zero)
	case runCtx.Err() != nil:
		return e.finish(t, KindTimeout, "overall deadline exceeded", zero)
	default:
		return e.finish(t, KindTimeout, fmt.Sprintf("operation exceeded task timeout of %s", e.taskTimeout), zero)
	}
}

// skipTask reports a host that was never dequeued because the run ended.
func (e *Executor[P]) skipTask(runCtx context.Context, t *Task) ExecutionResult[P] {
	var zero P
	if errors.Is(runCtx.Err(), context.Canceled) {
		return e.finish(t, KindCancelled, "run cancelled before the task started", zero)
	}
	return e.finish(t, KindTimeout, "overall deadline exceeded before the task started", zero)
}

func (e *Executor[P]) finish(t *Task, kind ErrorKind, msg string, payload P) ExecutionResult[P] {
	if err := t.finish(stateFor(kind), time.Now()); err != nil {
		// Only reachable through a scheduler bug; keep the result but say so.
		e.logger.Error("invalid task transition", "host", t.host.Name, "error", err)
		kind, msg = KindInternal, err.Error()
		t.state, t.finishedAt = StateFailed, time.Now()
	}
	e.notify(t, kind, msg)

	r := ExecutionResult[P]{
		HostName:   t.host.Name,
		Success:    kind == KindNone,
		Kind:       kind,
		Message:    msg,
		State:      t.state,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
	}
	if r.Success {
		r.Payload = payload
	}
	return r
}
