package executor

import (
	"fmt"
	"time"
)

// TaskState is the lifecycle position of one host's Task.
type TaskState int

const (
	StatePending TaskState = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimedOut
	StateCancelled
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed-out"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskState) UnmarshalText(text []byte) error {
	for st := StatePending; st <= StateCancelled; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown task state %q", text)
}

// Terminal reports whether no further transition is allowed.
func (s TaskState) Terminal() bool {
	return s >= StateCompleted
}

// stateFor maps a result's kind to the terminal state it ends in.
func stateFor(kind ErrorKind) TaskState {
	switch kind {
	case KindNone:
		return StateCompleted
	case KindTimeout:
		return StateTimedOut
	case KindCancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}

// Task is the executor's per-host unit of work. A Task is owned by exactly
// one goroutine, so it carries no lock.
type Task struct {
	host       HostTarget
	state      TaskState
	startedAt  time.Time
	finishedAt time.Time
}

func newTask(host HostTarget) *Task {
	return &Task{host: host, state: StatePending}
}

// start moves a pending Task to running.
func (t *Task) start(at time.Time) error {
	if t.state != StatePending {
		return fmt.Errorf("task %s: cannot start from state %s", t.host.Name, t.state)
	}
	t.state = StateRunning
	t.startedAt = at
	return nil
}

// finish moves the Task to a terminal state. A pending Task may only end as
// timed out or cancelled, since it never ran.
func (t *Task) finish(to TaskState, at time.Time) error {
	if !to.Terminal() {
		return fmt.Errorf("task %s: %s is not a terminal state", t.host.Name, to)
	}
	switch t.state {
	case StateRunning:
	case StatePending:
		if to != StateTimedOut && to != StateCancelled {
			return fmt.Errorf("task %s: cannot finish as %s before starting", t.host.Name, to)
		}
	default:
		return fmt.Errorf("task %s: already %s", t.host.Name, t.state)
	}
	t.state = to
	t.finishedAt = at
	return nil
}

// TaskEvent is delivered to an Observer on every Task transition.
type TaskEvent struct {
	Host    string
	State   TaskState
	At      time.Time
	Kind    ErrorKind
	Message string
}

// Observer receives TaskEvents. It is called from Task goroutines, so it
// must be safe for concurrent use and should return quickly.
type Observer func(TaskEvent)
