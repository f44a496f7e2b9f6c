package executor

import (
	"testing"
	"time"
)

func TestTask_Lifecycle(t *testing.T) {
	task := newTask(HostTarget{Name: "web-01"})
	if task.state != StatePending {
		t.Fatalf("new task state = %s, want pending", task.state)
	}

	now := time.Now()
	if err := task.start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := task.start(now); err == nil {
		t.Error("expected second start to fail")
	}
	if err := task.finish(StateCompleted, now.Add(time.Second)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := task.finish(StateFailed, now.Add(2*time.Second)); err == nil {
		t.Error("expected finish from a terminal state to fail")
	}
	if task.state != StateCompleted {
		t.Errorf("state = %s, want completed", task.state)
	}
	if !task.finishedAt.Equal(now.Add(time.Second)) {
		t.Errorf("finishedAt changed after rejected transition")
	}
}

func TestTask_PendingTransitions(t *testing.T) {
	tests := []struct {
		to      TaskState
		allowed bool
	}{
		{StateTimedOut, true},
		{StateCancelled, true},
		{StateCompleted, false},
		{StateFailed, false},
		{StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.to.String(), func(t *testing.T) {
			task := newTask(HostTarget{Name: "h"})
			err := task.finish(tt.to, time.Now())
			if tt.allowed && err != nil {
				t.Errorf("pending -> %s: unexpected error %v", tt.to, err)
			}
			if !tt.allowed && err == nil {
				t.Errorf("pending -> %s: expected error", tt.to)
			}
		})
	}
}

func TestStateFor(t *testing.T) {
	tests := map[ErrorKind]TaskState{
		KindNone:            StateCompleted,
		KindTimeout:         StateTimedOut,
		KindCancelled:       StateCancelled,
		KindAuth:            StateFailed,
		KindConnectivity:    StateFailed,
		KindRemoteExecution: StateFailed,
		KindInternal:        StateFailed,
	}
	for kind, want := range tests {
		if got := stateFor(kind); got != want {
			t.Errorf("stateFor(%s) = %s, want %s", kind, got, want)
		}
	}
}

func TestTaskState_Terminal(t *testing.T) {
	if StatePending.Terminal() || StateRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
	for _, s := range []TaskState{StateCompleted, StateFailed, StateTimedOut, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTaskState_Text(t *testing.T) {
	for s := StatePending; s <= StateCancelled; s++ {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatal(err)
		}
		var back TaskState
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %s gave %s, %v", s, back, err)
		}
	}
	var s TaskState
	if err := s.UnmarshalText([]byte("sleeping")); err == nil {
		t.Error("expected error for unknown state")
	}
}
