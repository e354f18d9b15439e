package runtime

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateFailed, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},

		{StateCreated, StateRunning, false},
		{StateStarting, StateCompleted, false},
		{StateStarting, StateCancelled, false},
		{StateCompleted, StateFailed, false},
		{StateCancelled, StateCancelled, false},
		{StateFailed, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateMachineRejectsIllegal(t *testing.T) {
	sm := newStateMachine()
	if err := sm.transition(StateCancelled); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if sm.current() != StateCreated {
		t.Fatalf("state changed on rejected transition: %s", sm.current())
	}
	for _, s := range []State{StateStarting, StateRunning, StateCompleted} {
		if err := sm.transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if !sm.current().IsTerminal() {
		t.Fatal("completed should be terminal")
	}
}
