package kata

import (
	"errors"
	"sync"
	"testing"
)

type recordingListener struct {
	mu     sync.Mutex
	events []StateChange
}

func (l *recordingListener) OnStateChange(ev StateChange) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func TestTransitionsFollowTurnOrder(t *testing.T) {
	m := newStateMachine()
	l := &recordingListener{}
	m.AddListener(l)

	steps := []State{StateSpeaking, StateListening, StateSpeaking, StateIdle}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s", m.State())
	}
	if len(l.events) != len(steps) {
		t.Fatalf("events = %d, want %d", len(l.events), len(steps))
	}
	if l.events[1].FromState != StateSpeaking || l.events[1].ToState != StateListening {
		t.Fatalf("hand-off event wrong: %+v", l.events[1])
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := newStateMachine()
	err := m.Transition(StateIdle, "noop")
	if err == nil {
		t.Fatalf("idle to idle must be rejected")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("error type = %T", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("failed transition mutated state")
	}
}
