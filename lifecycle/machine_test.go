package lifecycle

import (
	"errors"
	"sync"
	"testing"
)

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseConnected
	phaseFailed
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseConnecting:
		return "connecting"
	case phaseConnected:
		return "connected"
	case phaseFailed:
		return "failed"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var edges = []Edge[phase]{
	{From: phaseIdle, To: phaseConnecting, Name: "connect"},
	{From: phaseConnecting, To: phaseConnected, Name: "opened"},
	{From: phaseConnecting, To: phaseFailed, Name: "failed"},
	{From: phaseConnected, To: phaseClosed, Name: "disconnect"},
}

func TestMove(t *testing.T) {
	tests := []struct {
		name    string
		initial phase
		to      phase
		wantErr bool
	}{
		{"idle -> connecting", phaseIdle, phaseConnecting, false},
		{"connecting -> connected", phaseConnecting, phaseConnected, false},
		{"connecting -> failed", phaseConnecting, phaseFailed, false},
		{"connected -> closed", phaseConnected, phaseClosed, false},
		{"idle -> connected skips connecting", phaseIdle, phaseConnected, true},
		{"failed is terminal", phaseFailed, phaseConnecting, true},
		{"closed is terminal", phaseClosed, phaseConnecting, true},
		{"no self move", phaseIdle, phaseIdle, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.initial, edges, nil)
			if got := m.Can(tt.to); got == tt.wantErr {
				t.Errorf("Can(%s) = %v", tt.to, got)
			}
			err := m.Move(tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Move(%s) error = %v, wantErr %v", tt.to, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("error %v is not ErrInvalidTransition", err)
				}
				if m.Current() != tt.initial {
					t.Errorf("state changed on failed move: %s", m.Current())
				}
				return
			}
			if m.Current() != tt.to {
				t.Errorf("Current() = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestObserver(t *testing.T) {
	type call struct {
		from, to phase
		name     string
	}
	var calls []call
	m := New(phaseIdle, edges, func(from, to phase, name string) {
		calls = append(calls, call{from, to, name})
	})

	if err := m.Move(phaseConnecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Move(phaseConnected); err != nil {
		t.Fatal(err)
	}
	if err := m.Move(phaseConnecting); err == nil {
		t.Fatal("expected invalid move")
	}

	want := []call{
		{phaseIdle, phaseConnecting, "connect"},
		{phaseConnecting, phaseConnected, "opened"},
	}
	if len(calls) != len(want) {
		t.Fatalf("observer calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
}

func TestMoveFromRace(t *testing.T) {
	m := New(phaseIdle, edges, nil)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.MoveFrom(phaseConnecting); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("%d goroutines moved idle -> connecting, want 1", won)
	}
	if !m.In(phaseConnecting) {
		t.Fatalf("state = %s", m.Current())
	}
}
