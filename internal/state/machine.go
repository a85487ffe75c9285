package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Session states
const (
	StateUnauthenticated = "unauthenticated"
	StateAuthenticated   = "authenticated"
)

// Events
const (
	EventAuthenticated = "authenticated"
	EventTokenRejected = "token_rejected"
)

// SessionState is a snapshot of the session's auth lifecycle.
type SessionState struct {
	DeviceID     string    `json:"device_id"`
	CurrentState string    `json:"state"`
	Since        time.Time `json:"since"`
	AuthCount    int       `json:"auth_count"`
}

// Machine tracks whether the session holds a usable token.
type Machine struct {
	mu            sync.RWMutex
	deviceID      string
	fsm           *fsm.FSM
	state         *SessionState
	onStateChange func(deviceID, from, to string)
}

// NewMachine starts in the unauthenticated state.
func NewMachine(deviceID string, onStateChange func(deviceID, from, to string)) *Machine {
	m := &Machine{
		deviceID:      deviceID,
		onStateChange: onStateChange,
		state: &SessionState{
			DeviceID:     deviceID,
			CurrentState: StateUnauthenticated,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		StateUnauthenticated,
		fsm.Events{
			// a fresh token may also replace a still-valid one
			{Name: EventAuthenticated, Src: []string{StateUnauthenticated, StateAuthenticated}, Dst: StateAuthenticated},
			{Name: EventTokenRejected, Src: []string{StateAuthenticated}, Dst: StateUnauthenticated},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.deviceID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState returns the current state name.
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// IsAuthenticated reports whether a token is believed valid.
func (m *Machine) IsAuthenticated() bool {
	return m.CurrentState() == StateAuthenticated
}

// GetState returns a copy of the session state.
func (m *Machine) GetState() *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// Trigger fires event.
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.fsm.Current()
	if err := m.fsm.Event(context.Background(), event); err != nil {
		// re-authenticating an authenticated session is a self transition
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return fmt.Errorf("trigger event %s: %w", event, err)
		}
	}

	if event == EventAuthenticated {
		m.state.AuthCount++
	}
	if m.fsm.Current() != from {
		m.state.Since = time.Now()
	}
	m.state.CurrentState = m.fsm.Current()
	return nil
}

// CanTransition reports whether event is valid in the current state.
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
