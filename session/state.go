package session

import "sync"

// State is the lifecycle state of a Session.
type State int

const (
	StateCreated State = iota
	StateSpawning
	StateActive
	StateAborting
	StateTerminated // the backend crashed; Resume may revive it
	StateClosed     // Destroy was called
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSpawning:
		return "spawning"
	case StateActive:
		return "active"
	case StateAborting:
		return "aborting"
	case StateTerminated:
		return "terminated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager manages thread-safe session state transitions.
type stateManager struct {
	mu    sync.RWMutex
	state State
}

func newStateManager() *stateManager {
	return &stateManager{state: StateCreated}
}

func (m *stateManager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition moves from one of the allowed states to next. op names the
// operation for the returned *StateError.
func (m *stateManager) transition(op string, next State, allowed ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range allowed {
		if m.state == s {
			m.state = next
			return nil
		}
	}
	return &StateError{Op: op, State: m.state}
}

// require checks the current state without changing it.
func (m *stateManager) require(op string, allowed ...State) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range allowed {
		if m.state == s {
			return nil
		}
	}
	return &StateError{Op: op, State: m.state}
}

func (m *stateManager) SetSpawning(op string) error {
	return m.transition(op, StateSpawning, StateCreated, StateTerminated)
}

func (m *stateManager) SetActive() error {
	return m.transition("activate", StateActive, StateSpawning, StateAborting)
}

func (m *stateManager) SetAborting() error {
	return m.transition("abort", StateAborting, StateActive)
}

// SetTerminated is a no-op once the session is closed.
func (m *stateManager) SetTerminated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateClosed {
		m.state = StateTerminated
	}
}

func (m *stateManager) SetClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
}
