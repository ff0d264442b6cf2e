package engine

// StateType represents the lifecycle state of the engine.
type StateType int

const (
	// StateIdle indicates the engine has been created but not started.
	StateIdle StateType = iota
	// StateStarting indicates the engine is opening its audio sink.
	StateStarting
	// StateRunning indicates the render loop is live.
	StateRunning
	// StateStopping indicates the engine is draining and shutting down.
	StateStopping
	// StateClosed indicates the engine has released all resources.
	StateClosed
	// StateError indicates startup failed.
	StateError
)

// String returns the string representation of the state.
func (s StateType) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateMachine manages lifecycle transitions for the engine. It is not
// goroutine-safe; the engine serializes access behind its own mutex.
type StateMachine struct {
	current     StateType
	transitions map[StateType][]StateType
	onEnter     map[StateType]func()
}

// NewStateMachine creates a state machine with the valid lifecycle edges.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[StateType][]StateType{
			StateIdle:     {StateStarting, StateClosed},
			StateStarting: {StateRunning, StateError},
			StateRunning:  {StateStopping},
			StateStopping: {StateClosed},
			StateError:    {StateClosed, StateStarting},
		},
		onEnter: make(map[StateType]func()),
	}
}

// Current returns the current state.
func (sm *StateMachine) Current() StateType {
	return sm.current
}

// OnEnter registers a callback invoked after entering the given state.
func (sm *StateMachine) OnEnter(s StateType, fn func()) {
	sm.onEnter[s] = fn
}

// Transition attempts to move to the specified state and reports whether
// the edge was legal.
func (sm *StateMachine) Transition(to StateType) bool {
	valid := false
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		return false
	}

	sm.current = to
	if fn, ok := sm.onEnter[to]; ok && fn != nil {
		fn()
	}
	return true
}

// CanTransition reports whether the edge to the given state is legal.
func (sm *StateMachine) CanTransition(to StateType) bool {
	for _, s := range sm.transitions[sm.current] {
		if s == to {
			return true
		}
	}
	return false
}
