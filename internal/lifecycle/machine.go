package lifecycle

import (
	"fmt"
	"sync"
)

// Machine is a table-driven state machine. Transitions are registered with
// Permit before use; firing an unregistered trigger fails without changing
// state. Machine is safe for concurrent use.
type Machine struct {
	mu          sync.RWMutex
	current     State
	transitions map[State]map[Trigger]State
}

// NewMachine creates an empty machine starting in the given state.
func NewMachine(initial State) *Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initial))
	}
	return &Machine{
		current:     initial,
		transitions: make(map[State]map[Trigger]State),
	}
}

// Permit registers a transition and returns the machine for chaining.
func (m *Machine) Permit(from State, trigger Trigger, to State) *Machine {
	if !from.IsValid() {
		panic(fmt.Sprintf("invalid source state: %s", from))
	}
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", to))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transitions[from] == nil {
		m.transitions[from] = make(map[Trigger]State)
	}
	m.transitions[from][trigger] = to
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// CanFire returns true if the trigger is permitted in the current state.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.transitions[m.current][trigger]
	return ok
}

// Fire executes the trigger, transitioning to the registered target state.
func (m *Machine) Fire(trigger Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, ok := m.transitions[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}

// PermittedTriggers returns all triggers that can fire in the current state.
func (m *Machine) PermittedTriggers() []Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	triggers := make([]Trigger, 0, len(m.transitions[m.current]))
	for trigger := range m.transitions[m.current] {
		triggers = append(triggers, trigger)
	}
	return triggers
}

// NewSessionMachine builds the machine for one extraction session:
//
//	Idle -> Uploading -> {AwaitingResult | Completed | Failed}
//	AwaitingResult -> {Completed | Failed}
//
// Opening an existing invoice enters AwaitingResult (still processing) or a
// terminal state directly. Reset is permitted from every state so a session
// object can be reused for a new upload.
func NewSessionMachine() *Machine {
	m := NewMachine(StateIdle)

	m.Permit(StateIdle, TriggerSubmit, StateUploading).
		Permit(StateIdle, TriggerOpen, StateAwaitingResult).
		Permit(StateIdle, TriggerComplete, StateCompleted).
		Permit(StateIdle, TriggerFail, StateFailed)

	m.Permit(StateUploading, TriggerAccept, StateAwaitingResult).
		Permit(StateUploading, TriggerComplete, StateCompleted).
		Permit(StateUploading, TriggerFail, StateFailed)

	m.Permit(StateAwaitingResult, TriggerComplete, StateCompleted).
		Permit(StateAwaitingResult, TriggerFail, StateFailed)

	for state := range validStates {
		m.Permit(state, TriggerReset, StateIdle)
	}

	return m
}
