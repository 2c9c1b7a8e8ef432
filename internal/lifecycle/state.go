package lifecycle

// State represents a phase of an extraction session's lifecycle.
type State string

const (
	StateIdle           State = "IDLE"
	StateUploading      State = "UPLOADING"
	StateAwaitingResult State = "AWAITING_RESULT"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

var validStates = map[State]bool{
	StateIdle:           true,
	StateUploading:      true,
	StateAwaitingResult: true,
	StateCompleted:      true,
	StateFailed:         true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
}

// IsTerminal returns true if the state ends the session (no transition out
// of it except an explicit reset).
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a known lifecycle state.
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}
