package lifecycle

// Trigger represents an event that can cause a state transition.
type Trigger string

const (
	// TriggerSubmit starts an upload from an idle session.
	TriggerSubmit Trigger = "SUBMIT"
	// TriggerOpen attaches an idle session to an existing invoice that is
	// still being processed.
	TriggerOpen Trigger = "OPEN"
	// TriggerAccept records that the server took the upload but has not
	// finished extraction yet.
	TriggerAccept Trigger = "ACCEPT"
	// TriggerComplete records a completed extraction result.
	TriggerComplete Trigger = "COMPLETE"
	// TriggerFail records an extraction or transport failure.
	TriggerFail Trigger = "FAIL"
	// TriggerReset returns the session to idle so it can be reused.
	TriggerReset Trigger = "RESET"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
