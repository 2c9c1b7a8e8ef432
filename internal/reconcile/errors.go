package reconcile

import "errors"

var (
	// ErrIndexOutOfRange is returned when an article index does not exist.
	ErrIndexOutOfRange = errors.New("article index out of range")

	// ErrNothingLoaded is returned when an operation needs structured data
	// and none has been loaded.
	ErrNothingLoaded = errors.New("no structured data loaded")
)
