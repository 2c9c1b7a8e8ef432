package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks a transport-level failure: the request never got a
	// response from the server.
	ErrNetwork = errors.New("network error")

	// ErrMissingInvoiceID is returned when an invoice-scoped call is made
	// without a server-assigned id. Checked before anything touches the
	// network.
	ErrMissingInvoiceID = errors.New("missing invoice id")
)

// APIError is a non-2xx response. Message carries the server-supplied error
// text verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("server error: status %d: %s", e.StatusCode, e.Message)
}
