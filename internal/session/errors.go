package session

import "errors"

var (
	// ErrInvalidFileType is returned by Submit when the file's detected
	// MIME type is not in the upload allow-list. The network is never
	// contacted in that case.
	ErrInvalidFileType = errors.New("unsupported file type")

	// ErrNoInvoice is returned when the server accepted an upload but sent
	// back no invoice to track.
	ErrNoInvoice = errors.New("server returned no invoice")

	// ErrStatusRegressed is returned when a poll response moves an invoice
	// backwards out of a terminal status. The server should never do this,
	// so it is treated as a server fault rather than papered over.
	ErrStatusRegressed = errors.New("invoice status regressed")
)
