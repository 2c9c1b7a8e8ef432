package models

import "time"

// Status is the processing status of an invoice as reported by the server.
// The raw wire value is preserved so unknown statuses can still be displayed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var knownStatuses = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusCompleted:  true,
	StatusFailed:     true,
}

// IsKnown returns true if the status is one of the documented wire values.
func (s Status) IsKnown() bool {
	return knownStatuses[s]
}

// IsTerminal returns true if extraction has finished, successfully or not.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Normalized maps any unknown wire value to pending so that polling keeps
// going instead of stalling on a status this client predates.
func (s Status) Normalized() Status {
	if s.IsKnown() {
		return s
	}
	return StatusPending
}

// String returns the raw wire value.
func (s Status) String() string {
	return string(s)
}

// Invoice is the server-owned snapshot of one uploaded document. The client
// never patches individual fields; it replaces the whole snapshot with the
// latest server response.
type Invoice struct {
	ID               int64             `json:"id"`
	File             string            `json:"file,omitempty"`
	UploadedAt       time.Time         `json:"uploaded_at,omitempty"`
	Processed        bool              `json:"processed"`
	Status           Status            `json:"status"`
	ExtractedContent *ExtractedContent `json:"extracted_content,omitempty"`
}

// StructuredData returns the extracted structured data, or nil when the
// server has not produced any yet.
func (inv *Invoice) StructuredData() *StructuredData {
	if inv == nil || inv.ExtractedContent == nil {
		return nil
	}
	return inv.ExtractedContent.StructuredData
}

// ExtractedContent holds everything the extraction pipeline produced for one
// invoice. It is replaced atomically with each snapshot.
type ExtractedContent struct {
	RawText          string             `json:"raw_text,omitempty"`
	FormattedText    string             `json:"formatted_text,omitempty"`
	StructuredData   *StructuredData    `json:"structured_data,omitempty"`
	ExtractionMethod string             `json:"extraction_method,omitempty"`
	DocumentType     string             `json:"document_type,omitempty"`
	PageCount        int                `json:"page_count,omitempty"`
	Error            string             `json:"error,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
}

// AnnotationSubmission is one user-confirmed correction: the server's
// original extraction paired with the corrected version.
type AnnotationSubmission struct {
	OriginalData  *StructuredData `json:"originalData"`
	CorrectedData *StructuredData `json:"correctedData"`
}
