package gateway

import (
	"context"
	"encoding/json"

	"github.com/maximeduval/invoiceml/internal/models"
)

// AnnotationStats counts the corrections accumulated server-side.
type AnnotationStats struct {
	Total     int `json:"total"`
	Trained   int `json:"trained"`
	Untrained int `json:"untrained"`
}

// TrainingJobStats counts training runs by outcome.
type TrainingJobStats struct {
	Total            int `json:"total"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	PendingOrRunning int `json:"pending_or_running"`
}

// ModelInfoResult describes the state of the server's extraction model.
type ModelInfoResult struct {
	Status         string           `json:"status"`
	ModelAvailable bool             `json:"model_available"`
	ModelExists    bool             `json:"model_exists"`
	Annotations    AnnotationStats  `json:"annotations"`
	TrainingJobs   TrainingJobStats `json:"training_jobs"`
}

// StatusEnvelope is the generic {status, message} acknowledgment body.
type StatusEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ExportedAnnotation is one correction record from the annotation export.
type ExportedAnnotation struct {
	ID              int64                  `json:"id"`
	InvoiceID       int64                  `json:"invoice_id"`
	InvoiceFile     string                 `json:"invoice_file"`
	CreatedAt       string                 `json:"created_at"`
	OriginalData    *models.StructuredData `json:"-"`
	CorrectedData   *models.StructuredData `json:"-"`
	UsedForTraining bool                   `json:"used_for_training"`
	TrainingDate    string                 `json:"training_date,omitempty"`
}

// AnnotationExport is the full annotation dump used to seed retraining.
type AnnotationExport struct {
	Status      string               `json:"status"`
	Count       int                  `json:"count"`
	Annotations []ExportedAnnotation `json:"annotations"`
}

// ModelInfo fetches model availability and training statistics.
func (c *Client) ModelInfo(ctx context.Context) (*ModelInfoResult, error) {
	var info ModelInfoResult
	if err := c.getJSON(ctx, "/ml/model-info/", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ResetModel asks the server to discard the fine-tuned model and fall back
// to the base checkpoint.
func (c *Client) ResetModel(ctx context.Context) (*StatusEnvelope, error) {
	var envelope StatusEnvelope
	if err := c.postJSON(ctx, "/ml/reset-model/", nil, &envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// ExportAnnotations downloads every stored correction. The original and
// corrected payloads go through the same structured-data normalization as
// invoice responses.
func (c *Client) ExportAnnotations(ctx context.Context) (*AnnotationExport, error) {
	var wire struct {
		Status      string `json:"status"`
		Count       int    `json:"count"`
		Annotations []struct {
			ID              int64           `json:"id"`
			InvoiceID       int64           `json:"invoice_id"`
			InvoiceFile     string          `json:"invoice_file"`
			CreatedAt       string          `json:"created_at"`
			OriginalData    json.RawMessage `json:"original_data"`
			CorrectedData   json.RawMessage `json:"corrected_data"`
			UsedForTraining bool            `json:"used_for_training"`
			TrainingDate    string          `json:"training_date"`
		} `json:"annotations"`
	}
	if err := c.getJSON(ctx, "/ml/export-annotations/", &wire); err != nil {
		return nil, err
	}

	export := &AnnotationExport{
		Status:      wire.Status,
		Count:       wire.Count,
		Annotations: make([]ExportedAnnotation, 0, len(wire.Annotations)),
	}
	for _, a := range wire.Annotations {
		export.Annotations = append(export.Annotations, ExportedAnnotation{
			ID:              a.ID,
			InvoiceID:       a.InvoiceID,
			InvoiceFile:     a.InvoiceFile,
			CreatedAt:       a.CreatedAt,
			OriginalData:    decodeStructuredData(a.OriginalData),
			CorrectedData:   decodeStructuredData(a.CorrectedData),
			UsedForTraining: a.UsedForTraining,
			TrainingDate:    a.TrainingDate,
		})
	}
	return export, nil
}
