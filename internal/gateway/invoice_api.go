package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/models"
)

// UploadResult is the server's answer to an upload or re-extraction request.
// Depending on pipeline mode the server replies synchronously with the full
// invoice or asynchronously with a status envelope; both are normalized here.
type UploadResult struct {
	Status  string
	Message string
	Invoice *models.Invoice
}

// uploadEnvelope is the async reply shape: {status, message, invoice}.
type uploadEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Invoice json.RawMessage `json:"invoice"`
}

// Upload sends one document through POST /invoices/ as multipart form data.
func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/invoices/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var raw json.RawMessage
	if err := c.doJSON(req, &raw); err != nil {
		return nil, err
	}

	result, err := decodeUploadReply(raw)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Invoice uploaded",
		zap.String("filename", filename),
		zap.String("status", result.Status))
	return result, nil
}

// BatchUpload sends several documents through POST /invoices/batch_process/.
// Files maps filename to content.
func (c *Client) BatchUpload(ctx context.Context, files map[string]io.Reader) ([]*models.Invoice, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for filename, file := range files {
		part, err := writer.CreateFormFile("files", filename)
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, fmt.Errorf("write file data: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/invoices/batch_process/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var wire []wireInvoice
	if err := c.doJSON(req, &wire); err != nil {
		return nil, err
	}

	invoices := make([]*models.Invoice, 0, len(wire))
	for i := range wire {
		invoices = append(invoices, wire[i].normalize())
	}
	return invoices, nil
}

// List fetches all invoice summaries. The endpoint returns either a plain
// array or a DRF-style {count, results} page depending on server settings;
// both shapes are accepted.
func (c *Client) List(ctx context.Context) ([]*models.Invoice, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/invoices/", &raw); err != nil {
		return nil, err
	}

	var wire []wireInvoice
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("decode invoice list: %w", err)
		}
	} else {
		var page struct {
			Count   int           `json:"count"`
			Results []wireInvoice `json:"results"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode invoice page: %w", err)
		}
		wire = page.Results
	}

	invoices := make([]*models.Invoice, 0, len(wire))
	for i := range wire {
		invoices = append(invoices, wire[i].normalize())
	}
	return invoices, nil
}

// Get fetches the full invoice, extracted content included.
func (c *Client) Get(ctx context.Context, id int64) (*models.Invoice, error) {
	if id <= 0 {
		return nil, ErrMissingInvoiceID
	}

	var wire wireInvoice
	if err := c.getJSON(ctx, fmt.Sprintf("/invoices/%d/", id), &wire); err != nil {
		return nil, err
	}
	return wire.normalize(), nil
}

// Extract asks the server to re-run extraction on an existing invoice. The
// reply has the same shape as an upload reply.
func (c *Client) Extract(ctx context.Context, id int64) (*UploadResult, error) {
	if id <= 0 {
		return nil, ErrMissingInvoiceID
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, fmt.Sprintf("/invoices/%d/extract/", id), &raw); err != nil {
		return nil, err
	}
	return decodeUploadReply(raw)
}

// Delete removes an invoice server-side.
func (c *Client) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrMissingInvoiceID
	}

	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/invoices/%d/", id), nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, nil)
}

// AnnotateResult is the reply to a correction submission.
type AnnotateResult struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TrainingJobID *int64 `json:"training_job_id,omitempty"`
	ModelUpdated  bool   `json:"model_updated,omitempty"`
}

// Annotate submits an original/corrected pair for an invoice so the server
// can fold the correction into model training.
func (c *Client) Annotate(ctx context.Context, id int64, submission *models.AnnotationSubmission) (*AnnotateResult, error) {
	if id <= 0 {
		return nil, ErrMissingInvoiceID
	}

	var result AnnotateResult
	if err := c.postJSON(ctx, fmt.Sprintf("/invoices/%d/annotate/", id), submission, &result); err != nil {
		return nil, err
	}

	c.logger.Info("Annotation submitted",
		zap.Int64("invoice_id", id),
		zap.String("status", result.Status),
		zap.Bool("model_updated", result.ModelUpdated))
	return &result, nil
}

// decodeUploadReply accepts both reply shapes for upload-like endpoints: a
// bare invoice object (synchronous extraction) or a {status, message,
// invoice} envelope (asynchronous pipeline).
func decodeUploadReply(raw json.RawMessage) (*UploadResult, error) {
	var envelope uploadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode upload reply: %w", err)
	}

	result := &UploadResult{Status: envelope.Status, Message: envelope.Message}

	invoiceBody := envelope.Invoice
	if len(invoiceBody) == 0 || string(invoiceBody) == "null" {
		// No envelope: the body itself is the invoice.
		invoiceBody = raw
	}

	var wire wireInvoice
	if err := json.Unmarshal(invoiceBody, &wire); err != nil {
		return nil, fmt.Errorf("decode upload invoice: %w", err)
	}
	if wire.ID != 0 {
		result.Invoice = wire.normalize()
	}

	if result.Status == "" && result.Invoice != nil {
		result.Status = result.Invoice.Status.String()
	}
	return result, nil
}
