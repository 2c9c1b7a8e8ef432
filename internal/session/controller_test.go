package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/gateway"
	"github.com/maximeduval/invoiceml/internal/lifecycle"
	"github.com/maximeduval/invoiceml/internal/models"
)

// MockGateway scripts upload and poll responses for the controller.
type MockGateway struct {
	mu          sync.Mutex
	uploadCalls int
	getCalls    int

	uploadResult *gateway.UploadResult
	uploadErr    error

	// getResponses are consumed one per Get call; the last entry repeats.
	getResponses []*models.Invoice
	getErr       error
	getErrAfter  int // return getErr once this many Get calls happened
}

func (m *MockGateway) Upload(ctx context.Context, filename string, file io.Reader) (*gateway.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadCalls++
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	return m.uploadResult, nil
}

func (m *MockGateway) Get(ctx context.Context, id int64) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil && m.getCalls > m.getErrAfter {
		return nil, m.getErr
	}
	if len(m.getResponses) == 0 {
		return nil, errors.New("mock: no scripted response")
	}
	next := m.getResponses[0]
	if len(m.getResponses) > 1 {
		m.getResponses = m.getResponses[1:]
	}
	return next, nil
}

func (m *MockGateway) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

func (m *MockGateway) UploadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploadCalls
}

func invoiceWithStatus(id int64, status models.Status) *models.Invoice {
	return &models.Invoice{ID: id, Status: status}
}

func completedInvoice(id int64) *models.Invoice {
	return &models.Invoice{
		ID:     id,
		Status: models.StatusCompleted,
		ExtractedContent: &models.ExtractedContent{
			StructuredData: &models.StructuredData{NumeroFacture: "F-42"},
		},
	}
}

func newTestController(gw Gateway) *Controller {
	return NewController(gw, Config{PollInterval: 15 * time.Millisecond}, zap.NewNop())
}

// writeTempFile creates a file whose content sniffs as the wanted type.
func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func pdfFixture(t *testing.T) string {
	return writeTempFile(t, "facture.pdf", []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n"))
}

func TestSubmit_RejectsDisallowedMIMEWithoutNetwork(t *testing.T) {
	gw := &MockGateway{}
	c := newTestController(gw)

	path := writeTempFile(t, "notes.txt", []byte("plain text, not an invoice"))
	err := c.Submit(context.Background(), path)

	assert.ErrorIs(t, err, ErrInvalidFileType)
	assert.Zero(t, gw.UploadCalls())
	assert.Equal(t, lifecycle.StateIdle, c.State())
}

func TestSubmit_PendingUploadThenPollToCompletion(t *testing.T) {
	gw := &MockGateway{
		uploadResult: &gateway.UploadResult{
			Status:  "pending",
			Invoice: invoiceWithStatus(42, models.StatusPending),
		},
		getResponses: []*models.Invoice{
			invoiceWithStatus(42, models.StatusProcessing),
			completedInvoice(42),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Submit(context.Background(), pdfFixture(t)))
	assert.Equal(t, lifecycle.StateAwaitingResult, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)

	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCompleted, state)
	require.NotNil(t, c.Snapshot().StructuredData())
	assert.Equal(t, "F-42", c.Snapshot().StructuredData().NumeroFacture)

	// Polling must stop once the terminal status arrived.
	calls := gw.GetCalls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, gw.GetCalls())
}

func TestSubmit_SynchronousCompletionSkipsPolling(t *testing.T) {
	gw := &MockGateway{
		uploadResult: &gateway.UploadResult{
			Status:  "success",
			Invoice: completedInvoice(7),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Submit(context.Background(), pdfFixture(t)))

	assert.Equal(t, lifecycle.StateCompleted, c.State())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, gw.GetCalls())
}

func TestSubmit_UploadErrorSurfacedVerbatim(t *testing.T) {
	uploadErr := &gateway.APIError{StatusCode: 500, Message: "Le serveur est indisponible"}
	gw := &MockGateway{uploadErr: uploadErr}
	c := newTestController(gw)

	err := c.Submit(context.Background(), pdfFixture(t))

	require.Error(t, err)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Le serveur est indisponible", apiErr.Message)
	assert.Equal(t, lifecycle.StateFailed, c.State())
	assert.ErrorIs(t, c.Err(), uploadErr)
}

func TestLoad_ProcessingInvoiceStartsOnePollingLoop(t *testing.T) {
	gw := &MockGateway{
		getResponses: []*models.Invoice{
			invoiceWithStatus(9, models.StatusProcessing),
			invoiceWithStatus(9, models.StatusProcessing),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 9))
	assert.Equal(t, lifecycle.StateAwaitingResult, c.State())

	time.Sleep(70 * time.Millisecond)
	assert.Greater(t, gw.GetCalls(), 1, "poll loop should be re-fetching")
}

func TestLoad_CompletedInvoiceSettlesImmediately(t *testing.T) {
	gw := &MockGateway{getResponses: []*models.Invoice{completedInvoice(3)}}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 3))

	assert.Equal(t, lifecycle.StateCompleted, c.State())
	assert.Equal(t, 1, gw.GetCalls(), "terminal invoice needs no polling")
}

func TestLoad_FailedInvoiceSurfacesExtractionError(t *testing.T) {
	failed := invoiceWithStatus(5, models.StatusFailed)
	failed.ExtractedContent = &models.ExtractedContent{Error: "document illisible"}
	gw := &MockGateway{getResponses: []*models.Invoice{failed}}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 5))

	assert.Equal(t, lifecycle.StateFailed, c.State())
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "document illisible")
}

func TestCancel_StopsPollingAndDiscardsLateResponses(t *testing.T) {
	gw := &MockGateway{
		getResponses: []*models.Invoice{
			invoiceWithStatus(9, models.StatusProcessing),
			completedInvoice(9),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 9))
	c.Cancel()

	stateAfterCancel := c.State()
	callsAfterCancel := gw.GetCalls()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, stateAfterCancel, c.State(), "no transition may happen after cancel")
	assert.LessOrEqual(t, gw.GetCalls(), callsAfterCancel+1,
		"at most the already in-flight request may finish")
}

func TestCancel_Idempotent(t *testing.T) {
	gw := &MockGateway{getResponses: []*models.Invoice{invoiceWithStatus(9, models.StatusProcessing)}}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 9))
	c.Cancel()
	c.Cancel()
	c.Cancel()

	assert.Equal(t, lifecycle.StateAwaitingResult, c.State())
}

func TestPollError_TerminatesSessionInFailed(t *testing.T) {
	gw := &MockGateway{
		getResponses: []*models.Invoice{invoiceWithStatus(9, models.StatusProcessing)},
		getErr:       &gateway.APIError{StatusCode: 502, Message: "bad gateway"},
		getErrAfter:  2,
	}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 9))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)

	assert.Equal(t, lifecycle.StateFailed, state)

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Message)

	// No retry after the failed tick.
	calls := gw.GetCalls()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, gw.GetCalls())
}

func TestUnknownStatusKeepsPolling(t *testing.T) {
	gw := &MockGateway{
		getResponses: []*models.Invoice{
			invoiceWithStatus(9, models.Status("queued")),
			invoiceWithStatus(9, models.Status("queued")),
			completedInvoice(9),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Load(context.Background(), 9))
	assert.Equal(t, lifecycle.StateAwaitingResult, c.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)

	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCompleted, state)
	assert.GreaterOrEqual(t, gw.GetCalls(), 3)
}

func TestResubmit_CancelsPreviousPollingLoop(t *testing.T) {
	gw := &MockGateway{
		uploadResult: &gateway.UploadResult{
			Status:  "pending",
			Invoice: invoiceWithStatus(42, models.StatusPending),
		},
		getResponses: []*models.Invoice{
			invoiceWithStatus(42, models.StatusProcessing),
			invoiceWithStatus(42, models.StatusProcessing),
			invoiceWithStatus(42, models.StatusProcessing),
			completedInvoice(42),
		},
	}
	c := newTestController(gw)

	require.NoError(t, c.Submit(context.Background(), pdfFixture(t)))
	require.NoError(t, c.Submit(context.Background(), pdfFixture(t)))

	assert.Equal(t, 2, gw.UploadCalls())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)

	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateCompleted, state)
}

func TestOnTransition_ObservesTerminalState(t *testing.T) {
	gw := &MockGateway{getResponses: []*models.Invoice{completedInvoice(3)}}
	c := newTestController(gw)

	var mu sync.Mutex
	var states []lifecycle.State
	c.SetOnTransition(func(state lifecycle.State, _ *models.Invoice) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})

	require.NoError(t, c.Load(context.Background(), 3))
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, lifecycle.StateCompleted, states[len(states)-1])
}
