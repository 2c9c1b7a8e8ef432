// Package session drives one invoice through its asynchronous extraction
// lifecycle: submit or open, poll while the server works, settle in a
// terminal state. State transitions go through an explicit state machine so
// cancellation races are structurally impossible rather than flag-checked.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/gateway"
	"github.com/maximeduval/invoiceml/internal/lifecycle"
	"github.com/maximeduval/invoiceml/internal/models"
)

// allowedMIMETypes is the upload allow-list. Anything else is rejected
// client-side before any request is made.
var allowedMIMETypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"image/tiff",
}

const defaultPollInterval = 3 * time.Second

// Gateway is the slice of the remote API the controller needs.
type Gateway interface {
	Upload(ctx context.Context, filename string, file io.Reader) (*gateway.UploadResult, error)
	Get(ctx context.Context, id int64) (*models.Invoice, error)
}

// TransitionFunc observes lifecycle transitions. It is called outside the
// controller's lock, after the transition took effect.
type TransitionFunc func(state lifecycle.State, snapshot *models.Invoice)

// Config holds controller configuration.
type Config struct {
	// PollInterval is the fixed delay between status re-fetches.
	// Defaults to 3 seconds.
	PollInterval time.Duration
}

// Controller owns one extraction session. At most one polling loop is active
// per controller at any time; starting a new Submit or Load first cancels
// any previous loop, and a response from a cancelled loop is discarded even
// if the request was already in flight.
type Controller struct {
	gw           Gateway
	logger       *zap.Logger
	pollInterval time.Duration
	onTransition TransitionFunc

	mu         sync.Mutex
	machine    *lifecycle.Machine
	invoice    *models.Invoice
	lastErr    error
	pollCancel context.CancelFunc
	generation int
	done       chan struct{}
}

// NewController creates an idle session controller.
func NewController(gw Gateway, cfg Config, logger *zap.Logger) *Controller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Controller{
		gw:           gw,
		logger:       logger,
		pollInterval: interval,
		machine:      lifecycle.NewSessionMachine(),
		done:         make(chan struct{}),
	}
}

// SetOnTransition registers a transition observer. Call before Submit/Load.
func (c *Controller) SetOnTransition(fn TransitionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTransition = fn
}

// State returns the current lifecycle state.
func (c *Controller) State() lifecycle.State {
	return c.machine.State()
}

// Snapshot returns the last-known invoice. The snapshot is replaced
// wholesale on every poll response, never patched field by field.
func (c *Controller) Snapshot() *models.Invoice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invoice
}

// Err returns the error that put the session into Failed, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Wait blocks until the session reaches a terminal state or the context is
// cancelled, and reports the state it observed.
func (c *Controller) Wait(ctx context.Context) (lifecycle.State, error) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return c.State(), ctx.Err()
	case <-done:
		return c.State(), c.Err()
	}
}

// Submit validates the file's MIME type against the allow-list, uploads it,
// and begins tracking the resulting invoice. When the server extracts
// synchronously the session completes without ever polling.
func (c *Controller) Submit(ctx context.Context, path string) error {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detect file type: %w", err)
	}
	if !mimeAllowed(mtype) {
		c.logger.Warn("Rejected file before upload",
			zap.String("path", path),
			zap.String("mime", mtype.String()))
		return fmt.Errorf("%w: %s", ErrInvalidFileType, mtype.String())
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	gen := c.begin(lifecycle.TriggerSubmit)

	c.logger.Info("Uploading invoice",
		zap.String("path", path),
		zap.String("mime", mtype.String()))

	result, err := c.gw.Upload(ctx, filepath.Base(path), file)
	if err != nil {
		c.fail(gen, err)
		return err
	}
	if result.Invoice == nil {
		c.fail(gen, ErrNoInvoice)
		return ErrNoInvoice
	}

	c.track(ctx, gen, result.Invoice)
	return nil
}

// Load attaches the session to an existing invoice. A pending or processing
// invoice starts the polling loop; a terminal one settles immediately.
func (c *Controller) Load(ctx context.Context, id int64) error {
	gen := c.begin(lifecycle.TriggerOpen)

	invoice, err := c.gw.Get(ctx, id)
	if err != nil {
		c.fail(gen, err)
		return err
	}

	c.track(ctx, gen, invoice)
	return nil
}

// Cancel stops any active polling and suppresses the effect of an in-flight
// request. Idempotent; the session keeps its current state and snapshot.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPollingLocked()
}

// begin resets the session for a fresh Submit or Load: any previous polling
// loop is cancelled first so two loops can never race on the same snapshot.
// It returns the generation that identifies this run.
func (c *Controller) begin(trigger lifecycle.Trigger) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelPollingLocked()
	if c.machine.State() != lifecycle.StateIdle {
		c.machine.Fire(lifecycle.TriggerReset)
	}
	c.invoice = nil
	c.lastErr = nil
	c.done = make(chan struct{})

	// TriggerSubmit moves to Uploading. TriggerOpen is deferred until the
	// fetched status is known, because a terminal invoice goes straight to
	// Completed or Failed.
	if trigger == lifecycle.TriggerSubmit {
		c.fireLocked(lifecycle.TriggerSubmit)
	}
	return c.generation
}

// track applies a fresh server snapshot and either settles the session or
// starts the polling loop.
func (c *Controller) track(ctx context.Context, gen int, invoice *models.Invoice) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("Discarding result for cancelled session",
			zap.Int64("invoice_id", invoice.ID))
		return
	}

	c.invoice = invoice
	switch invoice.Status.Normalized() {
	case models.StatusCompleted:
		c.settleLocked(lifecycle.TriggerComplete, nil)
		c.mu.Unlock()
		return
	case models.StatusFailed:
		c.settleLocked(lifecycle.TriggerFail, extractionError(invoice))
		c.mu.Unlock()
		return
	}

	if c.machine.State() == lifecycle.StateIdle || c.machine.State() == lifecycle.StateUploading {
		trigger := lifecycle.TriggerOpen
		if c.machine.State() == lifecycle.StateUploading {
			trigger = lifecycle.TriggerAccept
		}
		c.fireLocked(trigger)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	id := invoice.ID
	c.mu.Unlock()

	c.logger.Info("Awaiting extraction result",
		zap.Int64("invoice_id", id),
		zap.Duration("poll_interval", c.pollInterval))

	go c.pollLoop(pollCtx, gen, id)
}

// pollLoop re-fetches the invoice at a fixed interval. The fetch happens
// inline between ticks, so only one request is ever in flight; responses
// therefore apply in the order their requests were issued.
func (c *Controller) pollLoop(ctx context.Context, gen int, id int64) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Poll loop stopped", zap.Int64("invoice_id", id))
			return

		case <-ticker.C:
			invoice, err := c.gw.Get(ctx, id)
			if err != nil {
				// A failing poll terminates the session rather than
				// retrying forever against a dead backend.
				c.fail(gen, err)
				return
			}
			if !c.applyPoll(gen, invoice) {
				return
			}
		}
	}
}

// applyPoll replaces the session snapshot with a poll response. It returns
// false when polling must stop: the session was cancelled, the response was
// stale, or the invoice reached a terminal status.
func (c *Controller) applyPoll(gen int, invoice *models.Invoice) bool {
	c.mu.Lock()

	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("Discarding stale poll response",
			zap.Int64("invoice_id", invoice.ID))
		return false
	}

	prev := c.invoice
	c.invoice = invoice

	if prev != nil && prev.Status.IsTerminal() && !invoice.Status.IsTerminal() {
		c.settleLocked(lifecycle.TriggerFail, fmt.Errorf("%w: %s -> %s",
			ErrStatusRegressed, prev.Status, invoice.Status))
		c.mu.Unlock()
		return false
	}

	switch invoice.Status.Normalized() {
	case models.StatusCompleted:
		c.settleLocked(lifecycle.TriggerComplete, nil)
		c.mu.Unlock()
		return false
	case models.StatusFailed:
		c.settleLocked(lifecycle.TriggerFail, extractionError(invoice))
		c.mu.Unlock()
		return false
	default:
		state := c.machine.State()
		fn := c.onTransition
		c.mu.Unlock()
		if fn != nil {
			fn(state, invoice)
		}
		return true
	}
}

// fail settles the session in Failed unless the run was already cancelled.
func (c *Controller) fail(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.settleLocked(lifecycle.TriggerFail, err)
	c.mu.Unlock()
}

// settleLocked fires a terminal trigger, records the error and releases
// waiters. Callers hold c.mu.
func (c *Controller) settleLocked(trigger lifecycle.Trigger, err error) {
	c.lastErr = err
	c.cancelPollingLocked()
	c.fireLocked(trigger)

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if err != nil {
		c.logger.Error("Extraction session failed", zap.Error(err))
	} else {
		c.logger.Info("Extraction session completed",
			zap.Int64("invoice_id", c.invoice.ID))
	}
}

// fireLocked executes a transition and schedules the observer callback.
// Callers hold c.mu; the callback runs on its own goroutine so an observer
// calling back into the controller cannot deadlock.
func (c *Controller) fireLocked(trigger lifecycle.Trigger) {
	if err := c.machine.Fire(trigger); err != nil {
		c.logger.Warn("Ignored lifecycle trigger",
			zap.String("trigger", trigger.String()),
			zap.String("state", c.machine.State().String()))
		return
	}

	state := c.machine.State()
	snapshot := c.invoice
	if fn := c.onTransition; fn != nil {
		go fn(state, snapshot)
	}
}

// cancelPollingLocked stops the active poll loop, if any, and invalidates
// the current generation so late responses are discarded.
func (c *Controller) cancelPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	c.generation++
}

func mimeAllowed(mtype *mimetype.MIME) bool {
	for _, allowed := range allowedMIMETypes {
		if mtype.Is(allowed) {
			return true
		}
	}
	return false
}

// extractionError surfaces the server-reported extraction error, falling
// back to a generic message when the server gave none.
func extractionError(invoice *models.Invoice) error {
	if invoice.ExtractedContent != nil && invoice.ExtractedContent.Error != "" {
		return fmt.Errorf("extraction failed: %s", invoice.ExtractedContent.Error)
	}
	return fmt.Errorf("extraction failed for invoice %d", invoice.ID)
}
