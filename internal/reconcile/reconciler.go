// Package reconcile holds the editable working copy of an invoice's
// structured data, separate from the pristine server original, and produces
// the original/corrected pair sent to the annotation endpoint.
package reconcile

import (
	"github.com/mohae/deepcopy"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/models"
)

// ArticleUpdate carries a partial edit of one line item. Nil fields are left
// untouched.
type ArticleUpdate struct {
	Nom      *string
	Quantite *float64
	PrixHT   *float64
	Remise   *float64
}

// Reconciler keeps two structurally independent copies of the loaded data:
// the original as the server produced it and the working copy the user
// edits. Mutating one never mutates the other; that independence is what
// makes both "cancel edit" and "submit correction" correct.
//
// A Reconciler belongs to one session and is not safe for concurrent use.
type Reconciler struct {
	original *models.StructuredData
	working  *models.StructuredData
	taxRate  float64
	logger   *zap.Logger
}

// NewReconciler creates a reconciler applying the default VAT rate to
// recomputed line items.
func NewReconciler(logger *zap.Logger) *Reconciler {
	return NewReconcilerWithTaxRate(models.DefaultTaxRate, logger)
}

// NewReconcilerWithTaxRate creates a reconciler with an explicit VAT rate.
func NewReconcilerWithTaxRate(taxRate float64, logger *zap.Logger) *Reconciler {
	return &Reconciler{taxRate: taxRate, logger: logger}
}

func cloneData(data *models.StructuredData) *models.StructuredData {
	if data == nil {
		return nil
	}
	return deepcopy.Copy(data).(*models.StructuredData)
}

// Load replaces both copies with independent deep clones of the given data.
// Any in-progress edits are discarded.
func (r *Reconciler) Load(data *models.StructuredData) {
	r.original = cloneData(data)
	r.working = cloneData(data)

	if data != nil {
		r.logger.Debug("Structured data loaded",
			zap.String("numero_facture", data.NumeroFacture),
			zap.Int("articles", len(data.Articles)))
	}
}

// Loaded returns true once Load has been called with non-nil data.
func (r *Reconciler) Loaded() bool {
	return r.working != nil
}

// Working returns the editable copy. Callers that mutate it directly are
// responsible for keeping totals coherent; the mutation methods below do
// that automatically.
func (r *Reconciler) Working() *models.StructuredData {
	return r.working
}

// AddArticle appends a blank line item to the working copy.
func (r *Reconciler) AddArticle() error {
	if r.working == nil {
		return ErrNothingLoaded
	}
	r.working.Articles = append(r.working.Articles, models.Article{})
	return nil
}

// RemoveArticle deletes the line item at index and recomputes the invoice
// totals. The article list is left untouched when the index is out of range.
func (r *Reconciler) RemoveArticle(index int) error {
	if r.working == nil {
		return ErrNothingLoaded
	}
	if index < 0 || index >= len(r.working.Articles) {
		return ErrIndexOutOfRange
	}

	r.working.Articles = append(r.working.Articles[:index], r.working.Articles[index+1:]...)
	r.working.RecomputeTotals()
	return nil
}

// UpdateArticle applies a partial edit to one line item, recomputes that
// article's totals, then rolls the invoice-level totals up from all articles.
func (r *Reconciler) UpdateArticle(index int, update ArticleUpdate) error {
	if r.working == nil {
		return ErrNothingLoaded
	}
	if index < 0 || index >= len(r.working.Articles) {
		return ErrIndexOutOfRange
	}

	article := &r.working.Articles[index]
	if update.Nom != nil {
		article.Nom = *update.Nom
	}
	if update.Quantite != nil {
		article.Quantite = *update.Quantite
	}
	if update.PrixHT != nil {
		article.PrixHT = *update.PrixHT
	}
	if update.Remise != nil {
		article.Remise = *update.Remise
	}

	article.Recompute(r.taxRate)
	r.working.RecomputeTotals()
	return nil
}

// ApplyCorrected replaces the entire working copy with a deep clone of the
// given data and recomputes totals, keeping the original untouched. Used
// when a caller prepared the corrected record elsewhere (e.g. loaded from a
// corrections file) rather than editing field by field.
func (r *Reconciler) ApplyCorrected(data *models.StructuredData) error {
	if r.original == nil {
		return ErrNothingLoaded
	}
	r.working = cloneData(data)
	if r.working != nil && len(r.working.Articles) > 0 {
		r.working.RecomputeTotals()
	}
	return nil
}

// CancelEdit discards the working copy and restores a fresh clone of the
// last-loaded original. Calling it repeatedly always resets to the same
// snapshot, never to an intermediate edit.
func (r *Reconciler) CancelEdit() {
	r.working = cloneData(r.original)
}

// BuildSubmission returns the original/corrected pair for the annotation
// endpoint. Both sides are deep clones, so neither a retry nor a caller
// mutating the payload can corrupt reconciler state.
func (r *Reconciler) BuildSubmission() (*models.AnnotationSubmission, error) {
	if r.original == nil || r.working == nil {
		return nil, ErrNothingLoaded
	}
	return &models.AnnotationSubmission{
		OriginalData:  cloneData(r.original),
		CorrectedData: cloneData(r.working),
	}, nil
}

// Commit promotes the working copy to become the new original. Callers
// invoke it only after the annotation endpoint acknowledged the submission;
// BuildSubmission itself never does this, which keeps submission retry-safe.
func (r *Reconciler) Commit() {
	r.original = cloneData(r.working)
}
