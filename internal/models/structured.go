package models

// DefaultTaxRate is applied when the server supplies no explicit VAT rate.
const DefaultTaxRate = 0.20

// Client identifies the invoice recipient. Every field is optional; a nil
// pointer means the extractor did not detect the field, which is distinct
// from an empty string it did detect.
type Client struct {
	Societe *string `json:"societe,omitempty"`
	Code    *string `json:"code,omitempty"`
	TVA     *string `json:"tva,omitempty"`
	Siret   *string `json:"siret,omitempty"`
	Ville   *string `json:"ville,omitempty"`
	Pays    *string `json:"pays,omitempty"`
}

// Article is one invoice line item.
type Article struct {
	Nom      string  `json:"nom"`
	Quantite float64 `json:"quantite"`
	PrixHT   float64 `json:"prixHT"`
	Remise   float64 `json:"remise"`
	TotalHT  float64 `json:"totalHT"`
	TotalTTC float64 `json:"totalTTC"`
}

// Recompute derives the article totals from quantity, unit price and
// discount: totalHT = quantite * prixHT * (1 - remise/100) and
// totalTTC = totalHT * (1 + taxRate).
func (a *Article) Recompute(taxRate float64) {
	a.TotalHT = a.Quantite * a.PrixHT * (1 - a.Remise/100)
	a.TotalTTC = a.TotalHT * (1 + taxRate)
}

// StructuredData is the normalized invoice record produced by extraction.
// The fixed fields carry the primary invoice semantics; DetectedFields and
// CategorizedFields are open-ended maps the extractor is free to extend.
type StructuredData struct {
	NumeroFacture  string `json:"numeroFacture,omitempty"`
	NumeroCommande string `json:"numeroCommande,omitempty"`
	NumeroContrat  string `json:"numeroContrat,omitempty"`

	DatePiece     string `json:"datePiece,omitempty"`
	DateCommande  string `json:"dateCommande,omitempty"`
	DateLivraison string `json:"dateLivraison,omitempty"`

	Client Client `json:"client"`

	TotalHT  float64 `json:"totalHT"`
	TotalTTC float64 `json:"totalTTC"`
	TotalTVA float64 `json:"totalTVA"`

	Articles []Article `json:"articles"`

	DetectedFields    map[string]string            `json:"detected_fields,omitempty"`
	CategorizedFields map[string]map[string]string `json:"categorized_fields,omitempty"`
}

// RecomputeTotals rebuilds the invoice-level totals from the line items.
// Server-supplied totals are trusted verbatim until the user edits; this is
// only called after a client-side mutation.
func (s *StructuredData) RecomputeTotals() {
	var ht, ttc float64
	for i := range s.Articles {
		ht += s.Articles[i].TotalHT
		ttc += s.Articles[i].TotalTTC
	}
	s.TotalHT = ht
	s.TotalTTC = ttc
	s.TotalTVA = ttc - ht
}
