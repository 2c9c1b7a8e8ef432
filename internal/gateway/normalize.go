package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/maximeduval/invoiceml/internal/models"
)

// The server serializes extraction output permissively: numbers show up as
// strings, strings as numbers, and the dynamic field maps hold whatever the
// model produced. Everything in this file converts those payloads into the
// strict internal types exactly once, at the gateway edge.

// wireInvoice mirrors the invoice JSON the server actually sends, including
// the field-name drift between API revisions (file vs original_file,
// uploaded_at vs upload_date).
type wireInvoice struct {
	ID           int64                 `json:"id"`
	File         string                `json:"file"`
	OriginalFile string                `json:"original_file"`
	UploadedAt   string                `json:"uploaded_at"`
	UploadDate   string                `json:"upload_date"`
	Processed    bool                  `json:"processed"`
	Status       string                `json:"status"`
	Extracted    *wireExtractedContent `json:"extracted_content"`
}

type wireExtractedContent struct {
	RawText          string             `json:"raw_text"`
	FormattedText    string             `json:"formatted_text"`
	StructuredData   json.RawMessage    `json:"structured_data"`
	ExtractionMethod string             `json:"extraction_method"`
	DocumentType     string             `json:"document_type"`
	PageCount        int                `json:"page_count"`
	Error            string             `json:"error"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
}

func (w *wireInvoice) normalize() *models.Invoice {
	inv := &models.Invoice{
		ID:        w.ID,
		File:      w.File,
		Processed: w.Processed,
		Status:    models.Status(w.Status),
	}
	if inv.File == "" {
		inv.File = w.OriginalFile
	}

	raw := w.UploadedAt
	if raw == "" {
		raw = w.UploadDate
	}
	inv.UploadedAt = parseTimestamp(raw)

	if w.Extracted != nil {
		inv.ExtractedContent = w.Extracted.normalize()
	}
	return inv
}

func (w *wireExtractedContent) normalize() *models.ExtractedContent {
	content := &models.ExtractedContent{
		RawText:          w.RawText,
		FormattedText:    w.FormattedText,
		ExtractionMethod: w.ExtractionMethod,
		DocumentType:     w.DocumentType,
		PageCount:        w.PageCount,
		Error:            w.Error,
		ConfidenceScores: w.ConfidenceScores,
	}
	if len(w.StructuredData) > 0 && string(w.StructuredData) != "null" {
		content.StructuredData = decodeStructuredData(w.StructuredData)
	}
	return content
}

// decodeStructuredData converts the schema-free structured_data payload into
// the strict model. Fields that cannot be interpreted are dropped rather
// than failing the whole invoice.
func decodeStructuredData(raw json.RawMessage) *models.StructuredData {
	var loose map[string]interface{}
	if err := json.Unmarshal(raw, &loose); err != nil || loose == nil {
		return nil
	}

	data := &models.StructuredData{
		NumeroFacture:  stringValue(loose["numeroFacture"]),
		NumeroCommande: stringValue(loose["numeroCommande"]),
		NumeroContrat:  stringValue(loose["numeroContrat"]),
		DatePiece:      stringValue(loose["datePiece"]),
		DateCommande:   stringValue(loose["dateCommande"]),
		DateLivraison:  stringValue(loose["dateLivraison"]),
		TotalHT:        floatValue(loose["totalHT"]),
		TotalTTC:       floatValue(loose["totalTTC"]),
		TotalTVA:       floatValue(loose["totalTVA"]),
	}

	if clientMap, ok := loose["client"].(map[string]interface{}); ok {
		data.Client = models.Client{
			Societe: optStringValue(clientMap["societe"]),
			Code:    optStringValue(clientMap["code"]),
			TVA:     optStringValue(clientMap["tva"]),
			Siret:   optStringValue(clientMap["siret"]),
			Ville:   optStringValue(clientMap["ville"]),
			Pays:    optStringValue(clientMap["pays"]),
		}
	}

	if articles, ok := loose["articles"].([]interface{}); ok {
		data.Articles = make([]models.Article, 0, len(articles))
		for _, entry := range articles {
			articleMap, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			data.Articles = append(data.Articles, models.Article{
				Nom:      stringValue(articleMap["nom"]),
				Quantite: floatValue(articleMap["quantite"]),
				PrixHT:   floatValue(articleMap["prixHT"]),
				Remise:   floatValue(articleMap["remise"]),
				TotalHT:  floatValue(articleMap["totalHT"]),
				TotalTTC: floatValue(articleMap["totalTTC"]),
			})
		}
	}

	data.DetectedFields = decodeDetectedFields(loose["detected_fields"])
	data.CategorizedFields = decodeCategorizedFields(loose["categorized_fields"])

	return data
}

func decodeDetectedFields(value interface{}) map[string]string {
	loose, ok := value.(map[string]interface{})
	if !ok || len(loose) == 0 {
		return nil
	}
	out := make(map[string]string, len(loose))
	for key, v := range loose {
		out[key] = stringValue(v)
	}
	return out
}

// decodeCategorizedFields keeps object-valued categories and skips anything
// malformed; a category holding a string or array is dropped rather than
// failing the whole categorization.
func decodeCategorizedFields(value interface{}) map[string]map[string]string {
	loose, ok := value.(map[string]interface{})
	if !ok || len(loose) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(loose))
	for category, entry := range loose {
		entryMap, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		inner := make(map[string]string, len(entryMap))
		for key, v := range entryMap {
			inner[key] = stringValue(v)
		}
		out[category] = inner
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// stringValue renders any scalar JSON value as a string. Whole-number floats
// print without a trailing ".0" so numeric invoice references round-trip
// cleanly.
func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func optStringValue(value interface{}) *string {
	if value == nil {
		return nil
	}
	s := stringValue(value)
	return &s
}

func floatValue(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		return 0
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
