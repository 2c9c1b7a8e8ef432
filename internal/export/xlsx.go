// Package export renders invoices and annotation dumps as XLSX workbooks.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/fields"
	"github.com/maximeduval/invoiceml/internal/gateway"
	"github.com/maximeduval/invoiceml/internal/models"
)

const (
	invoiceSheet  = "Facture"
	articlesSheet = "Articles"
	fieldsSheet   = "Champs détectés"
)

// Writer builds XLSX workbooks from extraction results.
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates an XLSX writer.
func NewWriter(logger *zap.Logger) *Writer {
	return &Writer{logger: logger}
}

// InvoiceWorkbook renders one invoice's structured data: a summary sheet, a
// line-item sheet and a sheet with the categorized detected fields.
func (w *Writer) InvoiceWorkbook(invoice *models.Invoice) (*excelize.File, error) {
	data := invoice.StructuredData()
	if data == nil {
		return nil, fmt.Errorf("invoice %d has no structured data", invoice.ID)
	}

	f := excelize.NewFile()
	f.SetSheetName("Sheet1", invoiceSheet)

	w.fillSummary(f, invoice, data)
	w.fillArticles(f, data.Articles)
	w.fillDetectedFields(f, data)

	w.logger.Info("Built invoice workbook",
		zap.Int64("invoice_id", invoice.ID),
		zap.Int("articles", len(data.Articles)))
	return f, nil
}

// SaveInvoice renders the invoice and writes the workbook to outputPath.
func (w *Writer) SaveInvoice(invoice *models.Invoice, outputPath string) error {
	f, err := w.InvoiceWorkbook(invoice)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	w.logger.Info("Invoice exported", zap.String("output_path", outputPath))
	return nil
}

// AnnotationsWorkbook renders the server's annotation dump as one row per
// correction, pairing the originally extracted totals with the corrected ones.
func (w *Writer) AnnotationsWorkbook(export *gateway.AnnotationExport) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Annotations"
	f.SetSheetName("Sheet1", sheet)

	header := []string{
		"ID", "Facture", "Fichier", "Créée le",
		"N° facture (original)", "N° facture (corrigé)",
		"Total TTC (original)", "Total TTC (corrigé)",
		"Entraînée", "Date d'entraînement",
	}
	for i, title := range header {
		w.setCell(f, sheet, cellRef(i, 1), title)
	}

	for row, a := range export.Annotations {
		values := []interface{}{
			a.ID, a.InvoiceID, a.InvoiceFile, a.CreatedAt,
			numeroFacture(a.OriginalData), numeroFacture(a.CorrectedData),
			totalTTC(a.OriginalData), totalTTC(a.CorrectedData),
			a.UsedForTraining, a.TrainingDate,
		}
		for col, v := range values {
			w.setCell(f, sheet, cellRef(col, row+2), v)
		}
	}

	w.logger.Info("Built annotations workbook",
		zap.Int("annotations", len(export.Annotations)))
	return f, nil
}

// SaveAnnotations renders the annotation dump and writes it to outputPath.
func (w *Writer) SaveAnnotations(export *gateway.AnnotationExport, outputPath string) error {
	f, err := w.AnnotationsWorkbook(export)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	w.logger.Info("Annotations exported",
		zap.String("output_path", outputPath),
		zap.Int("count", export.Count))
	return nil
}

func (w *Writer) fillSummary(f *excelize.File, invoice *models.Invoice, data *models.StructuredData) {
	rows := [][2]interface{}{
		{"Identifiant", invoice.ID},
		{"Fichier", invoice.File},
		{"Statut", invoice.Status.String()},
		{"Numéro de facture", data.NumeroFacture},
		{"Numéro de commande", data.NumeroCommande},
		{"Numéro de contrat", data.NumeroContrat},
		{"Date de pièce", data.DatePiece},
		{"Date de commande", data.DateCommande},
		{"Date de livraison", data.DateLivraison},
		{"Client", strOrEmpty(data.Client.Societe)},
		{"Code client", strOrEmpty(data.Client.Code)},
		{"N° TVA", strOrEmpty(data.Client.TVA)},
		{"SIRET", strOrEmpty(data.Client.Siret)},
		{"Ville", strOrEmpty(data.Client.Ville)},
		{"Pays", strOrEmpty(data.Client.Pays)},
		{"Total HT", data.TotalHT},
		{"Total TVA", data.TotalTVA},
		{"Total TTC", data.TotalTTC},
	}
	for i, row := range rows {
		w.setCell(f, invoiceSheet, cellRef(0, i+1), row[0])
		w.setCell(f, invoiceSheet, cellRef(1, i+1), row[1])
	}
}

func (w *Writer) fillArticles(f *excelize.File, articles []models.Article) {
	if _, err := f.NewSheet(articlesSheet); err != nil {
		w.logger.Warn("Failed to create sheet",
			zap.String("sheet", articlesSheet), zap.Error(err))
		return
	}

	header := []string{"Désignation", "Quantité", "Prix HT", "Remise %", "Total HT", "Total TTC"}
	for i, title := range header {
		w.setCell(f, articlesSheet, cellRef(i, 1), title)
	}

	for row, a := range articles {
		values := []interface{}{a.Nom, a.Quantite, a.PrixHT, a.Remise, a.TotalHT, a.TotalTTC}
		for col, v := range values {
			w.setCell(f, articlesSheet, cellRef(col, row+2), v)
		}
	}
}

func (w *Writer) fillDetectedFields(f *excelize.File, data *models.StructuredData) {
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		w.logger.Warn("Failed to create sheet",
			zap.String("sheet", fieldsSheet), zap.Error(err))
		return
	}

	header := []string{"Catégorie", "Champ", "Valeur"}
	for i, title := range header {
		w.setCell(f, fieldsSheet, cellRef(i, 1), title)
	}

	row := 2
	for _, group := range fields.Categorize(data.CategorizedFields) {
		for _, field := range group.Fields {
			w.setCell(f, fieldsSheet, cellRef(0, row), group.Name)
			w.setCell(f, fieldsSheet, cellRef(1, row), field.Key)
			w.setCell(f, fieldsSheet, cellRef(2, row), field.Value)
			row++
		}
	}

	// Detected fields with no category land after the categorized ones.
	for _, field := range fields.OtherDetected(data.DetectedFields) {
		if _, categorized := lookupCategorized(data.CategorizedFields, field.Key); categorized {
			continue
		}
		w.setCell(f, fieldsSheet, cellRef(0, row), "other")
		w.setCell(f, fieldsSheet, cellRef(1, row), field.Key)
		w.setCell(f, fieldsSheet, cellRef(2, row), field.Value)
		row++
	}
}

// setCell sets a cell value, logging instead of failing on bad coordinates.
func (w *Writer) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		w.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}

// cellRef converts zero-based column and one-based row to an A1 reference.
func cellRef(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return ""
	}
	return name
}

func lookupCategorized(categorized map[string]map[string]string, key string) (string, bool) {
	for category, entries := range categorized {
		if _, ok := entries[key]; ok {
			return category, true
		}
	}
	return "", false
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func numeroFacture(data *models.StructuredData) string {
	if data == nil {
		return ""
	}
	return data.NumeroFacture
}

func totalTTC(data *models.StructuredData) float64 {
	if data == nil {
		return 0
	}
	return data.TotalTTC
}
