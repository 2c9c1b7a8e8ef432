package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/maximeduval/invoiceml/internal/config"
	"github.com/maximeduval/invoiceml/internal/export"
	"github.com/maximeduval/invoiceml/internal/fields"
	"github.com/maximeduval/invoiceml/internal/gateway"
	"github.com/maximeduval/invoiceml/internal/models"
	"github.com/maximeduval/invoiceml/internal/reconcile"
	"github.com/maximeduval/invoiceml/internal/session"
	"github.com/maximeduval/invoiceml/pkg/utils"
)

const usage = `Usage: invoicectl <command> [flags]

Commands:
  upload              upload a document and optionally watch extraction
  watch               follow the extraction of an existing invoice
  list                list invoices known to the server
  show                print one invoice's structured data
  delete              delete an invoice
  extract             re-run extraction on an existing invoice
  annotate            apply a corrections JSON file and submit the annotation
  export              write one invoice as an XLSX workbook
  export-annotations  dump all server-side corrections as XLSX
  model-info          print extraction model status and training stats
  reset-model         discard the fine-tuned model

Run 'invoicectl <command> -h' for command flags.`

// app bundles everything a subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *gateway.Client
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	// A .env next to the binary is a convenience, not a requirement.
	_ = gotenv.Load()

	cmd, args := os.Args[1], os.Args[2:]
	run, ok := commands()[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "invoicectl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func commands() map[string]func([]string) error {
	return map[string]func([]string) error{
		"upload":             cmdUpload,
		"watch":              cmdWatch,
		"list":               cmdList,
		"show":               cmdShow,
		"delete":             cmdDelete,
		"extract":            cmdExtract,
		"annotate":           cmdAnnotate,
		"export":             cmdExport,
		"export-annotations": cmdExportAnnotations,
		"model-info":         cmdModelInfo,
		"reset-model":        cmdResetModel,
	}
}

// newFlagSet creates a subcommand flag set with the shared -config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (optional)")
	return fs, configPath
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
	}, logger)

	return &app{cfg: cfg, logger: logger, client: client}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func cmdUpload(args []string) error {
	fs, configPath := newFlagSet("upload")
	watch := fs.Bool("watch", false, "wait for extraction to finish")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("expected at least one file argument")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	// Several files go through the batch endpoint; extraction is then
	// followed per invoice with the watch command.
	if fs.NArg() > 1 {
		return batchUpload(a, fs.Args())
	}
	path := fs.Arg(0)

	ctrl := session.NewController(a.client, session.Config{
		PollInterval: a.cfg.Poll.Interval,
	}, a.logger)

	ctx := context.Background()
	if err := ctrl.Submit(ctx, path); err != nil {
		return err
	}

	invoice := ctrl.Snapshot()
	fmt.Printf("invoice %d uploaded (status %s)\n", invoice.ID, invoice.Status)

	if !*watch {
		ctrl.Cancel()
		return nil
	}
	return waitAndReport(ctx, ctrl)
}

func batchUpload(a *app, paths []string) error {
	files := make(map[string]io.Reader, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer f.Close()
		files[filepath.Base(path)] = f
	}

	invoices, err := a.client.BatchUpload(context.Background(), files)
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		fmt.Printf("invoice %d uploaded (status %s)\n", inv.ID, inv.Status)
	}
	return nil
}

func cmdWatch(args []string) error {
	fs, configPath := newFlagSet("watch")
	id := fs.Int64("id", 0, "invoice id")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctrl := session.NewController(a.client, session.Config{
		PollInterval: a.cfg.Poll.Interval,
	}, a.logger)

	ctx := context.Background()
	if err := ctrl.Load(ctx, *id); err != nil {
		return err
	}
	return waitAndReport(ctx, ctrl)
}

func waitAndReport(ctx context.Context, ctrl *session.Controller) error {
	state, err := ctrl.Wait(ctx)
	if err != nil {
		return fmt.Errorf("extraction did not finish: %w", err)
	}
	fmt.Printf("extraction finished: %s\n", state)

	invoice := ctrl.Snapshot()
	if data := invoice.StructuredData(); data != nil {
		printStructuredData(data)
	}
	return nil
}

func cmdList(args []string) error {
	fs, configPath := newFlagSet("list")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	invoices, err := a.client.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFILE\tUPLOADED")
	for _, inv := range invoices {
		uploaded := ""
		if !inv.UploadedAt.IsZero() {
			uploaded = inv.UploadedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", inv.ID, inv.Status, filepath.Base(inv.File), uploaded)
	}
	return w.Flush()
}

func cmdShow(args []string) error {
	fs, configPath := newFlagSet("show")
	id := fs.Int64("id", 0, "invoice id")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	invoice, err := a.client.Get(context.Background(), *id)
	if err != nil {
		return err
	}

	fmt.Printf("invoice %d  status=%s  file=%s\n", invoice.ID, invoice.Status, filepath.Base(invoice.File))
	if invoice.ExtractedContent != nil && invoice.ExtractedContent.Error != "" {
		fmt.Printf("extraction error: %s\n", invoice.ExtractedContent.Error)
	}
	if data := invoice.StructuredData(); data != nil {
		printStructuredData(data)
	}
	return nil
}

func cmdDelete(args []string) error {
	fs, configPath := newFlagSet("delete")
	id := fs.Int64("id", 0, "invoice id")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.client.Delete(context.Background(), *id); err != nil {
		return err
	}
	fmt.Printf("invoice %d deleted\n", *id)
	return nil
}

func cmdExtract(args []string) error {
	fs, configPath := newFlagSet("extract")
	id := fs.Int64("id", 0, "invoice id")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.client.Extract(context.Background(), *id)
	if err != nil {
		return err
	}
	fmt.Printf("re-extraction started for invoice %d (status %s)\n", *id, result.Status)
	return nil
}

// cmdAnnotate loads the invoice's current extraction, applies a corrected
// StructuredData from a JSON file and submits both sides as an annotation.
func cmdAnnotate(args []string) error {
	fs, configPath := newFlagSet("annotate")
	id := fs.Int64("id", 0, "invoice id")
	file := fs.String("file", "", "path to corrections JSON (a structured-data document)")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	invoice, err := a.client.Get(ctx, *id)
	if err != nil {
		return err
	}
	original := invoice.StructuredData()
	if original == nil {
		return fmt.Errorf("invoice %d has no structured data to correct", *id)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read corrections: %w", err)
	}
	var corrected models.StructuredData
	if err := json.Unmarshal(raw, &corrected); err != nil {
		return fmt.Errorf("parse corrections: %w", err)
	}

	// Identifier typos in a correction would poison the training data.
	if corrected.Client.Siret != nil {
		if err := utils.ValidateSIRET(*corrected.Client.Siret); err != nil {
			return fmt.Errorf("corrections rejected: %w", err)
		}
	}
	if corrected.Client.TVA != nil {
		if err := utils.ValidateTVA(*corrected.Client.TVA); err != nil {
			return fmt.Errorf("corrections rejected: %w", err)
		}
	}

	rec := reconcile.NewReconciler(a.logger)
	rec.Load(original)
	if err := rec.ApplyCorrected(&corrected); err != nil {
		return err
	}

	submission, err := rec.BuildSubmission()
	if err != nil {
		return err
	}

	result, err := a.client.Annotate(ctx, *id, submission)
	if err != nil {
		return err
	}
	rec.Commit()
	fmt.Printf("annotation saved for invoice %d: %s\n", *id, result.Message)
	return nil
}

func cmdExport(args []string) error {
	fs, configPath := newFlagSet("export")
	id := fs.Int64("id", 0, "invoice id")
	out := fs.String("out", "", "output path (default <output_dir>/facture-<id>.xlsx)")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	invoice, err := a.client.Get(context.Background(), *id)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		if err := a.cfg.EnsureOutputDir(); err != nil {
			return err
		}
		path = filepath.Join(a.cfg.Export.OutputDir, fmt.Sprintf("facture-%d.xlsx", *id))
	}

	if err := export.NewWriter(a.logger).SaveInvoice(invoice, path); err != nil {
		return err
	}
	fmt.Printf("exported invoice %d to %s\n", *id, path)
	return nil
}

func cmdExportAnnotations(args []string) error {
	fs, configPath := newFlagSet("export-annotations")
	out := fs.String("out", "", "output path (default <output_dir>/annotations.xlsx)")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	dump, err := a.client.ExportAnnotations(context.Background())
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		if err := a.cfg.EnsureOutputDir(); err != nil {
			return err
		}
		path = filepath.Join(a.cfg.Export.OutputDir, "annotations.xlsx")
	}

	if err := export.NewWriter(a.logger).SaveAnnotations(dump, path); err != nil {
		return err
	}
	fmt.Printf("exported %d annotations to %s\n", dump.Count, path)
	return nil
}

func cmdModelInfo(args []string) error {
	fs, configPath := newFlagSet("model-info")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	info, err := a.client.ModelInfo(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("model available: %v (trained checkpoint exists: %v)\n",
		info.ModelAvailable, info.ModelExists)
	fmt.Printf("annotations: %d total, %d trained, %d untrained\n",
		info.Annotations.Total, info.Annotations.Trained, info.Annotations.Untrained)
	fmt.Printf("training jobs: %d total, %d completed, %d failed, %d pending\n",
		info.TrainingJobs.Total, info.TrainingJobs.Completed,
		info.TrainingJobs.Failed, info.TrainingJobs.PendingOrRunning)
	return nil
}

func cmdResetModel(args []string) error {
	fs, configPath := newFlagSet("reset-model")
	fs.Parse(args)

	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.client.ResetModel(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("model reset: %s\n", result.Message)
	return nil
}

func printStructuredData(data *models.StructuredData) {
	fmt.Println()
	if data.NumeroFacture != "" {
		fmt.Printf("numéro de facture: %s\n", data.NumeroFacture)
	}
	if data.DatePiece != "" {
		fmt.Printf("date: %s\n", data.DatePiece)
	}
	if data.Client.Societe != nil {
		fmt.Printf("client: %s\n", *data.Client.Societe)
	}

	if len(data.Articles) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ARTICLE\tQTE\tPRIX HT\tREMISE\tTOTAL HT\tTOTAL TTC")
		for _, a := range data.Articles {
			fmt.Fprintf(w, "%s\t%g\t%.2f\t%g%%\t%.2f\t%.2f\n",
				a.Nom, a.Quantite, a.PrixHT, a.Remise, a.TotalHT, a.TotalTTC)
		}
		w.Flush()
	}
	fmt.Printf("total HT %.2f  TVA %.2f  TTC %.2f\n", data.TotalHT, data.TotalTVA, data.TotalTTC)

	for _, group := range fields.Categorize(data.CategorizedFields) {
		if len(group.Fields) == 0 {
			continue
		}
		fmt.Printf("\n[%s]\n", group.Name)
		for _, f := range group.Fields {
			fmt.Printf("  %s: %s\n", f.Key, f.Value)
		}
	}
}
