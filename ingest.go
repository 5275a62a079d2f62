package main

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/retail-ingest/database"
	"github.com/fabfab/retail-ingest/ingestion"
	"github.com/fabfab/retail-ingest/pdftext"
)

var (
	ingestPlatform     string
	ingestDataset      string
	ingestBusinessUnit string
	ingestPeriodType   string
	ingestReportDate   string
	ingestPeriodStart  string
	ingestPeriodEnd    string
	ingestDryRun       bool
	ingestJSON         bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Decode, summarize and store a platform report",
	Long: `Decode a platform CSV export into normalized records, print its summary
and store the batch in Postgres. Re-ingesting a file with identical content is
skipped.

Examples:
  retail-ingest ingest --platform zepto --dataset inventory --report-date 2024-05-01 zepto.csv
  retail-ingest ingest --platform swiggy --dataset secondary_sales \
      --period-type range --period-start 2024-05-01 --period-end 2024-05-07 sales.csv
  retail-ingest ingest --dry-run --platform jiomart --dataset inventory stock.csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := loadEnv()
		if err != nil {
			return err
		}

		period, err := cliPeriod()
		if err != nil {
			return err
		}
		upload := ingestion.Upload{
			Platform:     ingestPlatform,
			Dataset:      ingestDataset,
			BusinessUnit: ingestBusinessUnit,
			Period:       period,
		}

		opts := []ingestion.Option{
			ingestion.WithObserver(func(e ingestion.Event) {
				env.logger.Debug().Str("stage", e.Stage).Str("batch", e.BatchID.String()).Int("count", e.Count).Msg("ingest progress")
			}),
		}

		var store ingestion.Store
		if !ingestDryRun {
			pool, err := env.postgres(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			store = database.NewPostgresStore(pool, env.logger)

			sink, driver, err := env.graph(ctx)
			if err != nil {
				return err
			}
			if sink != nil {
				defer driver.Close(ctx)
				opts = append(opts, ingestion.WithGraphSink(sink))
			}
		}

		svc := ingestion.NewService(store, env.logger, opts...)
		result, err := svc.IngestFile(ctx, args[0], upload)
		if err != nil {
			return err
		}
		return printResult(result)
	},
}

var pdfTextJSON bool

var pdfTextCmd = &cobra.Command{
	Use:   "pdf-text <file>",
	Short: "Print the reconstructed text of a PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnv()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}

		extractor := pdftext.NewExtractor(env.logger)
		extractor.OnPage = func(p pdftext.PageStats) {
			env.logger.Debug().Int("page", p.Number).Int("lines", p.Lines).Int("chars", p.Characters).Msg("page reconstructed")
		}
		doc, err := extractor.Extract(data)
		if err != nil {
			return err
		}

		if pdfTextJSON {
			return writeJSON(struct {
				*pdftext.Document
				PurchaseOrder ingestion.PurchaseOrder `json:"purchaseOrder"`
			}{doc, ingestion.ParsePurchaseOrder(doc.AllLines())})
		}
		_, err = fmt.Fprint(os.Stdout, doc.Text)
		return err
	},
}

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "List the supported platform reports and their columns",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range ingestion.Schemas() {
			fmt.Printf("%s/%s (key: %s)\n", s.Platform, s.Dataset, s.Key)
			for _, f := range s.Fields {
				fmt.Printf("  %-22s %-7s %s\n", f.Name, f.Kind, strings.Join(f.Headers, " | "))
			}
		}
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestPlatform, "platform", "", "source platform: bigbasket, jiomart, swiggy or zepto")
	f.StringVar(&ingestDataset, "dataset", ingestion.DatasetInventory, "report dataset, e.g. inventory or secondary_sales")
	f.StringVar(&ingestBusinessUnit, "business-unit", "", "business unit the report belongs to")
	f.StringVar(&ingestPeriodType, "period-type", ingestion.PeriodDaily, "daily or range")
	f.StringVar(&ingestReportDate, "report-date", "", "report date for daily periods (YYYY-MM-DD, default today)")
	f.StringVar(&ingestPeriodStart, "period-start", "", "range start (YYYY-MM-DD)")
	f.StringVar(&ingestPeriodEnd, "period-end", "", "range end (YYYY-MM-DD)")
	f.BoolVar(&ingestDryRun, "dry-run", false, "decode and summarize without storing")
	f.BoolVar(&ingestJSON, "json", false, "print the result as JSON")
	_ = ingestCmd.MarkFlagRequired("platform")

	pdfTextCmd.Flags().BoolVar(&pdfTextJSON, "json", false, "print pages, lines, document info and purchase-order items as JSON")

	rootCmd.AddCommand(ingestCmd, pdfTextCmd, schemasCmd)
}

func cliPeriod() (ingestion.Period, error) {
	p := ingestion.Period{Type: strings.ToLower(ingestPeriodType)}
	parse := func(name, v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", name, err)
		}
		return t, nil
	}

	var err error
	if p.ReportDate, err = parse("report-date", ingestReportDate); err != nil {
		return p, err
	}
	if p.Start, err = parse("period-start", ingestPeriodStart); err != nil {
		return p, err
	}
	if p.End, err = parse("period-end", ingestPeriodEnd); err != nil {
		return p, err
	}
	if p.Type == ingestion.PeriodDaily && p.ReportDate.IsZero() {
		y, m, d := time.Now().Date()
		p.ReportDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return p, nil
}

func printResult(result *ingestion.Result) error {
	b := result.Batch
	if ingestJSON {
		return writeJSON(map[string]any{
			"batchId":   b.ID.String(),
			"platform":  b.Platform,
			"dataset":   b.Dataset,
			"source":    b.SourceName,
			"records":   len(b.Records),
			"dropped":   b.Dropped,
			"duplicate": result.Duplicate,
			"stored":    result.Stored,
			"summary":   b.Summary,
		})
	}

	status := "dry run"
	switch {
	case result.Duplicate:
		status = "already ingested"
	case result.Stored:
		status = "stored as " + b.ID.String()
	}
	fmt.Printf("%s/%s %s: %d records, %d dropped (%s)\n", b.Platform, b.Dataset, b.SourceName, len(b.Records), b.Dropped, status)
	for _, name := range slices.Sorted(maps.Keys(b.Summary.Sums)) {
		fmt.Printf("  %-20s %.2f\n", name, b.Summary.Sums[name])
	}
	for _, name := range slices.Sorted(maps.Keys(b.Summary.Distinct)) {
		fmt.Printf("  %-20s %d\n", name, b.Summary.Distinct[name])
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
