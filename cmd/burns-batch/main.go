package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/joseph-ayodele/infoburn/internal/app"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/extract"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir     = flag.String("dir", "", "directory of case documents to ingest")
		sheetIn = flag.String("sheet", "", "admission sheet (.xlsx or .csv) to import")
		dbURL   = flag.String("db", "", "database DSN (defaults to DB_URL)")
		inmem   = flag.Bool("inmem", false, "use in-memory SQLite database")
		out     = flag.String("out", "", "output XLSX file path (defaults next to --dir)")
		force   = flag.Bool("force", false, "re-extract schemas that already have a record")
		debug   = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	if *dir == "" && *sheetIn == "" {
		printError("Error: --dir or --sheet is required\n")
		os.Exit(1)
	}
	if *out == "" {
		base := *dir
		if base == "" {
			base = *sheetIn
		}
		*out = filepath.Join(filepath.Dir(filepath.Clean(base)), "infoburn.xlsx")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx := context.Background()

	cfg := common.LoadConfig()
	switch {
	case *inmem:
		cfg.Database.DSN = "file::memory:"
	case *dbURL != "":
		cfg.Database.DSN = *dbURL
	}
	if *dir != "" && cfg.LLM.APIKey == "" {
		printError("Error: OPENAI_API_KEY is required to extract case documents\n")
		os.Exit(2)
	}

	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *sheetIn != "" {
		report, err := a.Importer.ImportFile(ctx, *sheetIn)
		if err != nil {
			logger.Error("failed to import sheet", "path", *sheetIn, "error", err)
			os.Exit(1)
		}
		for _, rej := range report.Rejected {
			logger.Warn("sheet row rejected", "line", rej.Line, "id", rej.ID, "field_errors", len(rej.FieldErrors), "error", rej.Error)
		}
		logger.Info("sheet import complete",
			"rows", report.Rows,
			"imported", report.Imported,
			"existing", report.Existing,
			"rejected", len(report.Rejected),
			"ignored_columns", report.Ignored)
	}

	processed, failures := 0, 0
	if *dir != "" {
		logger.Info("starting ingestion", "dir", *dir)
		results, stats, err := a.Ingestor.IngestDirectory(ctx, *dir, true)
		if err != nil {
			logger.Error("failed to ingest directory", "error", err)
			os.Exit(1)
		}
		logger.Info("ingestion complete",
			"scanned", stats.Scanned,
			"matched", stats.Matched,
			"accepted", stats.Accepted,
			"deduplicated", stats.Deduplicated,
			"rejected", stats.Rejected,
			"failed", stats.Failed)

		seen := map[string]bool{}
		var cases []string
		for _, r := range results {
			if r.Err == "" && r.Result.Accepted && !seen[r.CaseID] {
				seen[r.CaseID] = true
				cases = append(cases, r.CaseID)
			}
		}
		sort.Strings(cases)

		for _, caseID := range cases {
			res, err := a.Processor.ProcessCase(common.WithCaseID(ctx, caseID), caseID, *force)
			if err != nil {
				failures++
				var failure *extract.CaseFailure
				if errors.As(err, &failure) {
					printError("%s\n", failure.Report())
				} else {
					logger.Error("failed to process case", "case_id", caseID, "error", err)
				}
				continue
			}
			processed++
			logger.Info("case processed", "case_id", caseID, "documents", res.Documents,
				"warnings", len(res.Warnings), "elapsed_ms", res.Elapsed.Milliseconds())
		}
	}

	logger.Info("exporting to XLSX", "output", *out)
	data, err := a.Export.ExportXLSX(ctx, "")
	if err != nil {
		logger.Error("failed to export records", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.Error("failed to write output file", "error", err)
		os.Exit(1)
	}

	logger.Info("batch processing complete",
		"cases_processed", processed,
		"failures", failures,
		"output_file", *out)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Cases processed: %d\n", processed)
	fmt.Printf("- Failures: %d\n", failures)
	fmt.Printf("- Output: %s\n", *out)
	if failures > 0 {
		a.Close()
		os.Exit(3)
	}
}
