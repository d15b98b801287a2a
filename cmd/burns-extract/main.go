package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/app"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/extract"
)

// burns-extract re-runs extraction for one stored case several times with
// force set, to see how stable the model output is across runs. Records are
// write-once, so only the first run can store one; every run still lands in
// the attempt trail.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: burns-extract <case_id> [times]")
		os.Exit(2)
	}
	caseID := os.Args[1]
	times := 3
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.LLM.APIKey == "" {
		logger.Error("OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(times)*cfg.Pipeline.CaseTimeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("build pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(common.WithCaseID(ctx, caseID), cfg.Pipeline.CaseTimeout)
		logger.Info("extract.run.start", "iter", i, "case_id", caseID)

		res, err := a.Processor.ProcessCase(runCtx, caseID, true)
		cancelRun()

		var failure *extract.CaseFailure
		switch {
		case errors.As(err, &failure):
			logger.Error("extract.run.failed", "iter", i, "report", failure.Report())
		case err != nil:
			logger.Error("extract.run.error", "iter", i, "error", err)
		default:
			for _, o := range res.Outcomes {
				logger.Info("extract.run.ok", "iter", i, "schema", o.Schema.String(),
					"state", o.State, "attempts", len(o.Attempts), "elapsed_ms", res.Elapsed.Milliseconds())
			}
		}

		time.Sleep(750 * time.Millisecond)
	}

	logger.Info("done", "case_id", caseID, "times", times)
}
