package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"

	"github.com/joseph-ayodele/infoburn/internal/app"
	"github.com/joseph-ayodele/infoburn/internal/async"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/extract"
	"github.com/joseph-ayodele/infoburn/internal/ingest"
	"github.com/joseph-ayodele/infoburn/internal/pipeline"
	svc "github.com/joseph-ayodele/infoburn/internal/server"
)

func main() {
	// Messages with variables but no time/level; the supervisor stamps both.
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	queue := async.NewCaseQueue(a.Processor, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithCaseTimeout(cfg.Pipeline.CaseTimeout),
		async.WithOnDone(func(job async.Job, res pipeline.CaseResult, err error) {
			var failure *extract.CaseFailure
			if errors.As(err, &failure) {
				logger.Warn("case.report", "case_id", job.CaseID, "report", failure.Report())
			}
		}),
	)

	enqueue := func(caseID string) {
		if _, err := queue.Enqueue(ctx, async.Job{CaseID: caseID}); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("failed to enqueue case", "case_id", caseID, "error", err)
		}
	}

	if cfg.Paths.InboxDir != "" {
		go func() {
			err := a.Ingestor.Watch(ctx, ingest.WatchConfig{
				Roots:       []string{cfg.Paths.InboxDir},
				InitialScan: true,
				Debounce:    500 * time.Millisecond,
			}, enqueue)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("inbox watcher stopped", "dir", cfg.Paths.InboxDir, "error", err)
			}
		}()
	}

	sched := cron.New()
	if cfg.Sheet.Path != "" {
		if _, err := sched.AddFunc(cfg.Sheet.Cron, func() {
			report, err := a.Importer.ImportFile(ctx, cfg.Sheet.Path)
			if err != nil {
				logger.Error("sheet import failed", "path", cfg.Sheet.Path, "error", err)
				return
			}
			logger.Info("sheet.imported", "path", report.Path, "rows", report.Rows,
				"imported", report.Imported, "existing", report.Existing, "rejected", len(report.Rejected))
		}); err != nil {
			logger.Error("invalid SHEET_CRON", "schedule", cfg.Sheet.Cron, "error", err)
			os.Exit(2)
		}
	}
	if _, err := sched.AddFunc(cfg.Sheet.SweepCron, func() {
		cases, err := a.Processor.PendingCases(ctx)
		if err != nil {
			logger.Error("pending sweep failed", "error", err)
			return
		}
		for _, id := range cases {
			enqueue(id)
		}
		logger.Info("sweep.enqueued", "cases", len(cases))
	}); err != nil {
		logger.Error("invalid SWEEP_CRON", "schedule", cfg.Sheet.SweepCron, "error", err)
		os.Exit(2)
	}
	sched.Start()

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:              listenAddr(cfg.Server.HTTPAddr),
			Handler:           svc.NewHTTPServer(a.Deps(queue), logger).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("http listening", "addr", httpServer.Addr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		addr := listenAddr(cfg.Server.GRPCAddr)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", addr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		health := svc.Register(grpcServer, svc.NewPipelineService(a.Ingestor, queue, logger))
		// The registry loaded inside app.Build, so the pipeline can serve now.
		svc.MarkServing(health)
		logger.Info("grpc listening", "addr", addr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	<-sched.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	queue.Shutdown(shutdownCtx)
}

func listenAddr(addr string) string {
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}
