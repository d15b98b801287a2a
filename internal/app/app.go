package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/anonymize"
	"github.com/joseph-ayodele/infoburn/internal/async"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/emit"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/export"
	"github.com/joseph-ayodele/infoburn/internal/extract"
	"github.com/joseph-ayodele/infoburn/internal/ingest"
	"github.com/joseph-ayodele/infoburn/internal/llm"
	"github.com/joseph-ayodele/infoburn/internal/llm/openai"
	"github.com/joseph-ayodele/infoburn/internal/merge"
	"github.com/joseph-ayodele/infoburn/internal/normalize"
	"github.com/joseph-ayodele/infoburn/internal/pipeline"
	repo "github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
	"github.com/joseph-ayodele/infoburn/internal/server"
	"github.com/joseph-ayodele/infoburn/internal/sheet"
)

// App is every long-lived component both binaries share.
type App struct {
	DB        *repo.DB
	Registry  *schema.Registry
	Docs      repo.DocumentRepository
	Records   repo.RecordStore
	Attempts  repo.AttemptRepository
	Emitter   *emit.Emitter
	Processor *pipeline.Processor
	Ingestor  *ingest.Ingestor
	Importer  *sheet.Importer
	Export    *export.Service

	closeStore func()
	logger     *slog.Logger
}

// Build loads rules and schemas, connects storage and wires the pipeline.
// A nil extractor means the OpenAI-compatible client from cfg.LLM.
func Build(ctx context.Context, cfg *common.Config, extractor llm.Extractor, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules := common.DefaultRules()
	if cfg.Paths.RulesFile != "" {
		loaded, err := common.LoadRules(cfg.Paths.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	reg, err := schema.LoadRegistry(cfg.Paths.SchemaDir, logger)
	if err != nil {
		return nil, err
	}
	refs, err := resolveSchemas(reg, cfg.Pipeline.Schemas)
	if err != nil {
		return nil, err
	}

	merger, err := merge.NewMerger(rules.Boilerplate, logger)
	if err != nil {
		return nil, err
	}
	anon, err := anonymize.FromRules(rules.Anonymizer, logger)
	if err != nil {
		return nil, err
	}

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	records, closeStore, err := server.OpenRecordStore(ctx, cfg.Store, db, logger)
	if err != nil {
		db.Close(logger)
		return nil, err
	}

	if extractor == nil {
		extractor = openai.NewClient(openai.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			Temperature:       cfg.LLM.Temperature,
			Timeout:           cfg.LLM.Timeout,
			RequestsPerMinute: cfg.LLM.RateLimitRPM,
		}, logger)
	}

	docs := repo.NewDocumentRepository(db, logger)
	attempts := repo.NewAttemptRepository(db, logger)
	emitter := emit.NewEmitter(reg, records, logger)
	orch := extract.NewOrchestrator(reg, extractor, attempts, records, emitter, extract.Config{
		MaxAttempts:    cfg.Pipeline.MaxAttempts,
		AttemptCeiling: cfg.Pipeline.AttemptCeiling,
		AttemptTimeout: cfg.Pipeline.AttemptTimeout,
	}, logger)

	a := &App{
		DB:         db,
		Registry:   reg,
		Docs:       docs,
		Records:    records,
		Attempts:   attempts,
		Emitter:    emitter,
		Processor:  pipeline.NewProcessor(docs, records, normalize.NewNormalizer(logger), merger, anon, orch, refs, logger),
		Ingestor:   ingest.NewIngestor(docs, logger),
		Importer:   sheet.NewImporter(reg, emitter, logger),
		Export:     export.NewService(records, attempts, logger),
		closeStore: closeStore,
		logger:     logger,
	}
	logger.Info("app.ready", "schemas", len(refs), "store", cfg.Store.Kind, "dialect", db.Dialect())
	return a, nil
}

// Health reports database reachability for /healthz.
func (a *App) Health(ctx context.Context) error {
	return a.DB.HealthCheck(ctx, 2*time.Second, a.logger)
}

// Deps returns the collaborators the HTTP surface needs.
func (a *App) Deps(queue async.Queue) server.Deps {
	return server.Deps{
		Ingestor: a.Ingestor,
		Queue:    queue,
		Records:  a.Records,
		Attempts: a.Attempts,
		Registry: a.Registry,
		Export:   a.Export,
		Health:   a.Health,
	}
}

func (a *App) Close() {
	if a.closeStore != nil {
		a.closeStore()
	}
	a.DB.Close(a.logger)
}

// resolveSchemas parses "name@version" refs and checks each is registered.
func resolveSchemas(reg *schema.Registry, names []string) ([]entity.SchemaRef, error) {
	refs := make([]entity.SchemaRef, 0, len(names))
	for _, name := range names {
		ref, err := entity.ParseSchemaRef(name)
		if err != nil {
			return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("invalid schema ref %q", name), err)
		}
		sch, err := reg.Get(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", common.ErrRegistryLoad, err)
		}
		refs = append(refs, sch.Ref())
	}
	return refs, nil
}
