package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/infoburn/internal/async"
	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/emit"
	"github.com/joseph-ayodele/infoburn/internal/entity"
	"github.com/joseph-ayodele/infoburn/internal/export"
	"github.com/joseph-ayodele/infoburn/internal/ingest"
	"github.com/joseph-ayodele/infoburn/internal/repository"
	"github.com/joseph-ayodele/infoburn/internal/schema"
)

// Deps are the collaborators behind both surfaces.
type Deps struct {
	Ingestor *ingest.Ingestor
	Queue    async.Queue
	Records  repository.RecordStore
	Attempts repository.AttemptRepository
	Registry *schema.Registry
	Export   *export.Service
	// Health reports storage health; nil means always healthy.
	Health func(ctx context.Context) error
}

// HTTPServer serves the ingestion and query API.
type HTTPServer struct {
	deps   Deps
	logger *slog.Logger
}

func NewHTTPServer(deps Deps, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{deps: deps, logger: logger}
}

// Router builds the chi router with every route mounted.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	s.RegisterHTTP(r)
	return r
}

func (s *HTTPServer) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cases/{caseID}/documents", s.handleSubmit)
		r.Post("/cases/{caseID}/process", s.handleProcess)
		r.Get("/cases/{caseID}/records/{schema}/{version}", s.handleRecord)
		r.Get("/cases/{caseID}/attempts/{schema}/{version}", s.handleAttempts)
		r.Get("/schemas", s.handleSchemas)
		r.Get("/schemas/{schema}/{version}/jsonschema", s.handleJSONSchema)
		r.Get("/export.xlsx", s.handleExport)
	})
}

// requestContext copies chi's request id and the case id into the context
// keys the rest of the code logs with.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = common.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type submitResponse struct {
	Accepted     bool                `json:"accepted"`
	Reason       ingest.RejectReason `json:"reason,omitempty"`
	Detail       string              `json:"detail,omitempty"`
	DocumentID   string              `json:"document_id,omitempty"`
	Kind         string              `json:"kind,omitempty"`
	ContentHash  string              `json:"content_hash,omitempty"`
	Deduplicated bool                `json:"deduplicated"`
}

func toSubmitResponse(res ingest.Result) submitResponse {
	out := submitResponse{Accepted: res.Accepted, Reason: res.Reason, Detail: res.Detail, Deduplicated: res.Deduplicated}
	if res.Accepted {
		out.DocumentID = res.Document.ID.String()
		out.Kind = string(res.Document.Kind)
		out.ContentHash = res.Document.ContentHash
	}
	return out
}

// POST /api/v1/cases/{caseID}/documents?kind=&filename=
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	ctx := common.WithCaseID(r.Context(), caseID)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ingest.DefaultMaxBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, submitResponse{Reason: ingest.RejectTooLarge, Detail: "document exceeds the size limit"})
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	res, err := s.deps.Ingestor.Submit(ctx, ingest.Submission{
		CaseID:    caseID,
		Kind:      r.URL.Query().Get("kind"),
		MediaType: r.Header.Get("Content-Type"),
		Filename:  r.URL.Query().Get("filename"),
		Content:   body,
	})
	if err != nil {
		s.fail(ctx, w, err)
		return
	}
	status := http.StatusCreated
	switch {
	case !res.Accepted && res.Reason == ingest.RejectUnsupportedMedia:
		status = http.StatusUnsupportedMediaType
	case !res.Accepted:
		status = http.StatusUnprocessableEntity
	case res.Deduplicated:
		status = http.StatusOK
	}
	writeJSON(w, status, toSubmitResponse(res))
}

// POST /api/v1/cases/{caseID}/process?force=
func (s *HTTPServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")
	if v := common.ValidateCaseID(caseID); v.HasErrors() {
		writeError(w, http.StatusBadRequest, v.ErrorMessage())
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	queued, err := s.deps.Queue.Enqueue(r.Context(), async.Job{
		CaseID:  caseID,
		Force:   force,
		TraceID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		if errors.Is(err, async.ErrQueueClosed) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"case_id": caseID, "queued": queued, "force": force})
}

func schemaRef(r *http.Request) (entity.SchemaRef, error) {
	v, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || v < 1 {
		return entity.SchemaRef{}, common.ErrInvalidInput
	}
	return entity.SchemaRef{Name: chi.URLParam(r, "schema"), Version: v}, nil
}

type recordResponse struct {
	CaseID         string          `json:"case_id"`
	Schema         string          `json:"schema"`
	Source         string          `json:"source"`
	AttemptOrdinal int             `json:"attempt_ordinal,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Record         json.RawMessage `json:"record"`
}

// GET /api/v1/cases/{caseID}/records/{schema}/{version}
func (s *HTTPServer) handleRecord(w http.ResponseWriter, r *http.Request) {
	ref, err := schemaRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	rec, err := s.deps.Records.Get(r.Context(), chi.URLParam(r, "caseID"), ref)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	data, err := emit.Canonical(rec.Data)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{
		CaseID:         rec.CaseID,
		Schema:         rec.Schema.String(),
		Source:         string(rec.Source),
		AttemptOrdinal: rec.AttemptOrdinal,
		CreatedAt:      rec.CreatedAt.UTC(),
		Record:         data,
	})
}

// GET /api/v1/cases/{caseID}/attempts/{schema}/{version}
func (s *HTTPServer) handleAttempts(w http.ResponseWriter, r *http.Request) {
	ref, err := schemaRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	list, err := s.deps.Attempts.List(r.Context(), chi.URLParam(r, "caseID"), ref)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	if list == nil {
		list = []entity.ExtractionAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": list})
}

// GET /api/v1/schemas
func (s *HTTPServer) handleSchemas(w http.ResponseWriter, r *http.Request) {
	type item struct {
		Name        string `json:"name"`
		Version     int    `json:"version"`
		Description string `json:"description,omitempty"`
	}
	var out []item
	for _, ref := range s.deps.Registry.List() {
		sch, err := s.deps.Registry.Get(ref)
		if err != nil {
			continue
		}
		out = append(out, item{Name: ref.Name, Version: ref.Version, Description: sch.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": out})
}

// GET /api/v1/schemas/{schema}/{version}/jsonschema
func (s *HTTPServer) handleJSONSchema(w http.ResponseWriter, r *http.Request) {
	ref, err := schemaRef(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	sch, err := s.deps.Registry.Get(ref)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(sch.JSONSchema())
}

// GET /api/v1/export.xlsx?case=
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	caseID := r.URL.Query().Get("case")
	data, err := s.deps.Export.ExportXLSX(r.Context(), caseID)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="infoburn.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps domain errors onto HTTP status codes.
func (s *HTTPServer) fail(ctx context.Context, w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrSchemaNotFound):
		code = http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		common.LoggerFrom(ctx, s.logger).Error("http.request_failed", "error", err)
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
