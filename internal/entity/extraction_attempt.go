package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
)

// ExtractionAttempt is one audited extractor invocation. Rows are append-only.
type ExtractionAttempt struct {
	ID          uuid.UUID                `json:"id"`
	CaseID      string                   `json:"case_id"`
	Schema      SchemaRef                `json:"schema"`
	Ordinal     int                      `json:"ordinal"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
	Outcome     constants.AttemptOutcome `json:"outcome"`
	FieldErrors []FieldError             `json:"field_errors,omitempty"`
	Error       string                   `json:"error,omitempty"`
	HintCount   int                      `json:"hint_count"`
}
