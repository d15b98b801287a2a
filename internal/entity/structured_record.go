package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
)

// StructuredRecord is a validated schema instance. Immutable once built.
type StructuredRecord struct {
	ID             uuid.UUID              `json:"id"`
	CaseID         string                 `json:"case_id"`
	Schema         SchemaRef              `json:"schema"`
	AttemptID      *uuid.UUID             `json:"attempt_id"`
	AttemptOrdinal int                    `json:"attempt_ordinal"`
	Source         constants.RecordSource `json:"source"`
	CreatedAt      time.Time              `json:"created_at"`
	Data           map[string]any         `json:"record"`
}
