package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/infoburn/constants"
)

// SourceDocument is one ingested document. Immutable once ingested.
type SourceDocument struct {
	ID          uuid.UUID              `json:"id"`
	CaseID      string                 `json:"case_id"`
	Kind        constants.DocumentKind `json:"kind"`
	MediaType   string                 `json:"media_type"`
	Filename    string                 `json:"filename,omitempty"`
	Content     []byte                 `json:"-"`
	ContentHash string                 `json:"content_hash"`
	IngestedAt  time.Time              `json:"ingested_at"`
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
