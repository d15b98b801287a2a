package extract

import (
	"fmt"
	"strings"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// CaseFailure is the case-fatal result of an extraction. Attempts is the
// complete ordered audit trail for the case and schema, earlier runs
// included, so an operator can tell a consistently wrong field from a
// transient transport issue.
type CaseFailure struct {
	CaseID   string
	Schema   entity.SchemaRef
	Cause    error
	Attempts []entity.ExtractionAttempt
}

func (e *CaseFailure) Error() string {
	return fmt.Sprintf("extract %s for case %s failed after %d attempts: %v", e.Schema, e.CaseID, len(e.Attempts), e.Cause)
}

func (e *CaseFailure) Unwrap() error { return e.Cause }

// FieldErrors flattens every attempt's errors in attempt order.
func (e *CaseFailure) FieldErrors() []entity.FieldError {
	var out []entity.FieldError
	for _, a := range e.Attempts {
		out = append(out, a.FieldErrors...)
	}
	return out
}

// Report renders the attempt history one line per attempt and one indented
// line per field error.
func (e *CaseFailure) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "case %s, schema %s: %v\n", e.CaseID, e.Schema, e.Cause)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "attempt %d %s", a.Ordinal, a.Outcome)
		if a.Error != "" {
			fmt.Fprintf(&b, ": %s", a.Error)
		}
		b.WriteByte('\n')
		for _, fe := range a.FieldErrors {
			fmt.Fprintf(&b, "  %s\n", fe.Error())
		}
	}
	return b.String()
}
