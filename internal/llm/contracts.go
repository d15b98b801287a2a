package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// ExtractRequest is one extraction call. Text is already anonymized.
type ExtractRequest struct {
	CaseID      string
	Schema      entity.SchemaRef
	Description string
	JSONSchema  map[string]any
	Text        string
	// Hints are the FieldErrors of the previous attempt, empty on the first.
	Hints   []entity.FieldError
	Attempt int
}

// Extractor is the model-driven extraction boundary. It returns the raw
// untyped tree; validation is the caller's job.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (any, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, req ExtractRequest) (any, error)

func (f ExtractorFunc) Extract(ctx context.Context, req ExtractRequest) (any, error) {
	return f(ctx, req)
}

// ErrTransport matches every *TransportError.
var ErrTransport = errors.New("extractor transport failure")

// TransportError means the extractor could not be reached or answered with
// something other than model output. It is not retried on validation grounds.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError means the model answered but not with a JSON object. The
// orchestrator treats it as a validation failure at "$".
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "model output is not a JSON object: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
