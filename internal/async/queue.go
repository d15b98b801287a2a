package async

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Shutdown started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks for one pass over a case.
type Job struct {
	CaseID      string
	Force       bool // re-extract even if records exist
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	// Enqueue reports false when the case was already waiting and the job
	// was folded into the queued one.
	Enqueue(ctx context.Context, job Job) (bool, error)
	Shutdown(ctx context.Context)
}
