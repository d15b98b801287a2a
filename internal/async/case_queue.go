package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/extract"
	"github.com/joseph-ayodele/infoburn/internal/pipeline"
)

// CaseProcessor runs one case; *pipeline.Processor implements it.
type CaseProcessor interface {
	ProcessCase(ctx context.Context, caseID string, force bool) (pipeline.CaseResult, error)
}

// DoneFunc observes every finished job.
type DoneFunc func(job Job, res pipeline.CaseResult, err error)

// CaseQueue is a worker pool over cases. A case waiting in the queue is
// queued once; later enqueues fold into it and OR their Force flag.
type CaseQueue struct {
	proc    CaseProcessor
	logger  *slog.Logger
	workers int
	timeout time.Duration
	onDone  DoneFunc

	ch      chan string
	wg      sync.WaitGroup
	senders sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	closed  bool
	pending map[string]*waiting
}

// waiting is a case held for a worker. joined counts enqueues folded into it
// while its sender was still blocked on a full queue.
type waiting struct {
	job    Job
	joined int
}

type Option func(*CaseQueue)

func WithWorkers(n int) Option {
	return func(q *CaseQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *CaseQueue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

// WithCaseTimeout bounds one pass over a case.
func WithCaseTimeout(d time.Duration) Option {
	return func(q *CaseQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithOnDone(fn DoneFunc) Option {
	return func(q *CaseQueue) {
		q.onDone = fn
	}
}

func NewCaseQueue(proc CaseProcessor, logger *slog.Logger, opts ...Option) *CaseQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &CaseQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan string, 256),
		pending: map[string]*waiting{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *CaseQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for caseID := range q.ch {
					q.run(workerID, caseID)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *CaseQueue) run(workerID int, caseID string) {
	q.mu.Lock()
	w, ok := q.pending[caseID]
	delete(q.pending, caseID)
	q.mu.Unlock()
	if !ok {
		return
	}
	job := w.job

	ctx := common.WithCaseID(context.Background(), caseID)
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	res, err := q.proc.ProcessCase(ctx, caseID, job.Force)
	cancel()

	logger := common.LoggerFrom(ctx, q.logger).With("worker_id", workerID)
	var failure *extract.CaseFailure
	switch {
	case errors.As(err, &failure):
		logger.Error("case.failed", "error", err, "report", failure.Report())
	case err != nil:
		logger.Error("case.failed", "error", err)
	default:
		logger.Info("case.processed", "elapsed_ms", res.Elapsed.Milliseconds(), "queued_ms", time.Since(job.SubmittedAt).Milliseconds())
	}
	if q.onDone != nil {
		q.onDone(job, res, err)
	}
}

func (q *CaseQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.CaseID == "" {
		return false, common.ErrInvalidInput
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "case_id", job.CaseID)
		return false, ErrQueueClosed
	}
	if queued, ok := q.pending[job.CaseID]; ok {
		queued.job.Force = queued.job.Force || job.Force
		queued.joined++
		q.mu.Unlock()
		q.logger.Debug("case already queued", "case_id", job.CaseID)
		return false, nil
	}
	w := &waiting{job: job}
	q.pending[job.CaseID] = w
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- job.CaseID:
		q.logger.Info("queued case for processing", "case_id", job.CaseID, "force", job.Force)
		return true, nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "case_id", job.CaseID)
	select {
	case q.ch <- job.CaseID:
		return true, nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if w.joined == 0 {
			if q.pending[job.CaseID] == w {
				delete(q.pending, job.CaseID)
			}
			return false, ctx.Err()
		}
		// Other callers were told the case is queued; finish the send for them.
		q.senders.Add(1)
		go func() {
			defer q.senders.Done()
			q.ch <- job.CaseID
		}()
		q.logger.Debug("send handed off to joined enqueues", "case_id", job.CaseID, "joined", w.joined)
		return false, ctx.Err()
	}
}

// Pending is the number of cases waiting for a worker.
func (q *CaseQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Shutdown stops accepting jobs, lets queued cases finish and waits for the
// workers or ctx, whichever comes first.
func (q *CaseQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
