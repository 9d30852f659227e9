// Package jobs implements JobQueue (spec.md §4.9): a single-consumer
// FIFO with exactly one worker, no retry and no cross-restart
// persistence. Grounded in MacJediWizard-keldris's internal/jobs/queue.go
// (RegisterHandler/Enqueue/worker shape, zerolog component logger),
// stripped of its multi-tenant QueueManager, retry processor and
// cleanup processor — none of which spec.md §4.9 calls for.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetdock/fleetdock/internal/fleetstore"
	"github.com/fleetdock/fleetdock/internal/models"
)

// Outcome is what a Handler reports back to the queue once a job has
// run to completion or failure.
type Outcome struct {
	Destination  models.HistoryDestination
	ArtifactPath string
	SizeBytes    int64
	Message      string
}

// Handler processes one job kind to completion, returning an Outcome
// on success or an error on failure. Handlers report intermediate
// progress via the progress callback.
type Handler interface {
	Handle(ctx context.Context, job *models.Job, progress func(status models.JobStatus, message string)) (Outcome, error)
}

// HandlerFunc adapts a plain function to Handler, the way
// http.HandlerFunc adapts a function to http.Handler.
type HandlerFunc func(ctx context.Context, job *models.Job, progress func(status models.JobStatus, message string)) (Outcome, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *models.Job, progress func(status models.JobStatus, message string)) (Outcome, error) {
	return f(ctx, job, progress)
}

// Queue is the single-consumer FIFO job runner.
type Queue struct {
	logger   zerolog.Logger
	store    *fleetstore.Store
	handlers map[models.JobKind]Handler

	mu      sync.Mutex
	cond    *sync.Cond
	order   []string
	jobs    map[string]*models.Job
	closing bool

	wg sync.WaitGroup
}

// New constructs a Queue backed by store for history recording.
func New(store *fleetstore.Store, logger zerolog.Logger) *Queue {
	q := &Queue{
		logger:   logger.With().Str("component", "job_queue").Logger(),
		store:    store,
		handlers: make(map[models.JobKind]Handler),
		jobs:     make(map[string]*models.Job),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// RegisterHandler binds kind to h. Call before Start.
func (q *Queue) RegisterHandler(kind models.JobKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue appends a new job for target and returns its id. Enqueue is
// safe to call from the Scheduler's trigger goroutines and from API
// handlers concurrently; only the single worker ever dequeues.
func (q *Queue) Enqueue(kind models.JobKind, target string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return "", fmt.Errorf("job queue is stopped")
	}
	id := uuid.NewString()
	q.jobs[id] = &models.Job{
		ID:          id,
		Kind:        kind,
		Target:      target,
		Status:      models.JobPending,
		LastUpdated: time.Now(),
	}
	q.order = append(q.order, id)
	q.logger.Info().Str("job_id", id).Str("kind", string(kind)).Str("target", target).Msg("job enqueued")
	q.cond.Signal()
	return id, nil
}

// Status returns a snapshot of one job.
func (q *Queue) Status(id string) (models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

// AllJobs returns a snapshot of every known job, oldest first.
func (q *Queue) AllJobs() []models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.jobs[id])
	}
	return out
}

// Start runs the single worker loop until ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closing = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
}

// Stop refuses further Enqueue calls and waits for the worker to exit;
// the worker first runs every job already queued, then returns once the
// queue is empty. Cancellation is not exposed for in-flight jobs
// (spec.md §4.9).
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closing = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		id, ok := q.next()
		if !ok {
			return
		}
		q.process(ctx, id)
	}
}

// next blocks until a job id is available, ctx is cancelled, or Stop
// has been called with an empty queue.
func (q *Queue) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) == 0 {
		if q.closing {
			return "", false
		}
		q.cond.Wait()
	}
	id := q.order[0]
	q.order = q.order[1:]
	return id, true
}

func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	job := q.jobs[id]
	handler, hasHandler := q.handlers[job.Kind]
	q.mu.Unlock()

	logger := q.logger.With().Str("job_id", id).Str("kind", string(job.Kind)).Str("target", job.Target).Logger()

	q.setStatus(id, models.JobProcessing, "")

	if !hasHandler {
		q.finish(id, models.JobFailed, "no handler registered for job kind", models.DestinationLocal, "", 0)
		logger.Error().Msg("no handler registered")
		return
	}

	progress := func(status models.JobStatus, message string) {
		q.setStatus(id, status, message)
	}

	logger.Info().Msg("processing job")
	outcome, err := handler.Handle(ctx, job, progress)
	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		q.finish(id, models.JobFailed, err.Error(), models.DestinationLocal, "", 0)
		return
	}

	logger.Info().Str("destination", string(outcome.Destination)).Msg("job completed")
	q.finish(id, models.JobCompleted, outcome.Message, outcome.Destination, outcome.ArtifactPath, outcome.SizeBytes)
}

func (q *Queue) setStatus(id string, status models.JobStatus, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	if message != "" {
		job.Message = message
	}
	job.LastUpdated = time.Now()
}

// finish always writes exactly one HistoryEntry on a job's terminal
// transition (spec.md §7, §9 open question: surface every failure
// regardless of return path).
func (q *Queue) finish(id string, status models.JobStatus, message string, dest models.HistoryDestination, artifactPath string, sizeBytes int64) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if ok {
		job.Status = status
		job.Message = message
		job.LastUpdated = time.Now()
	}
	q.mu.Unlock()
	if !ok {
		return
	}

	historyStatus := models.HistorySuccess
	if status == models.JobFailed {
		historyStatus = models.HistoryFailed
	}

	entry := models.HistoryEntry{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Subject:      job.Target,
		Status:       historyStatus,
		Destination:  dest,
		Message:      message,
		SizeBytes:    sizeBytes,
		ArtifactPath: artifactPath,
	}
	if q.store != nil {
		if err := q.store.AppendHistory(entry); err != nil {
			q.logger.Error().Err(err).Str("job_id", id).Msg("failed to record history entry")
		}
	}
}
