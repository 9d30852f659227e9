package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetdock/fleetdock/internal/fleetstore"
	"github.com/fleetdock/fleetdock/internal/models"
)

type fakeHandler struct {
	outcome Outcome
	err     error
}

func (f *fakeHandler) Handle(_ context.Context, _ *models.Job, progress func(models.JobStatus, string)) (Outcome, error) {
	progress(models.JobUploading, "uploading")
	return f.outcome, f.err
}

func waitForTerminal(t *testing.T, q *Queue, id string) models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := q.Status(id)
		if ok && (job.Status == models.JobCompleted || job.Status == models.JobFailed) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return models.Job{}
}

func TestQueueProcessesJobToCompletion(t *testing.T) {
	store, err := fleetstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fleetstore.New: %v", err)
	}
	q := New(store, zerolog.Nop())
	q.RegisterHandler(models.JobBackupContainer, &fakeHandler{
		outcome: Outcome{Destination: models.DestinationLocal, ArtifactPath: "/tmp/x.zip", SizeBytes: 42},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(models.JobBackupContainer, "nginx-1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForTerminal(t, q, id)
	if job.Status != models.JobCompleted {
		t.Fatalf("job status = %v, want completed", job.Status)
	}

	history, err := store.History()
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Status != models.HistorySuccess {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestQueueRecordsFailureHistory(t *testing.T) {
	store, err := fleetstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fleetstore.New: %v", err)
	}
	q := New(store, zerolog.Nop())
	q.RegisterHandler(models.JobBackupStack, &fakeHandler{err: errors.New("boom")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(models.JobBackupStack, "myapp")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForTerminal(t, q, id)
	if job.Status != models.JobFailed || job.Message != "boom" {
		t.Fatalf("unexpected job: %+v", job)
	}

	history, _ := store.History()
	if len(history) != 1 || history[0].Status != models.HistoryFailed {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestQueueFailsUnregisteredKind(t *testing.T) {
	store, err := fleetstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("fleetstore.New: %v", err)
	}
	q := New(store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id, err := q.Enqueue(models.JobRestoreClone, "archive.zip")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job := waitForTerminal(t, q, id)
	if job.Status != models.JobFailed {
		t.Fatalf("job status = %v, want failed", job.Status)
	}
}
