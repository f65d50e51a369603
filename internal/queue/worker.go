package queue

import (
	"context"
	"log"

	"github.com/driveshadow/driveshadow/internal/gate"
	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/reconcile"
)

// maxJobAttempts bounds redelivery of a failing job. The gateway already
// retries transient failures internally, so a job that fails this many
// times is stuck on something a retry will not fix.
const maxJobAttempts = 5

// Syncer is the slice of the reconcile engine a worker needs.
type Syncer interface {
	Sync(ctx context.Context, driveID string) (*reconcile.Result, error)
}

// Worker drains the queue and runs reconciliation passes. Multiple workers
// may run concurrently; the shared driveLocks keeps passes for the same
// drive strictly sequential while different drives proceed in parallel.
type Worker struct {
	queue          *Queue
	gate           *gate.Gate
	engine         Syncer
	defaultDriveID string
	locks          *driveLocks
}

// WorkerPool creates n workers sharing one lock table. Run each returned
// worker on its own goroutine.
func WorkerPool(n int, q *Queue, g *gate.Gate, engine Syncer, defaultDriveID string) []*Worker {
	if n <= 0 {
		n = 1
	}
	locks := newDriveLocks()
	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = &Worker{
			queue:          q,
			gate:           g,
			engine:         engine,
			defaultDriveID: defaultDriveID,
			locks:          locks,
		}
	}
	return workers
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ok := w.queue.Dequeue(ctx)
		if !ok {
			return ctx.Err()
		}
		w.process(ctx, job)
	}
}

// process handles one job. A disabled gate drops the job without touching
// the provider or the store; an auth failure disables the gate; a
// non-auth failure re-queues the job up to maxJobAttempts.
func (w *Worker) process(ctx context.Context, job Job) {
	if !w.gate.IsEnabled() {
		log.Printf("worker: gate disabled, dropping job %s", job.ID)
		return
	}

	driveID := DriveIDFromResource(job.Resource)
	if driveID == "" {
		driveID = w.defaultDriveID
	}
	if driveID == "" {
		log.Printf("worker: job %s has no resolvable drive, dropping", job.ID)
		return
	}

	lock := w.locks.forDrive(driveID)
	lock.Lock()
	defer lock.Unlock()

	// The gate may have flipped while we waited for the drive lock.
	if !w.gate.IsEnabled() {
		log.Printf("worker: gate disabled, dropping job %s", job.ID)
		return
	}

	res, err := w.engine.Sync(ctx, driveID)
	if err == nil {
		log.Printf("worker: job %s done: %d items, %d changes", job.ID, res.ItemsProcessed, res.ChangesDetected)
		return
	}

	if graph.IsAuth(err) {
		// Credential went bad mid-flight. Halt all workers; recovery
		// requires an external bootstrap.
		log.Printf("worker: job %s hit auth failure, disabling gate: %v", job.ID, err)
		w.gate.Disable()
		return
	}

	job.Attempts++
	if job.Attempts >= maxJobAttempts {
		log.Printf("worker: job %s failed %d times, dropping: %v", job.ID, job.Attempts, err)
		return
	}
	log.Printf("worker: job %s failed (attempt %d), re-queueing: %v", job.ID, job.Attempts, err)
	if qErr := w.queue.Enqueue(job); qErr != nil {
		log.Printf("worker: could not re-queue job %s: %v", job.ID, qErr)
	}
}
