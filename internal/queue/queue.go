// Package queue provides the bounded notification job queue and the
// reconciliation workers that drain it. A job is a hint to sync, not a
// payload to process: losing one is tolerable because the stored cursor
// captures the outstanding work.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFull is returned when the queue is saturated. The notification sink
// maps it to a retryable HTTP status so the provider redelivers.
var ErrFull = errors.New("queue full")

// Job is one reconciliation request, emitted by the notification sink for
// every authenticated notification. ChangeType is informational only; the
// engine always performs a full delta from the stored cursor.
type Job struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	Resource       string    `json:"resource"`
	ChangeType     string    `json:"change_type"`
	TS             time.Time `json:"ts"`

	// Attempts counts deliveries to a worker; not part of the wire format.
	Attempts int `json:"-"`
}

// NewJob builds a job with a fresh id and timestamp.
func NewJob(subscriptionID, resource, changeType string) Job {
	return Job{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		Resource:       resource,
		ChangeType:     changeType,
		TS:             time.Now().UTC(),
	}
}

// Queue is a bounded in-process FIFO of jobs.
type Queue struct {
	ch chan Job
}

// New creates a queue holding at most size jobs.
func New(size int) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{ch: make(chan Job, size)}
}

// Enqueue adds a job without blocking. Returns ErrFull when the queue is
// saturated.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.ch <- job:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until a job is available or ctx is done. The second return
// is false when the wait was cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Job, bool) {
	select {
	case job := <-q.ch:
		return job, true
	case <-ctx.Done():
		return Job{}, false
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int { return len(q.ch) }

// DriveIDFromResource extracts the drive id from a watched-resource path of
// the form "/drives/{id}/root". Returns "" when the resource has another
// shape (e.g. "/me/drive/root"); callers fall back to their configured
// default drive.
func DriveIDFromResource(resource string) string {
	trimmed := strings.Trim(resource, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 && parts[0] == "drives" {
		return parts[1]
	}
	return ""
}

// driveLocks enforces the per-drive serialization invariant: at any instant
// at most one reconciliation pass runs for a given drive.
type driveLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDriveLocks() *driveLocks {
	return &driveLocks{locks: make(map[string]*sync.Mutex)}
}

func (d *driveLocks) forDrive(driveID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[driveID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[driveID] = l
	}
	return l
}
