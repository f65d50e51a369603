package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveshadow/driveshadow/internal/gate"
	"github.com/driveshadow/driveshadow/internal/graph"
	"github.com/driveshadow/driveshadow/internal/reconcile"
)

type fakeSyncer struct {
	mu     sync.Mutex
	drives []string
	errs   []error // consumed per call; nil once exhausted
}

func (f *fakeSyncer) Sync(ctx context.Context, driveID string) (*reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drives = append(f.drives, driveID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &reconcile.Result{ItemsProcessed: 1}, nil
}

func (f *fakeSyncer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.drives...)
}

type nopProber struct{}

func (nopProber) ProbeIdentity(ctx context.Context, bearer string) (*graph.Identity, error) {
	return &graph.Identity{}, nil
}

func newTestWorker(t *testing.T, syncer Syncer, enabled bool) (*Worker, *Queue, *gate.Gate) {
	t.Helper()
	q := New(8)
	g := gate.New(nopProber{}, enabled)
	workers := WorkerPool(1, q, g, syncer, "default-drive")
	require.Len(t, workers, 1)
	return workers[0], q, g
}

func TestProcessRunsSyncForResourceDrive(t *testing.T) {
	syncer := &fakeSyncer{}
	w, _, _ := newTestWorker(t, syncer, true)

	w.process(context.Background(), NewJob("sub-1", "/drives/d9/root", "updated"))
	assert.Equal(t, []string{"d9"}, syncer.calls())
}

func TestProcessFallsBackToDefaultDrive(t *testing.T) {
	syncer := &fakeSyncer{}
	w, _, _ := newTestWorker(t, syncer, true)

	w.process(context.Background(), NewJob("sub-1", "/me/drive/root", "updated"))
	assert.Equal(t, []string{"default-drive"}, syncer.calls())
}

func TestProcessDropsJobWhenGateDisabled(t *testing.T) {
	syncer := &fakeSyncer{}
	w, _, _ := newTestWorker(t, syncer, false)

	w.process(context.Background(), NewJob("sub-1", "/drives/d1/root", "updated"))
	assert.Empty(t, syncer.calls())
}

func TestProcessAuthFailureDisablesGate(t *testing.T) {
	syncer := &fakeSyncer{errs: []error{
		&graph.Error{Class: graph.ClassAuth, Status: 401, Op: "delta"},
	}}
	w, q, g := newTestWorker(t, syncer, true)

	w.process(context.Background(), NewJob("sub-1", "/drives/d1/root", "updated"))
	assert.False(t, g.IsEnabled())
	// Auth failures are not re-queued; the job is gone.
	assert.Equal(t, 0, q.Len())
}

func TestProcessRequeuesTransientFailure(t *testing.T) {
	syncer := &fakeSyncer{errs: []error{
		&graph.Error{Class: graph.ClassTransient, Status: 503, Op: "delta"},
	}}
	w, q, g := newTestWorker(t, syncer, true)

	w.process(context.Background(), NewJob("sub-1", "/drives/d1/root", "updated"))
	require.True(t, g.IsEnabled())
	require.Equal(t, 1, q.Len())

	job, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)
}

func TestProcessDropsJobAfterMaxAttempts(t *testing.T) {
	syncer := &fakeSyncer{}
	w, q, _ := newTestWorker(t, syncer, true)

	job := NewJob("sub-1", "/drives/d1/root", "updated")
	job.Attempts = maxJobAttempts - 1
	syncer.errs = []error{&graph.Error{Class: graph.ClassTransient, Status: 503, Op: "delta"}}

	w.process(context.Background(), job)
	assert.Equal(t, 0, q.Len())
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	syncer := &fakeSyncer{}
	w, q, _ := newTestWorker(t, syncer, true)

	require.NoError(t, q.Enqueue(NewJob("sub-1", "/drives/d1/root", "updated")))
	require.NoError(t, q.Enqueue(NewJob("sub-2", "/drives/d2/root", "updated")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(syncer.calls()) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerPoolSharesLockTable(t *testing.T) {
	q := New(8)
	g := gate.New(nopProber{}, true)
	workers := WorkerPool(3, q, g, &fakeSyncer{}, "")
	require.Len(t, workers, 3)
	assert.Same(t, workers[0].locks, workers[1].locks)
	assert.Same(t, workers[1].locks, workers[2].locks)

	// n <= 0 still yields one worker.
	assert.Len(t, WorkerPool(0, q, g, &fakeSyncer{}, ""), 1)
}
