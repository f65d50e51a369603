package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob("sub-1", "/drives/d1/root", "updated")
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "sub-1", job.SubscriptionID)
	assert.Equal(t, "/drives/d1/root", job.Resource)
	assert.Equal(t, "updated", job.ChangeType)
	assert.False(t, job.TS.IsZero())
	assert.Zero(t, job.Attempts)

	other := NewJob("sub-1", "/drives/d1/root", "updated")
	assert.NotEqual(t, job.ID, other.ID)
}

func TestEnqueueDequeue(t *testing.T) {
	q := New(4)
	job := NewJob("sub-1", "/drives/d1/root", "updated")
	require.NoError(t, q.Enqueue(job))
	assert.Equal(t, 1, q.Len())

	got, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueFull(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(NewJob("s", "r", "updated")))
	require.NoError(t, q.Enqueue(NewJob("s", "r", "updated")))
	assert.ErrorIs(t, q.Enqueue(NewJob("s", "r", "updated")), ErrFull)

	// Draining frees capacity again.
	_, ok := q.Dequeue(context.Background())
	require.True(t, ok)
	assert.NoError(t, q.Enqueue(NewJob("s", "r", "updated")))
}

func TestDequeueCancelled(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestNewDefaultsSize(t *testing.T) {
	q := New(0)
	for i := 0; i < 64; i++ {
		require.NoError(t, q.Enqueue(NewJob("s", "r", "updated")))
	}
	assert.ErrorIs(t, q.Enqueue(NewJob("s", "r", "updated")), ErrFull)
}

func TestDriveIDFromResource(t *testing.T) {
	tests := []struct {
		resource string
		want     string
	}{
		{"/drives/d1/root", "d1"},
		{"drives/d1/root", "d1"},
		{"/drives/b!abc123/root", "b!abc123"},
		{"/me/drive/root", ""},
		{"", ""},
		{"/users/u1/drive", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DriveIDFromResource(tt.resource), "resource %q", tt.resource)
	}
}

func TestDriveLocksReturnSameMutexPerDrive(t *testing.T) {
	locks := newDriveLocks()
	a := locks.forDrive("d1")
	b := locks.forDrive("d1")
	c := locks.forDrive("d2")
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
