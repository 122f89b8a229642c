package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsJobs(t *testing.T) {
	q := NewQueue("test", nil)
	q.Start(context.Background())
	defer q.Shutdown(time.Second)

	done := make(chan struct{})
	require.NoError(t, q.Enqueue(Job{
		Name: "compile",
		Run: func(ctx context.Context) error {
			close(done)
			return nil
		},
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestEnqueueRefusesWhenBusy(t *testing.T) {
	q := NewQueue("test", nil)
	q.Start(context.Background())
	defer q.Shutdown(time.Second)

	release := make(chan struct{})
	started := make(chan struct{}, drainers)
	block := func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}
	// Occupy every worker.
	for i := 0; i < drainers; i++ {
		for {
			if err := q.Enqueue(Job{Name: "long", Run: block}); err == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	for i := 0; i < drainers; i++ {
		<-started
	}

	// Workers busy, slot free: one more job fits.
	require.NoError(t, q.Enqueue(Job{Name: "queued", Run: func(ctx context.Context) error {
		return nil
	}}))
	// Slot full: refuse instead of blocking the request handler.
	err := q.Enqueue(Job{Name: "refused", Run: func(ctx context.Context) error {
		return nil
	}})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
}

func TestQueueBoundsConcurrency(t *testing.T) {
	q := NewQueue("test", nil)
	q.Start(context.Background())
	defer q.Shutdown(time.Second)

	var concurrent, peak int32
	run := func(ctx context.Context) error {
		now := atomic.AddInt32(&concurrent, 1)
		if now > atomic.LoadInt32(&peak) {
			atomic.StoreInt32(&peak, now)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}
	for i := 0; i < 6; i++ {
		for {
			if err := q.Enqueue(Job{Name: "bounded", Run: run}); err == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&concurrent) == 0 && q.Enqueue(Job{
			Name: "drained", Run: func(ctx context.Context) error { return nil },
		}) == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(drainers),
		"no more jobs in flight than workers")
}

func TestPanickingJobDoesNotKillWorker(t *testing.T) {
	q := NewQueue("test", nil)
	q.Start(context.Background())
	defer q.Shutdown(time.Second)

	require.NoError(t, q.Enqueue(Job{
		Name: "boom",
		Run:  func(ctx context.Context) error { panic("compile exploded") },
	}))

	done := make(chan struct{})
	require.Eventually(t, func() bool {
		return q.Enqueue(Job{
			Name: "after",
			Run: func(ctx context.Context) error {
				close(done)
				return nil
			},
		}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := NewQueue("test", nil)
	q.Start(context.Background())
	require.NoError(t, q.Shutdown(time.Second))

	err := q.Enqueue(Job{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrShutDown)
}

func TestPoolShutdown(t *testing.T) {
	p := NewPool(context.Background(), nil)
	require.NoError(t, p.Compile.Enqueue(Job{
		Name: "quick",
		Run:  func(ctx context.Context) error { return nil },
	}))
	require.NoError(t, p.Shutdown(time.Second))
}
