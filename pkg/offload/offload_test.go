package offload

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTryEnqueueDropsWhenFull(t *testing.T) {
	q := New(2)

	var drops atomic.Int32
	q.OnDrop(func() { drops.Add(1) })

	noop := func(ctx context.Context) error { return nil }

	if !q.TryEnqueue(noop) || !q.TryEnqueue(noop) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if q.TryEnqueue(noop) {
		t.Error("expected third enqueue to drop")
	}
	if drops.Load() != 1 {
		t.Errorf("expected 1 drop recorded, got %d", drops.Load())
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 pending tasks, got %d", q.Len())
	}
}

func TestRunDrainsInOrder(t *testing.T) {
	q := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		q.TryEnqueue(func(ctx context.Context) error {
			results <- i
			return nil
		})
	}

	go q.Run(ctx)

	for want := 1; want <= 3; want++ {
		select {
		case got := <-results:
			if got != want {
				t.Errorf("expected task %d, got %d", want, got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for drained task")
		}
	}
}

func TestRunDiscardsFailures(t *testing.T) {
	q := New(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	q.TryEnqueue(func(ctx context.Context) error { return errors.New("boom") })
	q.TryEnqueue(func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	})

	go q.Run(ctx)

	select {
	case <-ran:
		// Failure of the first task must not stop the drainer.
	case <-time.After(time.Second):
		t.Fatal("drainer stopped after a failed task")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainer did not stop on cancellation")
	}
}
