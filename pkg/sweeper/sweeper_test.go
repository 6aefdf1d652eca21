package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/devhw/tgcdn/pkg/store"
)

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 3 * time.Second},
		{4, 15 * time.Second},
		{10, 1023 * time.Second},
		{12, 3000 * time.Second}, // 4095 clamped
		{100, 3000 * time.Second},
		{-3, 0}, // corrupt counter clamped low
	}
	for _, tc := range cases {
		if got := Backoff(tc.retryCount); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := Jitter()
		if j < time.Second || j >= 5*time.Second {
			t.Fatalf("jitter %v outside [1s, 5s)", j)
		}
	}
}

func TestSweepOnceRetriesFailedJob(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, _ := store.NewUUID()
	if err := s.Enqueue(ctx, id); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	s.UpdateState(ctx, id, store.StateClaimed, store.StateReady)
	s.MarkFailed(ctx, id)

	sw := New(Config{}, s, nil)
	before := time.Now().UTC()
	sw.SweepOnce(ctx)

	item, err := s.GetQueueItem(ctx, id)
	if err != nil {
		t.Fatalf("failed to fetch row: %v", err)
	}
	if item.State != store.StateReady {
		t.Errorf("expected READY after sweep, got %d", item.State)
	}
	if item.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", item.RetryCount)
	}
	// retry_count was 0: backoff 0, jitter in [1s, 5s).
	min := before.Add(time.Second)
	max := before.Add(6 * time.Second)
	if item.AvailableAt.Before(min) || item.AvailableAt.After(max) {
		t.Errorf("available_at %v outside [%v, %v]", item.AvailableAt, min, max)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := createTestStore(t)
	sw := New(Config{Interval: 10 * time.Millisecond}, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond) // let a few ticks fire
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancellation")
	}
}
