package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devhw/tgcdn/pkg/store"
	"github.com/devhw/tgcdn/pkg/telegram"
)

// fakeUploader scripts SendDocument responses per call.
type fakeUploader struct {
	mu       sync.Mutex
	calls    int
	payloads [][]byte
	errs     []error // consumed per call; nil means success
}

func (f *fakeUploader) SendDocument(ctx context.Context, token string, chatID int64, doc io.Reader, filename, caption string) (int64, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, _ := io.ReadAll(doc)
	f.payloads = append(f.payloads, payload)
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return 0, "", f.errs[call]
	}
	return int64(100 + call), fmt.Sprintf("fid-%d", call), nil
}

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

func stageJob(t *testing.T, s *store.Store, dir string, body []byte) store.UUID {
	t.Helper()
	id, err := store.NewUUID()
	if err != nil {
		t.Fatalf("failed to generate uuid: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id.String()), body, 0644); err != nil {
		t.Fatalf("failed to stage temp file: %v", err)
	}
	if err := s.Enqueue(context.Background(), id); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	return id
}

func testWorker(s *store.Store, up Uploader, dir string) *Worker {
	return New(Config{
		BotID:        1,
		Token:        "123:tok",
		ChatID:       -100,
		TempDir:      dir,
		PollInterval: 10 * time.Millisecond,
	}, s, up, nil)
}

func TestWorkerHappyPath(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	up := &fakeUploader{}
	w := testWorker(s, up, dir)
	ctx := context.Background()

	id := stageJob(t, s, dir, []byte("\x89PNG\r\n\x1a\nXXX"))

	claimed, err := s.ClaimBatch(ctx, 1, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim failed: %v %v", claimed, err)
	}
	w.process(ctx, id)

	t.Run("files row committed", func(t *testing.T) {
		f, err := s.GetIndexedFile(ctx, id)
		if err != nil {
			t.Fatalf("expected files row: %v", err)
		}
		if f.FileID != "fid-0" || f.MsgID != 100 || f.BotID != 1 {
			t.Errorf("unexpected files row: %+v", f)
		}
	})

	t.Run("queue row committed", func(t *testing.T) {
		item, err := s.GetQueueItem(ctx, id)
		if err != nil {
			t.Fatalf("expected queue row: %v", err)
		}
		if item.State != store.StateCommitted {
			t.Errorf("expected state %d, got %d", store.StateCommitted, item.State)
		}
	})

	t.Run("payload uploaded verbatim", func(t *testing.T) {
		if len(up.payloads) != 1 || string(up.payloads[0]) != "\x89PNG\r\n\x1a\nXXX" {
			t.Errorf("unexpected uploaded payloads: %q", up.payloads)
		}
	})

	t.Run("temp file removed", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(dir, id.String())); !os.IsNotExist(err) {
			t.Error("expected staged artifact removed after commit")
		}
	})
}

func TestWorkerRateLimitRetry(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	rl := &telegram.RateLimitedError{RetryAfter: time.Millisecond}
	up := &fakeUploader{errs: []error{rl, rl, rl, rl, nil}}
	w := testWorker(s, up, dir)
	ctx := context.Background()

	id := stageJob(t, s, dir, []byte("BMdata"))
	s.ClaimBatch(ctx, 1, 10)
	w.process(ctx, id)

	if up.calls != 5 {
		t.Errorf("expected 5 attempts, got %d", up.calls)
	}
	item, _ := s.GetQueueItem(ctx, id)
	if item.State != store.StateCommitted {
		t.Errorf("expected commit after in-place retries, got state %d", item.State)
	}
	// Retried attempts must re-send the whole payload, not a suffix.
	for i, p := range up.payloads {
		if string(p) != "BMdata" {
			t.Errorf("attempt %d saw truncated payload %q", i, p)
		}
	}
}

func TestWorkerExhaustedRateLimit(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	rl := &telegram.RateLimitedError{RetryAfter: time.Millisecond}
	up := &fakeUploader{errs: []error{rl, rl, rl, rl, rl, rl}}
	w := testWorker(s, up, dir)
	ctx := context.Background()

	id := stageJob(t, s, dir, []byte("x"))
	s.ClaimBatch(ctx, 1, 10)
	w.process(ctx, id)

	if up.calls != 6 {
		t.Errorf("expected 6 attempts (1 + 5 retries), got %d", up.calls)
	}
	item, _ := s.GetQueueItem(ctx, id)
	if item.State != store.StateFailed {
		t.Errorf("expected state %d after retry exhaustion, got %d", store.StateFailed, item.State)
	}
}

func TestWorkerUpstreamRejection(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	up := &fakeUploader{errs: []error{&telegram.StatusError{Code: 400, Description: "bad document"}}}
	w := testWorker(s, up, dir)
	ctx := context.Background()

	id := stageJob(t, s, dir, []byte("x"))
	s.ClaimBatch(ctx, 1, 10)
	w.process(ctx, id)

	if up.calls != 1 {
		t.Errorf("expected no retry for non-429 errors, got %d attempts", up.calls)
	}
	item, _ := s.GetQueueItem(ctx, id)
	if item.State != store.StateFailed {
		t.Errorf("expected state %d, got %d", store.StateFailed, item.State)
	}
}

func TestWorkerMissingArtifact(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	up := &fakeUploader{}
	w := testWorker(s, up, dir)
	ctx := context.Background()

	id, _ := store.NewUUID()
	s.Enqueue(ctx, id) // no temp file staged
	s.ClaimBatch(ctx, 1, 10)
	w.process(ctx, id)

	if up.calls != 0 {
		t.Error("expected no upload attempt without a staged artifact")
	}
	item, _ := s.GetQueueItem(ctx, id)
	if item.State != store.StateFailed {
		t.Errorf("expected state %d, got %d", store.StateFailed, item.State)
	}
}

func TestWorkerRunLoop(t *testing.T) {
	s := createTestStore(t)
	dir := t.TempDir()
	up := &fakeUploader{}
	w := testWorker(s, up, dir)

	id := stageJob(t, s, dir, []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		item, err := s.GetQueueItem(ctx, id)
		if err == nil && item.State == store.StateCommitted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never committed the job")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
}
