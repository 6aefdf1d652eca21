// Package worker implements the upload pipeline's worker pool: one worker
// per bot credential, each draining the queue with its own identity.
//
// A worker claims READY rows in FIFO order, uploads the staged artifact to
// the destination chat, records the upstream identifiers and commits the
// job into the indexed-files table. Within one worker at most one job is in
// flight; parallelism comes only from running more workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/metrics"
	"github.com/devhw/tgcdn/pkg/store"
	"github.com/devhw/tgcdn/pkg/telegram"
)

// Uploader is the upstream surface a worker needs. *telegram.Client
// implements it.
type Uploader interface {
	SendDocument(ctx context.Context, token string, chatID int64, doc io.Reader, filename, caption string) (msgID int64, fileID string, err error)
}

const (
	// DefaultBatchSize bounds one claim transaction.
	DefaultBatchSize = 10

	// DefaultPollInterval is the idle sleep between empty polls.
	DefaultPollInterval = 5 * time.Second

	// maxRateLimitRetries caps in-place 429 retries per job.
	maxRateLimitRetries = 5
)

// Config describes one worker identity.
type Config struct {
	BotID        int16
	Token        string
	ChatID       int64
	TempDir      string
	BatchSize    int
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Worker drains the queue with one bot credential.
type Worker struct {
	config   Config
	store    *store.Store
	upstream Uploader
	metrics  *metrics.PipelineMetrics
}

// New creates a worker. metrics may be nil.
func New(config Config, st *store.Store, upstream Uploader, pm *metrics.PipelineMetrics) *Worker {
	config.applyDefaults()
	return &Worker{config: config, store: st, upstream: upstream, metrics: pm}
}

// Run polls the queue until the context is cancelled. Jobs within one batch
// are processed strictly in claim order.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("worker started", "bot_id", w.config.BotID, "chat_id", w.config.ChatID)
	for {
		claimed, err := w.store.ClaimBatch(ctx, w.config.BotID, w.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("claim failed", "bot_id", w.config.BotID, "error", err)
			claimed = nil
		}

		if len(claimed) == 0 {
			if !sleepCtx(ctx, w.config.PollInterval) {
				break
			}
			continue
		}

		for _, fileUUID := range claimed {
			if ctx.Err() != nil {
				// Abandoned claims are unstuck by the sweeper.
				logger.Info("worker stopping mid-batch", "bot_id", w.config.BotID)
				return
			}
			w.process(ctx, fileUUID)
		}
	}
	logger.Info("worker stopped", "bot_id", w.config.BotID)
}

// process runs one claimed job through upload and commit. Every durable
// transition is CAS-guarded; losing a race means another actor (usually the
// sweeper) already advanced the row and this worker must let go.
func (w *Worker) process(ctx context.Context, fileUUID store.UUID) {
	err := w.runJob(ctx, fileUUID)
	switch {
	case err == nil:
		w.metrics.RecordJobOutcome("committed")
	case errors.Is(err, store.ErrLostRace):
		logger.Warn("job advanced by another actor", "bot_id", w.config.BotID, "file_uuid", fileUUID)
		w.metrics.RecordJobOutcome("lost_race")
	default:
		logger.Error("job failed", "bot_id", w.config.BotID, "file_uuid", fileUUID, "error", err)
		w.metrics.RecordJobOutcome("failed")
		if ferr := w.store.MarkFailed(ctx, fileUUID); ferr != nil {
			logger.Error("failed to mark job failed", "file_uuid", fileUUID, "error", ferr)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, fileUUID store.UUID) error {
	if err := w.store.UpdateState(ctx, fileUUID, store.StateUploading, store.StateClaimed); err != nil {
		return err
	}

	path := filepath.Join(w.config.TempDir, fileUUID.String())
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("staged artifact missing: %w", err)
	}
	defer f.Close()

	msgID, fileID, err := w.upload(ctx, f, fileUUID.String())
	if err != nil {
		return err
	}

	if err := w.store.RecordUpload(ctx, fileUUID, fileID, msgID); err != nil {
		return err
	}
	if err := w.store.CommitUpload(ctx, fileUUID, fileID, msgID, w.config.BotID); err != nil {
		return err
	}

	// The files row is durable; a leftover temp file is only disk noise.
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to remove staged artifact", "file_uuid", fileUUID, "error", err)
	}

	logger.Info("job committed", "bot_id", w.config.BotID, "file_uuid", fileUUID, "msg_id", msgID)
	return nil
}

// upload sends the document, retrying in place on upstream rate limits for
// the advertised delay, up to maxRateLimitRetries times.
func (w *Worker) upload(ctx context.Context, f *os.File, caption string) (msgID int64, fileID string, err error) {
	for attempt := 0; ; attempt++ {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, "", fmt.Errorf("failed to rewind staged artifact: %w", err)
		}

		msgID, fileID, err = w.upstream.SendDocument(ctx, w.config.Token, w.config.ChatID, f, caption, caption)
		if err == nil {
			return msgID, fileID, nil
		}

		var rl *telegram.RateLimitedError
		if !errors.As(err, &rl) || attempt >= maxRateLimitRetries {
			return 0, "", fmt.Errorf("upload failed: %w", err)
		}

		logger.Warn("rate limited, retrying in place",
			"bot_id", w.config.BotID, "retry_after", rl.RetryAfter, "attempt", attempt+1)
		w.metrics.RecordRateLimitWait()
		if !sleepCtx(ctx, rl.RetryAfter) {
			return 0, "", ctx.Err()
		}
	}
}

// sleepCtx sleeps unless the context is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Pool runs one worker per bot credential.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds the pool.
func NewPool(workers []*Worker) *Pool {
	return &Pool{workers: workers}
}

// Start launches every worker. Use Wait to block until they stop.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w := w
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run(ctx)
		}()
	}
	logger.Info("worker pool started", "workers", len(p.workers))
}

// Wait blocks until all workers have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
