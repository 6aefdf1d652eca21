package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SweepParams parameterizes one reconciliation pass. The policy (cutoffs,
// jitter, backoff curve) lives with the sweeper; the store only runs the
// five phases inside a single transaction.
type SweepParams struct {
	// Now is the reference time for cutoffs and available_at values.
	Now time.Time

	// StuckCutoff: CLAIMED/UPLOADING rows not touched since this instant
	// are considered abandoned. UPLOADED rows older than it are orphans.
	StuckCutoff time.Time

	// Jitter returns a fresh small random delay per requeued row so
	// re-claims do not burst.
	Jitter func() time.Duration

	// Backoff maps a row's current retry_count to its retry delay.
	Backoff func(retryCount int) time.Duration
}

// SweepStats counts the actions of one pass, keyed by prior state.
type SweepStats struct {
	Unstuck     int // CLAIMED/UPLOADING reset to READY
	Recommitted int // UPLOADED orphans committed into files
	Retried     int // FAILED requeued with backoff
	Deleted     int // COMMITTED rows removed
}

// Empty reports whether the pass touched no rows.
func (st SweepStats) Empty() bool {
	return st.Unstuck == 0 && st.Recommitted == 0 && st.Retried == 0 && st.Deleted == 0
}

// RunSweep executes one reconciliation pass: unstick abandoned claims,
// finish orphaned commits, requeue failures with backoff, drop committed
// rows, and append one gc_runs audit row when anything happened.
//
// Every mutation is gated on the expected current state, so the pass is
// idempotent and safe to run concurrently with live workers: a job the
// worker finishes first simply yields zero-row updates here.
func (s *Store) RunSweep(ctx context.Context, p SweepParams) (SweepStats, error) {
	var stats SweepStats

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if stats.Unstuck, err = sweepUnstick(tx, p); err != nil {
			return err
		}
		if stats.Recommitted, err = sweepRecommit(tx, p); err != nil {
			return err
		}
		if stats.Retried, err = sweepRetryFailed(tx, p); err != nil {
			return err
		}
		if stats.Deleted, err = sweepDeleteCommitted(tx); err != nil {
			return err
		}

		if stats.Empty() {
			return nil
		}
		return tx.Create(&GCRun{
			Unstuck:     stats.Unstuck,
			Recommitted: stats.Recommitted,
			Retried:     stats.Retried,
			Deleted:     stats.Deleted,
		}).Error
	})
	if err != nil {
		return SweepStats{}, fmt.Errorf("sweep failed: %w", err)
	}
	return stats, nil
}

// sweepUnstick resets CLAIMED/UPLOADING rows whose worker went silent. The
// owning worker crashed or lost the job; clearing bot_id returns the row to
// the common pool with a small jitter on available_at.
func sweepUnstick(tx *gorm.DB, p SweepParams) (int, error) {
	var stuck []UUID
	err := tx.Model(&QueueItem{}).
		Where("state IN ? AND updated_at < ?", []QueueState{StateClaimed, StateUploading}, p.StuckCutoff).
		Pluck("file_uuid", &stuck).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select stuck rows: %w", err)
	}

	n := 0
	for _, id := range stuck {
		res := tx.Model(&QueueItem{}).
			Where("file_uuid = ? AND state IN ?", id, []QueueState{StateClaimed, StateUploading}).
			Updates(map[string]any{
				"state":        StateReady,
				"bot_id":       nil,
				"available_at": p.Now.Add(p.Jitter()),
			})
		if res.Error != nil {
			return n, fmt.Errorf("failed to unstick %s: %w", id, res.Error)
		}
		n += int(res.RowsAffected)
	}
	return n, nil
}

// sweepRecommit finishes the commit for UPLOADED rows whose worker died
// between upload and commit. The upstream identifiers were recorded on the
// row at the 20->30 transition, so the same two-statement commit applies;
// an already-existing files row counts as success.
func sweepRecommit(tx *gorm.DB, p SweepParams) (int, error) {
	var orphans []QueueItem
	err := tx.
		Where("state = ? AND updated_at < ?", StateUploaded, p.StuckCutoff).
		Find(&orphans).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select uploaded orphans: %w", err)
	}

	n := 0
	for _, item := range orphans {
		if item.FileID == nil || item.MsgID == nil || item.BotID == nil {
			// Cannot happen through the worker path; leave the row for
			// inspection rather than inventing identifiers.
			continue
		}
		if err := commitUploadTx(tx, item.FileUUID, *item.FileID, *item.MsgID, *item.BotID); err != nil {
			return n, fmt.Errorf("failed to re-commit %s: %w", item.FileUUID, err)
		}
		n++
	}
	return n, nil
}

// sweepRetryFailed requeues FAILED rows with exponential backoff plus
// jitter, incrementing retry_count.
func sweepRetryFailed(tx *gorm.DB, p SweepParams) (int, error) {
	var failed []QueueItem
	err := tx.Select("file_uuid", "retry_count").
		Where("state = ?", StateFailed).
		Find(&failed).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select failed rows: %w", err)
	}

	n := 0
	for _, item := range failed {
		res := tx.Model(&QueueItem{}).
			Where("file_uuid = ? AND state = ?", item.FileUUID, StateFailed).
			Updates(map[string]any{
				"state":        StateReady,
				"retry_count":  item.RetryCount + 1,
				"available_at": p.Now.Add(p.Backoff(item.RetryCount)).Add(p.Jitter()),
			})
		if res.Error != nil {
			return n, fmt.Errorf("failed to requeue %s: %w", item.FileUUID, res.Error)
		}
		n += int(res.RowsAffected)
	}
	return n, nil
}

// sweepDeleteCommitted drops COMMITTED rows. The queue is a work list, not
// a history; files holds the durable record.
func sweepDeleteCommitted(tx *gorm.DB) (int, error) {
	res := tx.Where("state = ?", StateCommitted).Delete(&QueueItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete committed rows: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// LastGCRun returns the most recent audit row, or nil if no sweep has
// recorded actions yet.
func (s *Store) LastGCRun(ctx context.Context) (*GCRun, error) {
	var run GCRun
	err := s.db.WithContext(ctx).Order("id DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}
