package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Enqueue inserts one READY queue row for a freshly staged upload.
func (s *Store) Enqueue(ctx context.Context, fileUUID UUID) error {
	item := QueueItem{
		FileUUID:    fileUUID,
		State:       StateReady,
		AvailableAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", fileUUID, err)
	}
	return nil
}

// ClaimBatch atomically transfers ownership of up to limit READY rows to the
// given bot, oldest first. The select runs FOR UPDATE SKIP LOCKED so two
// workers claiming concurrently never see the same candidate row.
func (s *Store) ClaimBatch(ctx context.Context, botID int16, limit int) ([]UUID, error) {
	var claimed []UUID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&QueueItem{}).
			Where("state = ? AND available_at <= ?", StateReady, time.Now().UTC()).
			Order("created_at ASC").
			Limit(limit)
		if s.supportsSkipLocked() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []UUID
		if err := q.Pluck("file_uuid", &candidates).Error; err != nil {
			return fmt.Errorf("failed to select claim candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		res := tx.Model(&QueueItem{}).
			Where("file_uuid IN ? AND state = ?", candidates, StateReady).
			Updates(map[string]any{
				"state":  StateClaimed,
				"bot_id": botID,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim rows: %w", res.Error)
		}

		claimed = candidates
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateState performs one CAS-guarded state transition. A zero row count
// means another actor advanced the row first and maps to ErrLostRace.
func (s *Store) UpdateState(ctx context.Context, fileUUID UUID, state QueueState, expected ...QueueState) error {
	res := s.db.WithContext(ctx).Model(&QueueItem{}).
		Where("file_uuid = ? AND state IN ?", fileUUID, expected).
		Update("state", state)
	if res.Error != nil {
		return fmt.Errorf("failed to transition %s to state %d: %w", fileUUID, state, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLostRace
	}
	return nil
}

// RecordUpload applies the UPLOADING -> UPLOADED transition and stores the
// upstream identifiers on the queue row so a crash before commit leaves the
// sweeper enough to finish the job.
func (s *Store) RecordUpload(ctx context.Context, fileUUID UUID, fileID string, msgID int64) error {
	res := s.db.WithContext(ctx).Model(&QueueItem{}).
		Where("file_uuid = ? AND state = ?", fileUUID, StateUploading).
		Updates(map[string]any{
			"state":   StateUploaded,
			"file_id": fileID,
			"msg_id":  msgID,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record upload for %s: %w", fileUUID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLostRace
	}
	return nil
}

// CommitUpload is the single source of truth for a successful upload: in one
// transaction it inserts the files row and moves the queue row to COMMITTED.
// Either both land or both roll back.
//
// The commit is idempotent: replaying it after it already succeeded sees a
// duplicate-key no-op on files plus a zero-row update and returns nil. A
// fresh files insert whose paired state update loses the race is rolled back
// with ErrLostRace.
func (s *Store) CommitUpload(ctx context.Context, fileUUID UUID, fileID string, msgID int64, botID int16) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return commitUploadTx(tx, fileUUID, fileID, msgID, botID)
	})
}

// commitUploadTx runs the two-statement commit inside an existing
// transaction. Shared by the worker commit and the sweeper re-commit.
func commitUploadTx(tx *gorm.DB, fileUUID UUID, fileID string, msgID int64, botID int16) error {
	ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&IndexedFile{
		FileUUID: fileUUID,
		FileID:   fileID,
		MsgID:    msgID,
		BotID:    botID,
	})
	if ins.Error != nil {
		return fmt.Errorf("failed to insert files row for %s: %w", fileUUID, ins.Error)
	}
	inserted := ins.RowsAffected > 0

	upd := tx.Model(&QueueItem{}).
		Where("file_uuid = ? AND state = ?", fileUUID, StateUploaded).
		Update("state", StateCommitted)
	if upd.Error != nil {
		return fmt.Errorf("failed to mark %s committed: %w", fileUUID, upd.Error)
	}
	if inserted && upd.RowsAffected == 0 {
		// Fresh insert without the paired state change must not land.
		return ErrLostRace
	}
	return nil
}

// MarkFailed moves a job that errored mid-flight to FAILED so the sweeper
// retries it with backoff. Losing the race is not an error here: the row
// already advanced past the failing attempt.
func (s *Store) MarkFailed(ctx context.Context, fileUUID UUID) error {
	err := s.UpdateState(ctx, fileUUID, StateFailed, StateClaimed, StateUploading, StateUploaded)
	if errors.Is(err, ErrLostRace) {
		return nil
	}
	return err
}

// GetQueueItem fetches one queue row, mainly for tests and diagnostics.
func (s *Store) GetQueueItem(ctx context.Context, fileUUID UUID) (*QueueItem, error) {
	var item QueueItem
	if err := s.db.WithContext(ctx).Where("file_uuid = ?", fileUUID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &item, nil
}

// CountQueueByState returns the number of queue rows per state.
func (s *Store) CountQueueByState(ctx context.Context) (map[QueueState]int64, error) {
	type row struct {
		State QueueState
		N     int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&QueueItem{}).
		Select("state, COUNT(*) AS n").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[QueueState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.N
	}
	return counts, nil
}
