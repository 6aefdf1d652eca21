package store

import (
	"time"
)

// QueueState is the durable state code of an in-flight upload job.
//
// The codes are persisted; the gaps leave room for intermediate states.
type QueueState int16

const (
	// StateReady marks a newly enqueued or requeued job. The row is
	// eligible for claim once available_at <= now.
	StateReady QueueState = 0

	// StateClaimed marks exclusive worker ownership; the staged temp
	// file is expected to exist.
	StateClaimed QueueState = 10

	// StateUploading marks an upload call in flight.
	StateUploading QueueState = 20

	// StateUploaded marks a finished upload whose commit into the files
	// table is still pending. file_id and msg_id are set on the row.
	StateUploaded QueueState = 30

	// StateCommitted marks a job whose files row exists; the queue row
	// only awaits sweep deletion.
	StateCommitted QueueState = 40

	// StateFailed marks a job that errored this attempt; the sweeper
	// retries it with exponential backoff.
	StateFailed QueueState = 100
)

// Bot is one upstream credential. Rows are append-only: the bot_id <-> token
// mapping is bijective and immutable after creation.
type Bot struct {
	BotID     int16     `gorm:"column:bot_id;primaryKey;autoIncrement"`
	Token     string    `gorm:"column:bot_token;size:64;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides GORM's pluralization.
func (Bot) TableName() string { return "bots" }

// QueueItem is one in-flight upload job. Created by ingest, mutated only by
// the owning worker or the sweeper, deleted by the sweeper after commit.
type QueueItem struct {
	FileUUID    UUID       `gorm:"column:file_uuid;primaryKey"`
	State       QueueState `gorm:"column:state;not null;default:0;index"`
	BotID       *int16     `gorm:"column:bot_id"`
	FileID      *string    `gorm:"column:file_id;size:191"`
	MsgID       *int64     `gorm:"column:msg_id"`
	RetryCount  int        `gorm:"column:retry_count;not null;default:0"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	AvailableAt time.Time  `gorm:"column:available_at;not null"`
}

func (QueueItem) TableName() string { return "queues" }

// IndexedFile is one successfully stored upload. Rows are write-once: a row
// exists iff the upload reached terminal success, and it is never mutated.
type IndexedFile struct {
	FileUUID  UUID      `gorm:"column:file_uuid;primaryKey"`
	FileID    string    `gorm:"column:file_id;size:191;not null;index"`
	MsgID     int64     `gorm:"column:msg_id;not null"`
	BotID     int16     `gorm:"column:bot_id;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (IndexedFile) TableName() string { return "files" }

// URLCacheEntry is the L2 cache row behind the Redis L1: the durable
// (file_id, bot_token) pair needed to materialize a download URL without
// touching files and bots again. Written through from the resolver.
type URLCacheEntry struct {
	FileUUID  UUID      `gorm:"column:file_uuid;primaryKey"`
	FileID    string    `gorm:"column:file_id;size:191;not null"`
	BotToken  string    `gorm:"column:bot_token;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (URLCacheEntry) TableName() string { return "url_caches" }

// GCRun is one audit row per non-empty reconciliation sweep, recording the
// number of actions taken per prior state.
type GCRun struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Unstuck     int       `gorm:"column:unstuck;not null;default:0"`
	Recommitted int       `gorm:"column:recommitted;not null;default:0"`
	Retried     int       `gorm:"column:retried;not null;default:0"`
	Deleted     int       `gorm:"column:deleted;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (GCRun) TableName() string { return "gc_runs" }
