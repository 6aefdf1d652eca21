// Package resolver turns an external file uuid into a short-lived upstream
// download URL through a three-tier lookup: the Redis L1, the url_caches L2
// row, and finally the files table plus a live upstream call.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/kv"
	"github.com/devhw/tgcdn/pkg/metrics"
	"github.com/devhw/tgcdn/pkg/offload"
	"github.com/devhw/tgcdn/pkg/store"
)

// ErrNotFound means no tier knows the file: it was never committed.
var ErrNotFound = errors.New("resolver: file not found")

// Repository is the store surface the resolver reads. *store.Store
// implements it.
type Repository interface {
	GetURLCache(ctx context.Context, fileUUID store.UUID) (*store.URLCacheEntry, error)
	GetIndexedFile(ctx context.Context, fileUUID store.UUID) (*store.IndexedFile, error)
	GetBotToken(ctx context.Context, botID int16) (string, error)
	WarmURLCache(ctx context.Context, entry *store.URLCacheEntry) error
}

// Upstream materializes download paths. *telegram.Client implements it.
type Upstream interface {
	GetFile(ctx context.Context, token, fileID string) (filePath string, err error)
	FileURL(token, filePath string) string
}

// Resolver performs the tiered lookup. Safe for concurrent use.
type Resolver struct {
	repo     Repository
	cache    *kv.Client
	upstream Upstream
	offload  *offload.Queue
	metrics  *metrics.PipelineMetrics
}

// New creates a resolver. offloadQueue and pm may be nil; without a queue
// L3 hits simply skip the L2 warm.
func New(repo Repository, cache *kv.Client, upstream Upstream, offloadQueue *offload.Queue, pm *metrics.PipelineMetrics) *Resolver {
	return &Resolver{
		repo:     repo,
		cache:    cache,
		upstream: upstream,
		offload:  offloadQueue,
		metrics:  pm,
	}
}

// Resolve returns the absolute download URL for a committed file, or
// ErrNotFound. Upstream failures propagate to the caller.
func (r *Resolver) Resolve(ctx context.Context, fileUUID store.UUID) (string, error) {
	key := fileUUID.String()

	// L1: hot path, one Redis round trip.
	if url, err := r.cache.GetURL(ctx, key); err == nil {
		r.metrics.RecordResolverHit("l1")
		return url, nil
	} else if !errors.Is(err, kv.ErrMiss) {
		logger.Warn("url cache read failed, falling through", "file_uuid", key, "error", err)
	}

	// L2: durable (file_id, token) pair; only the path needs refreshing.
	entry, err := r.repo.GetURLCache(ctx, fileUUID)
	if err == nil {
		url, err := r.materialize(ctx, key, entry.BotToken, entry.FileID)
		if err != nil {
			return "", err
		}
		r.metrics.RecordResolverHit("l2")
		return url, nil
	}
	if !errors.Is(err, store.ErrURLCacheMiss) {
		return "", fmt.Errorf("resolver: l2 lookup failed: %w", err)
	}

	// L3: the source of truth.
	file, err := r.repo.GetIndexedFile(ctx, fileUUID)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			r.metrics.RecordResolverHit("miss")
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolver: l3 lookup failed: %w", err)
	}

	token, err := r.botToken(ctx, file.BotID)
	if err != nil {
		return "", err
	}

	url, err := r.materialize(ctx, key, token, file.FileID)
	if err != nil {
		return "", err
	}
	r.metrics.RecordResolverHit("l3")
	r.warmL2(fileUUID, file.FileID, token)
	return url, nil
}

// materialize calls the upstream for a fresh path, composes the absolute
// URL and writes it through to L1. An L1 write failure is logged, never
// fatal: the URL is already in hand.
func (r *Resolver) materialize(ctx context.Context, key, token, fileID string) (string, error) {
	path, err := r.upstream.GetFile(ctx, token, fileID)
	if err != nil {
		return "", fmt.Errorf("resolver: upstream getFile failed: %w", err)
	}
	url := r.upstream.FileURL(token, path)

	if err := r.cache.SetURL(ctx, key, url); err != nil {
		logger.Warn("failed to write url cache", "file_uuid", key, "error", err)
	}
	return url, nil
}

// botToken resolves a credential through the KV cache, falling back to the
// bots table. The mapping is immutable, so the cache entry never expires.
func (r *Resolver) botToken(ctx context.Context, botID int16) (string, error) {
	if token, err := r.cache.GetBotToken(ctx, botID); err == nil {
		return token, nil
	} else if !errors.Is(err, kv.ErrMiss) {
		logger.Warn("token cache read failed, falling through", "bot_id", botID, "error", err)
	}

	token, err := r.repo.GetBotToken(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("resolver: credential lookup failed: %w", err)
	}
	if err := r.cache.SetBotToken(ctx, botID, token); err != nil {
		logger.Warn("failed to cache token", "bot_id", botID, "error", err)
	}
	return token, nil
}

// warmL2 enqueues the url_caches insert on the offload channel. A full
// queue drops the warm: L1 already hides the miss.
func (r *Resolver) warmL2(fileUUID store.UUID, fileID, token string) {
	if r.offload == nil {
		return
	}
	entry := &store.URLCacheEntry{FileUUID: fileUUID, FileID: fileID, BotToken: token}
	ok := r.offload.TryEnqueue(func(ctx context.Context) error {
		return r.repo.WarmURLCache(ctx, entry)
	})
	if !ok {
		r.metrics.RecordOffloadDrop()
		logger.Debug("offload queue full, dropped l2 warm", "file_uuid", fileUUID)
	}
}
