package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetIndexedFile fetches the files row for a committed upload.
func (s *Store) GetIndexedFile(ctx context.Context, fileUUID UUID) (*IndexedFile, error) {
	var f IndexedFile
	err := s.db.WithContext(ctx).Where("file_uuid = ?", fileUUID).First(&f).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to look up file %s: %w", fileUUID, err)
	}
	return &f, nil
}

// GetURLCache fetches the L2 url_caches row for a file.
func (s *Store) GetURLCache(ctx context.Context, fileUUID UUID) (*URLCacheEntry, error) {
	var e URLCacheEntry
	err := s.db.WithContext(ctx).Where("file_uuid = ?", fileUUID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrURLCacheMiss
		}
		return nil, fmt.Errorf("failed to look up url cache %s: %w", fileUUID, err)
	}
	return &e, nil
}

// WarmURLCache inserts an L2 row if none exists yet. Concurrent warms for
// the same file are harmless: the insert ignores duplicate keys.
func (s *Store) WarmURLCache(ctx context.Context, entry *URLCacheEntry) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if res.Error != nil {
		return fmt.Errorf("failed to warm url cache for %s: %w", entry.FileUUID, res.Error)
	}
	return nil
}
