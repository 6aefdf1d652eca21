package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetOrCreateBot returns the bots row for the token, creating it on first
// observation. Rows are append-only; bot_id <-> token never changes once
// assigned, so boot can run this for every configured token.
func (s *Store) GetOrCreateBot(ctx context.Context, token string) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token must not be empty")
	}

	var bot Bot
	err := s.db.WithContext(ctx).Where("bot_token = ?", token).First(&bot).Error
	if err == nil {
		return &bot, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up bot: %w", err)
	}

	bot = Bot{Token: token}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&bot)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create bot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another process registered the token between our select and
		// insert; re-read the winner.
		if err := s.db.WithContext(ctx).Where("bot_token = ?", token).First(&bot).Error; err != nil {
			return nil, fmt.Errorf("failed to re-read bot after conflict: %w", err)
		}
	}
	return &bot, nil
}

// GetBotToken resolves a bot_id to its credential.
func (s *Store) GetBotToken(ctx context.Context, botID int16) (string, error) {
	var bot Bot
	err := s.db.WithContext(ctx).Where("bot_id = ?", botID).First(&bot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrBotNotFound
		}
		return "", fmt.Errorf("failed to look up bot %d: %w", botID, err)
	}
	return bot.Token, nil
}
