// Package service persists users, configs, positions, trades and instance
// status. Postgres is the source of truth; Redis caches the hot reads; the
// memory store backs tests and local runs.
package service

import (
	"context"

	"fibo_bot/internal/models"
)

type Users interface {
	// ListUsers returns every known user with tier, credentials and config.
	ListUsers(ctx context.Context) ([]models.BotUser, error)
	GetUser(ctx context.Context, userID int64) (models.BotUser, error)
	UpsertUser(ctx context.Context, u models.BotUser) error
	// LinkChat stores the notification chat of a user.
	LinkChat(ctx context.Context, userID, chatID int64) error
}

type Configs interface {
	// GetConfig returns ErrNotFound for a user that never saved a config.
	GetConfig(ctx context.Context, userID int64) (models.UserBotConfig, error)
	// PutConfig stores an already clamped config; it becomes the last known good.
	PutConfig(ctx context.Context, cfg models.UserBotConfig) error
	// UpdateConfig hands the stored config to fn (found is false when there
	// is none) and stores what fn returns. Concurrent updates of one user
	// are serialised so none of them is lost. An error from fn aborts the
	// update and is returned as is.
	UpdateConfig(ctx context.Context, userID int64, fn ConfigUpdate) (models.UserBotConfig, error)
}

type ConfigUpdate func(cur models.UserBotConfig, found bool) (models.UserBotConfig, error)

type Positions interface {
	// SavePosition upserts by position id.
	SavePosition(ctx context.Context, p *models.Position) error
	// ListPositions returns a user's positions; openOnly skips terminal ones.
	ListPositions(ctx context.Context, userID int64, openOnly bool) ([]models.Position, error)
	ArchiveTrade(ctx context.Context, rec models.TradeRecord) error
	// ListTrades returns the newest trades first.
	ListTrades(ctx context.Context, userID int64, limit int) ([]models.TradeRecord, error)
}

type Instances interface {
	UpsertStatus(ctx context.Context, st models.InstanceStatus) error
	GetStatus(ctx context.Context, userID int64) (models.InstanceStatus, error)
}

type Store interface {
	Users
	Configs
	Positions
	Instances
}
