package service

import (
	"context"
	"fmt"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// CachedStore wraps the primary store with a Redis read-through cache for
// the two hot reads: the config loaded on every pass and the instance
// status polled by the API. Writes go to the primary first and then
// refresh or drop the cached entry.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

func configKey(userID int64) string { return fmt.Sprintf("fibo:config:%d", userID) }
func statusKey(userID int64) string { return fmt.Sprintf("fibo:status:%d", userID) }

func (s *CachedStore) GetConfig(ctx context.Context, userID int64) (models.UserBotConfig, error) {
	if data, err := s.rdb.Get(ctx, configKey(userID)).Bytes(); err == nil {
		var cfg models.UserBotConfig
		if sonic.Unmarshal(data, &cfg) == nil {
			return cfg, nil
		}
	}

	cfg, err := s.Store.GetConfig(ctx, userID)
	if err != nil {
		return cfg, err
	}
	s.set(ctx, configKey(userID), cfg)
	return cfg, nil
}

func (s *CachedStore) PutConfig(ctx context.Context, cfg models.UserBotConfig) error {
	if err := s.Store.PutConfig(ctx, cfg); err != nil {
		return err
	}
	s.del(ctx, configKey(cfg.UserID))
	return nil
}

func (s *CachedStore) UpdateConfig(ctx context.Context, userID int64, fn ConfigUpdate) (models.UserBotConfig, error) {
	cfg, err := s.Store.UpdateConfig(ctx, userID, fn)
	if err != nil {
		return cfg, err
	}
	s.del(ctx, configKey(userID))
	return cfg, nil
}

func (s *CachedStore) GetStatus(ctx context.Context, userID int64) (models.InstanceStatus, error) {
	if data, err := s.rdb.Get(ctx, statusKey(userID)).Bytes(); err == nil {
		var st models.InstanceStatus
		if sonic.Unmarshal(data, &st) == nil {
			return st, nil
		}
	}

	st, err := s.Store.GetStatus(ctx, userID)
	if err != nil {
		return st, err
	}
	s.set(ctx, statusKey(userID), st)
	return st, nil
}

func (s *CachedStore) UpsertStatus(ctx context.Context, st models.InstanceStatus) error {
	if err := s.Store.UpsertStatus(ctx, st); err != nil {
		return err
	}
	s.set(ctx, statusKey(st.UserID), st)
	return nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		logger.Warn("[STORE] redis set %s: %v", key, err)
	}
}

func (s *CachedStore) del(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		logger.Warn("[STORE] redis del %s: %v", key, err)
	}
}
