package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"fibo_bot/internal/models"

	"github.com/pkg/errors"
)

// MemoryStore keeps everything in maps. Values are copied in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[int64]models.BotUser
	configs   map[int64]models.UserBotConfig
	positions map[string]*models.Position
	trades    map[int64][]models.TradeRecord
	status    map[int64]models.InstanceStatus
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]models.BotUser),
		configs:   make(map[int64]models.UserBotConfig),
		positions: make(map[string]*models.Position),
		trades:    make(map[int64][]models.TradeRecord),
		status:    make(map[int64]models.InstanceStatus),
		now:       time.Now,
	}
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]models.BotUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BotUser, 0, len(s.users))
	for id, u := range s.users {
		if cfg, ok := s.configs[id]; ok {
			u.Config = cfg.Clone()
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID int64) (models.BotUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.BotUser{}, errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	if cfg, ok := s.configs[userID]; ok {
		u.Config = cfg.Clone()
	}
	return u, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u models.BotUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Config = models.UserBotConfig{}
	s.users[u.UserID] = u
	return nil
}

func (s *MemoryStore) LinkChat(_ context.Context, userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	u.ChatID = chatID
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) GetConfig(_ context.Context, userID int64) (models.UserBotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[userID]
	if !ok {
		return models.UserBotConfig{}, errors.Wrapf(models.ErrNotFound, "config of user %d", userID)
	}
	return cfg.Clone(), nil
}

func (s *MemoryStore) PutConfig(_ context.Context, cfg models.UserBotConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = s.now()
	}
	s.configs[cfg.UserID] = cfg.Clone()
	return nil
}

func (s *MemoryStore) UpdateConfig(_ context.Context, userID int64, fn ConfigUpdate) (models.UserBotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, found := s.configs[userID]
	next, err := fn(cur.Clone(), found)
	if err != nil {
		return models.UserBotConfig{}, err
	}
	next.UserID = userID
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = s.now()
	}
	s.configs[userID] = next.Clone()
	return next, nil
}

func (s *MemoryStore) SavePosition(_ context.Context, p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID int64, openOnly bool) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Position, 0)
	for _, p := range s.positions {
		if p.UserID != userID || (openOnly && p.State.Terminal()) {
			continue
		}
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandleTime.Before(out[j].CandleTime) })
	return out, nil
}

func (s *MemoryStore) ArchiveTrade(_ context.Context, rec models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades[rec.UserID] {
		if t.PositionID == rec.PositionID {
			return nil
		}
	}
	s.trades[rec.UserID] = append(s.trades[rec.UserID], rec)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID int64, limit int) ([]models.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.trades[userID]
	out := make([]models.TradeRecord, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertStatus(_ context.Context, st models.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	s.status[st.UserID] = st
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, userID int64) (models.InstanceStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.status[userID]
	if !ok {
		return models.InstanceStatus{UserID: userID, Status: models.RunStateStopped}, nil
	}
	return st, nil
}
