package service

import "fibo_bot/internal/models"

type Engine interface {
	// OnCandle evaluates one closed candle. ok is true when the candle is a
	// qualifying setup. Dropped candles return an error wrapping ErrFeedGap.
	OnCandle(c models.Candle) (setup models.Setup, ok bool, err error)

	// Seed preloads history without emitting setups. Returns how many bars were kept.
	Seed(key models.FeedKey, history []models.Candle) int

	// Forget drops a key's state after an unsubscribe.
	Forget(key models.FeedKey)

	IsReady(key models.FeedKey) bool
	Dump(key models.FeedKey) string
	Name() string
}

// EngineFactory builds a fresh engine for one session. Engines keep per-key
// state and are never shared between users.
type EngineFactory func() Engine
