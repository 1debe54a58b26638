package sessions

import (
	"context"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"
)

// desiredKeys is every configured symbol x timeframe plus the keys of live
// positions, which stay monitored after a config change.
func (s *UserSession) desiredKeys(cfg models.UserBotConfig) map[models.FeedKey]struct{} {
	out := make(map[models.FeedKey]struct{}, len(cfg.Symbols)*len(cfg.Timeframes))
	for _, sym := range cfg.Symbols {
		for _, tf := range cfg.Timeframes {
			out[models.FeedKey{Symbol: sym, Timeframe: tf}] = struct{}{}
		}
	}
	for _, k := range s.book.Keys() {
		out[k] = struct{}{}
	}
	return out
}

// resubscribe moves the stream to the desired key set in place. New keys
// are warmed up from venue history before their first live candle.
func (s *UserSession) resubscribe(ctx context.Context) {
	want := s.desiredKeys(s.effective())

	var added, removed []models.FeedKey
	for k := range want {
		if _, ok := s.keys[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range s.keys {
		if _, ok := want[k]; !ok {
			removed = append(removed, k)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	if len(removed) > 0 {
		s.sub.Remove(removed...)
		for _, k := range removed {
			delete(s.keys, k)
			s.engine.Forget(k)
		}
	}
	for _, k := range added {
		s.warmUp(ctx, k)
		s.keys[k] = struct{}{}
	}
	if len(added) > 0 {
		s.sub.Add(added...)
	}
	logger.Info("[SESSION] user=%d resubscribed +%d -%d keys", s.userID, len(added), len(removed))
}

func (s *UserSession) warmUp(ctx context.Context, k models.FeedKey) {
	hist, err := s.gw.History(ctx, k, s.opt.CandleHistory)
	if err != nil {
		logger.Warn("[SESSION] user=%d warm-up %s: %v", s.userID, k, err)
		return
	}
	kept := s.engine.Seed(k, hist)
	if n := len(hist); n > 0 {
		s.last[k.Symbol] = hist[n-1].Close
	}
	logger.Info("[SESSION] user=%d warm-up %s: %d/%d bars, ready=%v", s.userID, k, kept, len(hist), s.engine.IsReady(k))
}
