package sessions

import (
	"context"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

// onCandles processes one batch in arrival order. Every update moves the
// live price; closed candles also feed the evaluator and the entry timers.
// Setups of the batch are decided together in one pass.
func (s *UserSession) onCandles(ctx context.Context, batch []models.Candle) []models.EntryIntent {
	var setups []models.Setup
	for _, c := range batch {
		if _, ok := s.keys[c.Key()]; !ok {
			continue
		}
		if c.Close > 0 {
			s.onPrice(ctx, c.Symbol, c.Close)
		}
		if !c.Closed {
			continue
		}

		s.expireEntries(ctx, c)

		setup, ok, err := s.engine.OnCandle(c)
		if err != nil {
			if errors.Is(err, models.ErrFeedGap) {
				logger.Warn("[SESSION] user=%d %v", s.userID, err)
				continue
			}
			logger.Error("[SESSION] user=%d evaluate %s: %v", s.userID, c.Key(), err)
			continue
		}
		if ok {
			metrics.Setups.WithLabelValues(string(setup.Side), setup.Pattern).Inc()
			setups = append(setups, setup)
		}
	}
	if len(setups) == 0 {
		return nil
	}
	return s.pass(ctx, setups)
}

// expireEntries cancels pending entries whose bar budget ran out on c.
func (s *UserSession) expireEntries(ctx context.Context, c models.Candle) {
	end := c.End
	if end.IsZero() {
		end = c.Start
	}
	for _, p := range s.book.Snapshot() {
		if p.State != models.StatePendingEntry1 || p.Symbol != c.Symbol || p.Timeframe != c.Timeframe {
			continue
		}
		if p.EntryDeadline.IsZero() || end.Before(p.EntryDeadline) {
			continue
		}
		logger.Info("[SESSION] user=%d %s entry timed out after %d bars", s.userID, p.ID, s.opt.EntryTimeoutBars)
		s.abandonEntry(ctx, p, "entry timeout")
	}
}

func entryDeadline(candleTime time.Time, tf time.Duration, bars int) time.Time {
	if tf <= 0 || bars <= 0 {
		return time.Time{}
	}
	return candleTime.Add(time.Duration(bars) * tf)
}
