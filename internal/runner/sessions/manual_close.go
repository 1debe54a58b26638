package sessions

import (
	"context"
	"fmt"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

// ClosePosition closes pct (1..100) of every live position on symbol. A
// position still waiting for entry1 is cancelled instead.
func (s *UserSession) ClosePosition(ctx context.Context, symbol string, pct float64) error {
	if pct <= 0 || pct > 100 {
		return errors.Errorf("close pct %.2f out of range 1..100", pct)
	}
	symbol = helper.NormSymbol(symbol)
	return s.exec(ctx, func(ctx context.Context) error {
		return s.closeManual(ctx, symbol, pct)
	})
}

func (s *UserSession) closeManual(ctx context.Context, symbol string, pct float64) error {
	found := false
	var firstErr error
	for _, p := range s.book.Snapshot() {
		if p.Symbol != symbol {
			continue
		}
		found = true
		if err := s.closeOne(ctx, p, pct); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !found {
		return errors.Wrapf(models.ErrNoOpenPosition, "user %d %s", s.userID, symbol)
	}
	return firstErr
}

func (s *UserSession) closeOne(ctx context.Context, p *models.Position, pct float64) error {
	if p.State == models.StatePendingEntry1 {
		s.abandonEntry(ctx, p, "closed manually")
		if p.State == models.StatePendingEntry1 {
			return errors.Wrapf(models.ErrVenueTimeout, "cancel entry %s", p.Entry1.ClientID)
		}
		if !p.State.Open() {
			return nil
		}
		// a partial fill was opened; close it too
	}

	px := s.last[p.Symbol]
	qty := p.OpenQty * pct / 100
	if m, ok := s.meta[p.Symbol]; ok && m.LotSize > 0 && pct < 100 {
		qty = helper.RoundDownToTick(qty, m.LotSize)
	}
	if pct >= 100 || qty > p.OpenQty {
		qty = p.OpenQty
	}

	s.lockEntry2(ctx, p)
	if qty > qtyEps {
		p.ManualCloseSeq++
		filled, fillPx, err := s.marketClose(ctx, p, fmt.Sprintf("m%d", p.ManualCloseSeq), qty, px)
		if err != nil {
			s.persist(ctx, p)
			return err
		}
		s.realize(p, filled, fillPx)
	}
	logger.Info("[SESSION] user=%d %s manual close %.0f%%, open qty now %.8f", s.userID, p.ID, pct, p.OpenQty)

	if p.OpenQty <= qtyEps {
		s.finish(ctx, p, evTargetsDone, "closed manually")
		return nil
	}
	s.persist(ctx, p)
	// re-evaluate the remainder against the last price
	if px > 0 {
		s.check(ctx, p, px)
	}
	return nil
}
