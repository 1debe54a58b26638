package sessions

import (
	"context"
	"fmt"
	"math"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	"fibo_bot/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	tagStop = "s1"
	qtyEps  = 1e-12
)

// onPrice checks every live position on symbol against the latest price:
// early cancel for pending entries, then stop, then targets.
func (s *UserSession) onPrice(ctx context.Context, symbol string, px float64) {
	s.last[symbol] = px
	for _, p := range s.book.Snapshot() {
		if p.Symbol != symbol {
			continue
		}
		s.check(ctx, p, px)
	}
}

func (s *UserSession) check(ctx context.Context, p *models.Position, px float64) {
	switch {
	case p.State == models.StatePendingEntry1:
		if len(p.Targets) > 0 && reached(p.Side, px, p.Targets[0].Price) {
			logger.Info("[SESSION] user=%d %s target 1 touched before fill, cancelling", s.userID, p.ID)
			s.abandonEntry(ctx, p, "target 1 reached before entry")
		}
	case p.State.Open():
		if breached(p.Side, px, p.StopPrice) {
			s.stopOut(ctx, p, px)
			return
		}
		s.takeTargets(ctx, p, px)
	}
}

// reached: price moved in the position's favour to level.
func reached(side models.Side, px, level float64) bool {
	if side == models.SideShort {
		return px <= level
	}
	return px >= level
}

// breached: price moved against the position to the stop.
func breached(side models.Side, px, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if side == models.SideShort {
		return px >= stop
	}
	return px <= stop
}

func (s *UserSession) stopOut(ctx context.Context, p *models.Position, px float64) {
	s.lockEntry2(ctx, p)
	qty := p.OpenQty
	if qty > qtyEps {
		filled, fillPx, err := s.marketClose(ctx, p, tagStop, qty, px)
		if err != nil {
			logger.Error("[SESSION] user=%d stop close %s failed: %v", s.userID, p.ID, err)
			s.persist(ctx, p)
			return
		}
		s.realize(p, filled, fillPx)
	}
	s.notify(ctx, models.EventStopHit, p, models.Event{Price: px, Qty: qty, PnL: p.RealizedPnL})
	s.finish(ctx, p, evStopHit, "stop hit")
}

// takeTargets consumes every target the price has reached, nearest first.
// Each one closes its pct of the filled size; the last one closes the rest.
func (s *UserSession) takeTargets(ctx context.Context, p *models.Position, px float64) {
	hitAny := false
	for {
		i := p.NextTarget()
		if i < 0 || !reached(p.Side, px, p.Targets[i].Price) {
			break
		}
		t := p.Targets[i]

		qty := p.FilledQty * t.Pct / 100
		if m, ok := s.meta[p.Symbol]; ok && m.LotSize > 0 {
			qty = helper.RoundDownToTick(qty, m.LotSize)
		}
		if i == p.LastUnhitTarget() || qty > p.OpenQty {
			qty = p.OpenQty
		}

		if qty > qtyEps {
			filled, fillPx, err := s.marketClose(ctx, p, fmt.Sprintf("t%d", i+1), qty, px)
			if err != nil {
				logger.Error("[SESSION] user=%d target %d close %s failed: %v", s.userID, i+1, p.ID, err)
				break
			}
			s.realize(p, filled, fillPx)
		}
		p.Targets[i].Hit = true
		p.Targets[i].HitAt = s.now()
		hitAny = true
		s.notify(ctx, models.EventTargetHit, p, models.Event{Price: px, Qty: qty, PnL: p.RealizedPnL, Target: i + 1})

		if i == 0 && s.opt.BreakEvenAfterFirstTarget && p.AvgEntry > 0 {
			p.StopPrice = p.AvgEntry
		}
	}
	if !hitAny {
		return
	}

	s.lockEntry2(ctx, p)
	if p.NextTarget() < 0 || p.OpenQty <= qtyEps {
		s.finish(ctx, p, evTargetsDone, "targets done")
		return
	}
	s.persist(ctx, p)
}

// realize books the PnL of a reduce fill against the blended entry.
func (s *UserSession) realize(p *models.Position, qty, px float64) {
	if qty > p.OpenQty {
		qty = p.OpenQty
	}
	pnl := decimal.NewFromFloat(px).Sub(decimal.NewFromFloat(p.AvgEntry)).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(p.Side.Sign()))
	p.RealizedPnL = decimal.NewFromFloat(p.RealizedPnL).Add(pnl).InexactFloat64()
	p.OpenQty = math.Max(0, p.OpenQty-qty)
}

// finish moves p into a terminal state, pulls any resting entry order,
// archives the trade and frees its slot.
func (s *UserSession) finish(ctx context.Context, p *models.Position, ev fsmEvent, reason string) {
	to, err := next(p.State, ev)
	if err != nil {
		logger.Error("[SESSION] user=%d %s: %v", s.userID, p.ID, err)
		return
	}
	if p.HasEntry2() && p.Entry2.Placed() && !p.Entry2.State.Final() {
		if err := s.cancelLeg(ctx, p, 2); err != nil {
			logger.Warn("[SESSION] user=%d cancel entry2 %s on close: %v", s.userID, p.Entry2.ClientID, err)
		}
	}
	p.Entry2Locked = p.HasEntry2()
	p.State = to
	p.CloseReason = reason
	p.ClosedAt = s.now()
	s.persist(ctx, p)
	metrics.PositionsClosed.WithLabelValues(string(to)).Inc()

	kind := models.EventPositionClosed
	if to == models.StateCancelled {
		kind = models.EventEntryCancelled
	}
	s.notify(ctx, kind, p, models.Event{PnL: p.RealizedPnL, Message: reason})
	logger.Info("[SESSION] user=%d %s %s -> %s (%s) pnl=%.4f", s.userID, p.ID, p.Symbol, to, reason, p.RealizedPnL)
}
