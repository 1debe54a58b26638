package sessions

import (
	"context"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

const (
	tagEntry1 = "e1"
	tagEntry2 = "e2"
)

// openEntry records and submits the entry1 limit order of a freshly
// admitted position. A venue rejection cancels the position and frees its
// slot; an unknown outcome keeps the order recorded for the poll.
func (s *UserSession) openEntry(ctx context.Context, p *models.Position) {
	p.EntryDeadline = entryDeadline(p.CandleTime, helper.TimeframeToDuration(p.Timeframe), s.opt.EntryTimeoutBars)
	p.Entry1.ClientID = clientID(tagEntry1, p.ID)
	p.Entry1.State = models.OrderNew
	p.Entry1.PlacedAt = s.now()
	s.persist(ctx, p)

	st, err := s.submit(ctx, tagEntry1, s.entryRequest(p, p.Entry1))
	if err != nil {
		if models.IsVenueTimeout(err) {
			logger.Warn("[SESSION] user=%d entry1 %s outcome unknown, will poll: %v", s.userID, p.Entry1.ClientID, err)
			return
		}
		logger.Warn("[SESSION] user=%d entry1 %s rejected: %v", s.userID, p.Entry1.ClientID, err)
		p.Entry1.State = models.OrderCancelled
		s.finish(ctx, p, evEntryExpired, "entry rejected")
		return
	}
	s.applyEntry(ctx, p, 1, st)
	s.persist(ctx, p)
}

// placeEntry2 rests the scale-in order once entry1 is in.
func (s *UserSession) placeEntry2(ctx context.Context, p *models.Position) {
	if !p.HasEntry2() || p.Entry2Locked || p.Entry2.Placed() {
		return
	}
	p.Entry2.ClientID = clientID(tagEntry2, p.ID)
	p.Entry2.State = models.OrderNew
	p.Entry2.PlacedAt = s.now()
	s.persist(ctx, p)

	st, err := s.submit(ctx, tagEntry2, s.entryRequest(p, p.Entry2))
	if err != nil {
		if models.IsVenueTimeout(err) {
			return
		}
		// a refused scale-in only drops entry2
		logger.Warn("[SESSION] user=%d entry2 %s rejected: %v", s.userID, p.Entry2.ClientID, err)
		p.Entry2.State = models.OrderCancelled
		p.Entry2Locked = true
		s.persist(ctx, p)
		return
	}
	s.applyEntry(ctx, p, 2, st)
	s.persist(ctx, p)
}

func (s *UserSession) entryRequest(p *models.Position, leg models.OrderRef) models.OrderRequest {
	return models.OrderRequest{
		ClientID: leg.ClientID,
		Symbol:   p.Symbol,
		Side:     p.Side,
		Type:     models.OrderLimit,
		Price:    leg.Price,
		Qty:      leg.Qty,
	}
}

// applyEntry folds a venue order status into the position and fires the
// entry transitions. It does not persist.
func (s *UserSession) applyEntry(ctx context.Context, p *models.Position, legNo int, st models.OrderStatus) {
	leg := &p.Entry1
	if legNo == 2 {
		leg = &p.Entry2
	}
	if st.State != "" {
		leg.State = st.State
	}
	delta := st.FilledQty - leg.FilledQty
	if delta > 0 {
		leg.FilledQty = st.FilledQty
		if st.AvgPrice > 0 {
			leg.AvgPrice = st.AvgPrice
		} else if leg.AvgPrice == 0 {
			leg.AvgPrice = leg.Price
		}
		p.OpenQty += delta
		s.recalcFills(p)
	}

	switch {
	case legNo == 1 && p.State == models.StatePendingEntry1 && leg.State == models.OrderFilled:
		s.enter(ctx, p, evEntry1Filled)
		s.notify(ctx, models.EventEntryFilled, p, models.Event{Price: p.Entry1.AvgPrice, Qty: p.Entry1.FilledQty})
		s.placeEntry2(ctx, p)
	case legNo == 2 && delta > 0 && p.State == models.StateOpenEntry1Only:
		s.enter(ctx, p, evEntry2Filled)
		if p.AdjustLastTarget {
			s.adjustLastTarget(p)
		}
		s.notify(ctx, models.EventEntry2Filled, p, models.Event{Price: p.AvgEntry, Qty: p.Entry2.FilledQty})
	}
}

func (s *UserSession) enter(ctx context.Context, p *models.Position, ev fsmEvent) {
	to, err := next(p.State, ev)
	if err != nil {
		logger.Error("[SESSION] user=%d %s: %v", s.userID, p.ID, err)
		return
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = s.now()
	}
	p.State = to
	s.persist(ctx, p)
}

// recalcFills derives the blended entry and the entered notional from the legs.
func (s *UserSession) recalcFills(p *models.Position) {
	q1, q2 := p.Entry1.FilledQty, p.Entry2.FilledQty
	p.FilledQty = q1 + q2
	if p.FilledQty <= 0 {
		return
	}
	p.AvgEntry = (q1*p.Entry1.AvgPrice + q2*p.Entry2.AvgPrice) / p.FilledQty
	// priced at the limits, so it never exceeds the planned size
	p.FilledSize = q1*p.Entry1Price + q2*p.Entry2Price
}

// adjustLastTarget moves the furthest unhit target so it keeps its fib
// distance from the new blended entry.
func (s *UserSession) adjustLastTarget(p *models.Position) {
	i := p.LastUnhitTarget()
	if i < 0 {
		return
	}
	t := &p.Targets[i]
	old := t.Price
	t.Price = p.AvgEntry + p.Side.Sign()*p.Impulse*t.FibLevel
	if m, ok := s.meta[p.Symbol]; ok && m.TickSize > 0 {
		if p.Side == models.SideLong {
			t.Price = helper.RoundDownToTick(t.Price, m.TickSize)
		} else {
			t.Price = helper.RoundUpToTick(t.Price, m.TickSize)
		}
	}
	logger.Info("[SESSION] user=%d %s target %d moved %.6f -> %.6f", s.userID, p.ID, i+1, old, t.Price)
}

// cancelLeg pulls a resting entry order and folds in whatever filled
// before the cancel landed.
func (s *UserSession) cancelLeg(ctx context.Context, p *models.Position, legNo int) error {
	leg := &p.Entry1
	if legNo == 2 {
		leg = &p.Entry2
	}
	if !leg.Placed() || leg.State.Final() {
		return nil
	}
	err := s.gw.CancelOrder(ctx, p.Symbol, leg.ClientID)
	if err != nil && !errors.Is(err, models.ErrOrderNotFound) && !errors.Is(err, models.ErrVenueRejected) {
		return err
	}
	st, err := s.gw.GetOrder(ctx, p.Symbol, leg.ClientID)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		leg.State = models.OrderCancelled
		return nil
	case err != nil:
		return err
	}
	if !st.State.Final() {
		st.State = models.OrderCancelled
	}
	s.applyEntry(ctx, p, legNo, st)
	return nil
}

// lockEntry2 stops any further scale-in once PnL has been realized.
func (s *UserSession) lockEntry2(ctx context.Context, p *models.Position) {
	if !p.HasEntry2() || p.Entry2Locked {
		return
	}
	if err := s.cancelLeg(ctx, p, 2); err != nil {
		logger.Warn("[SESSION] user=%d cancel entry2 %s: %v", s.userID, p.Entry2.ClientID, err)
		return
	}
	p.Entry2Locked = true
}

// abandonEntry ends a pending entry1: a partial fill is kept and opened,
// no fill cancels the position.
func (s *UserSession) abandonEntry(ctx context.Context, p *models.Position, reason string) {
	if err := s.cancelLeg(ctx, p, 1); err != nil {
		logger.Warn("[SESSION] user=%d cancel entry1 %s: %v", s.userID, p.Entry1.ClientID, err)
		return
	}
	if p.State != models.StatePendingEntry1 {
		// the cancel revealed a full fill
		s.persist(ctx, p)
		return
	}
	if p.Entry1.FilledQty > 0 {
		s.enter(ctx, p, evEntry1Filled)
		s.notify(ctx, models.EventEntryFilled, p, models.Event{Price: p.Entry1.AvgPrice, Qty: p.Entry1.FilledQty, Message: "partial fill kept: " + reason})
		s.placeEntry2(ctx, p)
		s.persist(ctx, p)
		return
	}
	s.finish(ctx, p, evEntryExpired, reason)
}

// pollOrders refreshes every resting entry order.
func (s *UserSession) pollOrders(ctx context.Context) {
	for _, p := range s.book.Snapshot() {
		changed := false
		if p.State == models.StatePendingEntry1 && p.Entry1.Placed() && !p.Entry1.State.Final() {
			changed = s.pollLeg(ctx, p, 1) || changed
		}
		if p.State.Open() && p.HasEntry2() && !p.Entry2Locked && p.Entry2.Placed() && !p.Entry2.State.Final() {
			changed = s.pollLeg(ctx, p, 2) || changed
		}
		if p.State.Open() && p.HasEntry2() && !p.Entry2Locked && !p.Entry2.Placed() {
			s.placeEntry2(ctx, p)
		}
		if changed {
			s.persist(ctx, p)
		}
	}
}

func (s *UserSession) pollLeg(ctx context.Context, p *models.Position, legNo int) bool {
	leg := p.Entry1
	if legNo == 2 {
		leg = p.Entry2
	}
	st, err := s.gw.GetOrder(ctx, p.Symbol, leg.ClientID)
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		// never reached the venue; safe to resubmit under the same id
		st, err = s.submit(ctx, map[int]string{1: tagEntry1, 2: tagEntry2}[legNo], s.entryRequest(p, leg))
		if err != nil {
			logger.Warn("[SESSION] user=%d resubmit %s: %v", s.userID, leg.ClientID, err)
			if !models.IsVenueTimeout(err) && legNo == 1 {
				p.Entry1.State = models.OrderCancelled
				s.finish(ctx, p, evEntryExpired, "entry rejected")
			}
			return false
		}
	case err != nil:
		logger.Warn("[SESSION] user=%d poll %s: %v", s.userID, leg.ClientID, err)
		return false
	}
	before := p.State
	s.applyEntry(ctx, p, legNo, st)
	if legNo == 1 && st.State == models.OrderCancelled && p.State == models.StatePendingEntry1 {
		// cancelled on the venue side
		s.abandonEntry(ctx, p, "entry cancelled by venue")
	}
	return p.State != before || st.FilledQty > 0
}
