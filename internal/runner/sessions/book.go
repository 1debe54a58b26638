package sessions

import (
	"sort"
	"sync"

	"fibo_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrSlotsFull   = errors.New("max positions reached")
	ErrExposureCap = errors.New("global exposure cap reached")
	ErrKeyBusy     = errors.New("position already open for key")
)

// Book holds a user's non-terminal positions. Admission is a
// compare-and-commit under one mutex, so the count and exposure caps hold
// however many passes race on it.
type Book struct {
	mu    sync.RWMutex
	byID  map[string]*models.Position
	byKey map[models.PositionKey]string
}

func NewBook() *Book {
	return &Book{
		byID:  make(map[string]*models.Position),
		byKey: make(map[models.PositionKey]string),
	}
}

// Admit reserves a slot and the intent's notional, returning the new
// PENDING_ENTRY1 position.
func (b *Book) Admit(in models.EntryIntent, maxPositions int, maxExposureUSD float64) (*models.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := models.PositionKey{Symbol: in.Symbol, Timeframe: in.Timeframe, Side: in.Side}
	if _, ok := b.byKey[key]; ok {
		return nil, errors.Wrapf(ErrKeyBusy, "%s %s %s", in.Symbol, in.Timeframe, in.Side)
	}
	if len(b.byID) >= maxPositions {
		return nil, errors.Wrapf(ErrSlotsFull, "%d/%d", len(b.byID), maxPositions)
	}
	exp := b.exposureLocked().Add(decimal.NewFromFloat(in.SizeUSD))
	if exp.GreaterThan(decimal.NewFromFloat(maxExposureUSD)) {
		return nil, errors.Wrapf(ErrExposureCap, "%s > %.2f", exp.StringFixed(2), maxExposureUSD)
	}

	p := newPosition(in)
	b.byID[p.ID] = p
	b.byKey[key] = p.ID
	return p.Clone(), nil
}

// Put stores the latest copy of a position. A terminal position is released.
func (b *Book) Put(p *models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.State.Terminal() {
		delete(b.byID, p.ID)
		if b.byKey[p.Key()] == p.ID {
			delete(b.byKey, p.Key())
		}
		return
	}
	b.byID[p.ID] = p.Clone()
	b.byKey[p.Key()] = p.ID
}

func (b *Book) Get(id string) (*models.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (b *Book) Busy(key models.PositionKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byKey[key]
	return ok
}

func (b *Book) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Exposure is the notional held or reserved by all non-terminal positions.
func (b *Book) Exposure() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exposureLocked().InexactFloat64()
}

func (b *Book) exposureLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, p := range b.byID {
		sum = sum.Add(exposure(p))
	}
	return sum
}

// Snapshot returns copies of all positions, oldest setup first.
func (b *Book) Snapshot() []*models.Position {
	b.mu.RLock()
	out := make([]*models.Position, 0, len(b.byID))
	for _, p := range b.byID {
		out = append(out, p.Clone())
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CandleTime.Equal(out[j].CandleTime) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].CandleTime.Before(out[j].CandleTime)
	})
	return out
}

// Keys lists the feed keys that still have a live position.
func (b *Book) Keys() []models.FeedKey {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[models.FeedKey]struct{}, len(b.byID))
	out := make([]models.FeedKey, 0, len(b.byID))
	for _, p := range b.byID {
		k := models.FeedKey{Symbol: p.Symbol, Timeframe: p.Timeframe}
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// exposure counts the open quantity at its average entry plus every entry
// leg that may still fill at its limit price.
func exposure(p *models.Position) decimal.Decimal {
	if p.State.Terminal() {
		return decimal.Zero
	}
	sum := decimal.NewFromFloat(p.OpenQty).Mul(decimal.NewFromFloat(p.AvgEntry))
	if p.State == models.StatePendingEntry1 && !p.Entry1.State.Final() {
		rest := p.Entry1.Qty - p.Entry1.FilledQty
		if rest > 0 {
			sum = sum.Add(decimal.NewFromFloat(rest).Mul(decimal.NewFromFloat(p.Entry1Price)))
		}
	}
	if p.HasEntry2() && !p.Entry2Locked && !p.Entry2.State.Final() {
		rest := p.Entry2.Qty - p.Entry2.FilledQty
		if rest > 0 {
			sum = sum.Add(decimal.NewFromFloat(rest).Mul(decimal.NewFromFloat(p.Entry2Price)))
		}
	}
	return sum
}

func newPosition(in models.EntryIntent) *models.Position {
	p := &models.Position{
		ID:          in.IntentID,
		UserID:      in.UserID,
		Symbol:      in.Symbol,
		Timeframe:   in.Timeframe,
		Side:        in.Side,
		State:       models.StatePendingEntry1,
		Entry1Price: in.Entry1Price,
		Entry2Price: in.Entry2Price,
		Entry1:      models.OrderRef{Price: in.Entry1Price, Qty: in.Entry1Qty},
		SizeUSD:     in.SizeUSD,
		PlannedStop: in.PlannedStop,
		StopPrice:   in.PlannedStop,
		Impulse:     in.Impulse,
		Targets:     append([]models.TargetLevel(nil), in.Targets...),
		CandleTime:  in.CandleTime,
	}
	if in.Entry2Price > 0 && in.Entry2Qty > 0 {
		p.Entry2 = models.OrderRef{Price: in.Entry2Price, Qty: in.Entry2Qty}
	} else {
		p.Entry2Price = 0
	}
	return p
}
