package models

import (
	"math"
	"time"
)

type PositionState string

const (
	StatePendingEntry1   PositionState = "PENDING_ENTRY1"
	StateOpenEntry1Only  PositionState = "OPEN_ENTRY1_ONLY"
	StateOpenBothEntries PositionState = "OPEN_BOTH_ENTRIES"
	StateClosed          PositionState = "CLOSED"
	StateStopped         PositionState = "STOPPED"
	StateCancelled       PositionState = "CANCELLED"
)

func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateStopped || s == StateCancelled
}

func (s PositionState) Open() bool {
	return s == StateOpenEntry1Only || s == StateOpenBothEntries
}

// PositionKey: at most one non-terminal position exists per key.
type PositionKey struct {
	Symbol    string
	Timeframe string
	Side      Side
}

// OrderRef tracks one venue order placed for a position.
type OrderRef struct {
	ClientID  string     `json:"client_id"`
	Price     float64    `json:"price"`
	Qty       float64    `json:"qty"`
	FilledQty float64    `json:"filled_qty"`
	AvgPrice  float64    `json:"avg_price"`
	State     OrderState `json:"state"`
	PlacedAt  time.Time  `json:"placed_at"`
}

func (o OrderRef) Placed() bool { return o.ClientID != "" && o.State != "" }

// Position is one trade from the first entry order to its terminal state.
type Position struct {
	ID          string        `json:"id"` // intent id
	UserID      int64         `json:"user_id"`
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	Side        Side          `json:"side"`
	State       PositionState `json:"state"`
	Entry1Price float64       `json:"entry1_price"`
	Entry2Price float64       `json:"entry2_price"` // 0 when entry2 is off
	Entry1      OrderRef      `json:"entry1"`
	Entry2      OrderRef      `json:"entry2"`
	AvgEntry    float64       `json:"avg_entry"`
	SizeUSD     float64       `json:"size_usd"`    // planned notional, both legs
	FilledSize  float64       `json:"filled_size"` // entered notional in USD
	FilledQty   float64       `json:"filled_qty"`
	OpenQty     float64       `json:"open_qty"`
	PlannedStop float64       `json:"planned_stop"`
	StopPrice   float64       `json:"stop_price"` // live stop, moves to break-even
	Impulse     float64       `json:"impulse"`
	Targets     []TargetLevel `json:"targets"`
	RealizedPnL float64       `json:"realized_pnl"`
	// Entry2Locked is set once PnL was realized; entry2 may no longer fill.
	Entry2Locked      bool      `json:"entry2_locked"`
	AdjustLastTarget  bool      `json:"adjust_last_target"`
	CloseReason       string    `json:"close_reason,omitempty"`
	CandleTime        time.Time `json:"candle_time"`
	EntryDeadline     time.Time `json:"entry_deadline"`
	OpenedAt          time.Time `json:"opened_at"`
	ClosedAt          time.Time `json:"closed_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
	ManualCloseSeq    int       `json:"manual_close_seq"`
	LastEntryPollAt   time.Time `json:"-"`
}

func (p *Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Timeframe: p.Timeframe, Side: p.Side}
}

func (p *Position) HasEntry2() bool { return p.Entry2Price > 0 }

// RemainingTargets returns the targets not yet hit, nearest first.
func (p *Position) RemainingTargets() []TargetLevel {
	out := make([]TargetLevel, 0, len(p.Targets))
	for _, t := range p.Targets {
		if !t.Hit {
			out = append(out, t)
		}
	}
	return out
}

func (p *Position) HitTargets() []TargetLevel {
	out := make([]TargetLevel, 0, len(p.Targets))
	for _, t := range p.Targets {
		if t.Hit {
			out = append(out, t)
		}
	}
	return out
}

// NextTarget is the index of the nearest unhit target, -1 if none.
func (p *Position) NextTarget() int {
	for i, t := range p.Targets {
		if !t.Hit {
			return i
		}
	}
	return -1
}

// LastUnhitTarget is the index of the furthest unhit target, -1 if none.
func (p *Position) LastUnhitTarget() int {
	for i := len(p.Targets) - 1; i >= 0; i-- {
		if !p.Targets[i].Hit {
			return i
		}
	}
	return -1
}

// TargetPctBalanced checks hit + remaining == 100.
func (p *Position) TargetPctBalanced() bool {
	return math.Abs(SumPct(levelsAsTargets(p.HitTargets()))+SumPct(levelsAsTargets(p.RemainingTargets()))-100) < 1e-9
}

func levelsAsTargets(ls []TargetLevel) []Target {
	out := make([]Target, len(ls))
	for i, l := range ls {
		out[i] = Target{FibLevel: l.FibLevel, Pct: l.Pct}
	}
	return out
}

// Clone copies the position including its target slice.
func (p *Position) Clone() *Position {
	cp := *p
	cp.Targets = append([]TargetLevel(nil), p.Targets...)
	return &cp
}

// TradeRecord is the archived summary of a terminal position.
type TradeRecord struct {
	PositionID  string        `json:"position_id"`
	UserID      int64         `json:"user_id"`
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	Side        Side          `json:"side"`
	State       PositionState `json:"state"`
	AvgEntry    float64       `json:"avg_entry"`
	FilledQty   float64       `json:"filled_qty"`
	FilledSize  float64       `json:"filled_size"`
	RealizedPnL float64       `json:"realized_pnl"`
	Reason      string        `json:"reason"`
	OpenedAt    time.Time     `json:"opened_at"`
	ClosedAt    time.Time     `json:"closed_at"`
}

func (p *Position) ToTradeRecord() TradeRecord {
	return TradeRecord{
		PositionID:  p.ID,
		UserID:      p.UserID,
		Symbol:      p.Symbol,
		Timeframe:   p.Timeframe,
		Side:        p.Side,
		State:       p.State,
		AvgEntry:    p.AvgEntry,
		FilledQty:   p.FilledQty,
		FilledSize:  p.FilledSize,
		RealizedPnL: p.RealizedPnL,
		Reason:      p.CloseReason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
}
