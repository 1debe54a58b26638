package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideNone  Side = ""
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign is +1 for long and -1 for short. Price offsets in favour of the
// position are added with Sign, offsets against it are subtracted.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OpenOrderSide is the venue side that increases the position.
func (s Side) OpenOrderSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

// CloseOrderSide is the venue side that reduces the position.
func (s Side) CloseOrderSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

// PosSide is the venue's hedge-mode position side.
func (s Side) PosSide() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// FeedKey identifies one candle stream.
type FeedKey struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

func (k FeedKey) String() string { return k.Symbol + ":" + k.Timeframe }

// Candle is one OHLCV bar. Start is the open time, End the close time.
// Closed is false for in-progress updates, which only carry the live price.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Closed    bool      `json:"closed"`
}

func (c Candle) Key() FeedKey { return FeedKey{Symbol: c.Symbol, Timeframe: c.Timeframe} }

// Validate rejects bars no indicator should see.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if !Finite(v) {
			return fmt.Errorf("non-finite value in candle %s@%d", c.Key(), c.Start.Unix())
		}
	}
	if c.Close <= 0 || c.Low <= 0 {
		return fmt.Errorf("non-positive price in candle %s@%d", c.Key(), c.Start.Unix())
	}
	if c.High < c.Low || c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("inconsistent ohlc in candle %s@%d", c.Key(), c.Start.Unix())
	}
	if c.Start.IsZero() {
		return fmt.Errorf("missing start in candle %s", c.Key())
	}
	return nil
}

// Setup is a qualifying pattern detected on one closed candle.
type Setup struct {
	Key        FeedKey   `json:"key"`
	Side       Side      `json:"side"`
	CandleTime time.Time `json:"candle_time"` // close time of the setup candle
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Pattern    string    `json:"pattern"`
	Reason     string    `json:"reason"`
}

// Impulse is the price swing the fib levels are measured from.
func (s Setup) Impulse() float64 { return s.High - s.Low }

// TargetLevel is a priced target. Hit is set once its percentage was closed.
type TargetLevel struct {
	FibLevel float64   `json:"fib_level"`
	Pct      float64   `json:"pct"`
	Price    float64   `json:"price"`
	Hit      bool      `json:"hit"`
	HitAt    time.Time `json:"hit_at,omitempty"`
}

// EntryIntent is what the decision pass hands to the position manager.
type EntryIntent struct {
	IntentID    string        `json:"intent_id"`
	UserID      int64         `json:"user_id"`
	Symbol      string        `json:"symbol"`
	Timeframe   string        `json:"timeframe"`
	Side        Side          `json:"side"`
	Entry1Price float64       `json:"entry1_price"`
	Entry1Qty   float64       `json:"entry1_qty"`
	Entry2Price float64       `json:"entry2_price"` // 0 when entry2 is off
	Entry2Qty   float64       `json:"entry2_qty"`
	SizeUSD     float64       `json:"size_usd"`
	PlannedStop float64       `json:"planned_stop"`
	Impulse     float64       `json:"impulse"`
	Targets     []TargetLevel `json:"targets"`
	CandleTime  time.Time     `json:"candle_time"`
	Reason      string        `json:"reason"`
}

// IntentIDLen leaves 8 of the 32 characters OKX allows in a client order
// id for the leg tag.
const IntentIDLen = 24

// NewIntentID returns a random hex id of IntentIDLen characters.
func NewIntentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IntentIDLen]
}
