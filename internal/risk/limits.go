// Package risk turns a user's requested bot configuration into one that is
// admissible for the user's plan tier.
//
// PlanLimits is a plain lookup keyed by tier. Clamp is the only place where
// configuration is validated; the engine never reads a value it did not just
// clamp.
package risk

import (
	"math"

	"fibo_bot/internal/models"
)

// Range is an inclusive numeric bound.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp pins v into the range. Non-finite values become def, which is
// clamped too.
func (r Range) Clamp(v, def float64) float64 {
	if !models.Finite(v) {
		v = def
	}
	return math.Min(math.Max(v, r.Min), r.Max)
}

type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r IntRange) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// PlanLimits are the admissible ranges and sets for one tier.
type PlanLimits struct {
	Tier                 models.Tier        `json:"plan"`
	MaxPositions         IntRange           `json:"max_positions"`
	MaxGlobalExposureUSD Range              `json:"max_global_exposure_usd"`
	MaxSinglePositionUSD Range              `json:"max_single_position_usd"`
	TargetLossUSD        Range              `json:"target_loss_usd"`
	AllowedSymbols       []string           `json:"allowed_symbols"`
	AllowedTimeframes    []string           `json:"allowed_timeframes"`
	AllowedTradeModes    []models.TradeMode `json:"allowed_trade_modes"`
	AllowEntry2          bool               `json:"allowed_entry2"`
	Entry2Multiplier     Range              `json:"entry2_multiplier"`
	AllowCustomStop      bool               `json:"allowed_custom_stop"`
	StopMultiplier       Range              `json:"stop_multiplier"`
	AllowCustomTargets   bool               `json:"allowed_custom_targets"`
	TargetFibLevel       Range              `json:"target_fib_level"`
	MaxTargets           int                `json:"max_targets"`
}

const (
	DefaultStopMultiplier   = 1.8
	DefaultEntry2Multiplier = 1.414
	// Entry1RetraceFib is where entry1 sits inside the setup candle.
	Entry1RetraceFib = 0.618
)

// DefaultTargets are used whenever custom targets are not allowed or no
// valid list is known.
var DefaultTargets = []models.Target{
	{FibLevel: 0.618, Pct: 50},
	{FibLevel: 1.0, Pct: 50},
}

var (
	basicSymbols      = []string{"BTC", "ETH", "SOL"}
	proSymbols        = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE", "AVAX", "LINK"}
	enterpriseSymbols = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE", "AVAX", "LINK", "ARB", "OP", "SUI", "TON"}
)

var planTable = map[models.Tier]PlanLimits{
	models.TierBasic: {
		Tier:                 models.TierBasic,
		MaxPositions:         IntRange{Min: 1, Max: 2},
		MaxGlobalExposureUSD: Range{Min: 100, Max: 5000},
		MaxSinglePositionUSD: Range{Min: 50, Max: 2500},
		TargetLossUSD:        Range{Min: 5, Max: 20},
		AllowedSymbols:       basicSymbols,
		AllowedTimeframes:    []string{"15m"},
		AllowedTradeModes:    []models.TradeMode{models.TradeModeLongOnly, models.TradeModeShortOnly},
		AllowEntry2:          false,
		Entry2Multiplier:     Range{Min: DefaultEntry2Multiplier, Max: DefaultEntry2Multiplier},
		AllowCustomStop:      false,
		StopMultiplier:       Range{Min: DefaultStopMultiplier, Max: DefaultStopMultiplier},
		AllowCustomTargets:   false,
		TargetFibLevel:       Range{Min: 0.618, Max: 1.0},
		MaxTargets:           2,
	},
	models.TierPro: {
		Tier:                 models.TierPro,
		MaxPositions:         IntRange{Min: 1, Max: 5},
		MaxGlobalExposureUSD: Range{Min: 100, Max: 20000},
		MaxSinglePositionUSD: Range{Min: 50, Max: 10000},
		TargetLossUSD:        Range{Min: 5, Max: 100},
		AllowedSymbols:       proSymbols,
		AllowedTimeframes:    []string{"15m", "1h", "4h"},
		AllowedTradeModes:    []models.TradeMode{models.TradeModeBoth, models.TradeModeLongOnly, models.TradeModeShortOnly},
		AllowEntry2:          true,
		Entry2Multiplier:     Range{Min: 0.25, Max: 5.0},
		AllowCustomStop:      true,
		StopMultiplier:       Range{Min: 1.0, Max: 3.0},
		AllowCustomTargets:   true,
		TargetFibLevel:       Range{Min: 0.236, Max: 3.618},
		MaxTargets:           3,
	},
	models.TierEnterprise: {
		Tier:                 models.TierEnterprise,
		MaxPositions:         IntRange{Min: 1, Max: 10},
		MaxGlobalExposureUSD: Range{Min: 100, Max: 100000},
		MaxSinglePositionUSD: Range{Min: 50, Max: 50000},
		TargetLossUSD:        Range{Min: 5, Max: 500},
		AllowedSymbols:       enterpriseSymbols,
		AllowedTimeframes:    []string{"5m", "15m", "1h", "4h"},
		AllowedTradeModes:    []models.TradeMode{models.TradeModeBoth, models.TradeModeLongOnly, models.TradeModeShortOnly},
		AllowEntry2:          true,
		Entry2Multiplier:     Range{Min: 0.25, Max: 5.0},
		AllowCustomStop:      true,
		StopMultiplier:       Range{Min: 1.0, Max: 5.0},
		AllowCustomTargets:   true,
		TargetFibLevel:       Range{Min: 0.236, Max: 5.0},
		MaxTargets:           3,
	},
}

// LimitsFor returns a fresh copy of the tier's limits. Unknown tiers get basic.
func LimitsFor(tier models.Tier) PlanLimits {
	l, ok := planTable[tier]
	if !ok {
		l = planTable[models.TierBasic]
	}
	l.AllowedSymbols = append([]string(nil), l.AllowedSymbols...)
	l.AllowedTimeframes = append([]string(nil), l.AllowedTimeframes...)
	l.AllowedTradeModes = append([]models.TradeMode(nil), l.AllowedTradeModes...)
	return l
}

// DefaultConfig is the configuration a new user of the tier starts with.
func DefaultConfig(tier models.Tier) models.UserBotConfig {
	l := LimitsFor(tier)
	return models.UserBotConfig{
		Symbols:              []string{"BTC"},
		Timeframes:           []string{l.AllowedTimeframes[0]},
		TradeMode:            l.AllowedTradeModes[0],
		TargetLossUSD:        l.TargetLossUSD.Min,
		MaxPositions:         l.MaxPositions.Max,
		MaxSinglePositionUSD: l.MaxSinglePositionUSD.Max,
		MaxGlobalExposureUSD: l.MaxGlobalExposureUSD.Max,
		Entry2Multiplier:     DefaultEntry2Multiplier,
		StopMultiplier:       DefaultStopMultiplier,
		Targets:              append([]models.Target(nil), DefaultTargets...),
	}
}
