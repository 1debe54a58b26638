package models

import (
	"math"
	"time"
)

type TradeMode string

const (
	TradeModeBoth      TradeMode = "BOTH"
	TradeModeLongOnly  TradeMode = "LONG_ONLY"
	TradeModeShortOnly TradeMode = "SHORT_ONLY"
)

// Allows reports whether the mode lets a setup of the given side through.
func (m TradeMode) Allows(side Side) bool {
	switch m {
	case TradeModeLongOnly:
		return side == SideLong
	case TradeModeShortOnly:
		return side == SideShort
	default:
		return side == SideLong || side == SideShort
	}
}

// Target is one take-profit leg: a fib extension of the impulse and the
// percentage of the filled size closed there.
type Target struct {
	FibLevel float64 `json:"fib_level"`
	Pct      float64 `json:"pct"`
}

func SumPct(ts []Target) float64 {
	var s float64
	for _, t := range ts {
		s += t.Pct
	}
	return s
}

// UserBotConfig is the user's requested configuration. Values are never
// trusted until they went through risk.Clamp.
type UserBotConfig struct {
	UserID                 int64     `json:"user_id"`
	Enabled                bool      `json:"enabled"`
	Symbols                []string  `json:"symbols"`
	Timeframes             []string  `json:"timeframes"`
	TradeMode              TradeMode `json:"trade_mode"`
	TargetLossUSD          float64   `json:"target_loss_usd"`
	MaxPositions           int       `json:"max_positions"`
	MaxSinglePositionUSD   float64   `json:"max_single_position_usd"`
	MaxGlobalExposureUSD   float64   `json:"max_global_exposure_usd"`
	Entry2Enabled          bool      `json:"entry2_enabled"`
	Entry2Multiplier       float64   `json:"entry2_multiplier"`
	Entry2AdjustLastTarget bool      `json:"entry2_adjust_last_target"`
	StopMultiplier         float64   `json:"stop_multiplier"`
	Targets                []Target  `json:"targets"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Clone returns a deep copy; slices are not shared.
func (c UserBotConfig) Clone() UserBotConfig {
	out := c
	out.Symbols = append([]string(nil), c.Symbols...)
	out.Timeframes = append([]string(nil), c.Timeframes...)
	out.Targets = append([]Target(nil), c.Targets...)
	return out
}

// ConfigPatch is a partial update: nil fields are left untouched.
type ConfigPatch struct {
	Enabled                *bool      `json:"enabled,omitempty"`
	Symbols                []string   `json:"symbols,omitempty"`
	Timeframes             []string   `json:"timeframes,omitempty"`
	TradeMode              *TradeMode `json:"trade_mode,omitempty"`
	TargetLossUSD          *float64   `json:"target_loss_usd,omitempty"`
	MaxPositions           *int       `json:"max_positions,omitempty"`
	MaxSinglePositionUSD   *float64   `json:"max_single_position_usd,omitempty"`
	MaxGlobalExposureUSD   *float64   `json:"max_global_exposure_usd,omitempty"`
	Entry2Enabled          *bool      `json:"entry2_enabled,omitempty"`
	Entry2Multiplier       *float64   `json:"entry2_multiplier,omitempty"`
	Entry2AdjustLastTarget *bool      `json:"entry2_adjust_last_target,omitempty"`
	StopMultiplier         *float64   `json:"stop_multiplier,omitempty"`
	Targets                []Target   `json:"targets,omitempty"`
}

// Apply merges the patch into a copy of c.
func (p ConfigPatch) Apply(c UserBotConfig) UserBotConfig {
	out := c.Clone()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Symbols != nil {
		out.Symbols = append([]string(nil), p.Symbols...)
	}
	if p.Timeframes != nil {
		out.Timeframes = append([]string(nil), p.Timeframes...)
	}
	if p.TradeMode != nil {
		out.TradeMode = *p.TradeMode
	}
	if p.TargetLossUSD != nil {
		out.TargetLossUSD = *p.TargetLossUSD
	}
	if p.MaxPositions != nil {
		out.MaxPositions = *p.MaxPositions
	}
	if p.MaxSinglePositionUSD != nil {
		out.MaxSinglePositionUSD = *p.MaxSinglePositionUSD
	}
	if p.MaxGlobalExposureUSD != nil {
		out.MaxGlobalExposureUSD = *p.MaxGlobalExposureUSD
	}
	if p.Entry2Enabled != nil {
		out.Entry2Enabled = *p.Entry2Enabled
	}
	if p.Entry2Multiplier != nil {
		out.Entry2Multiplier = *p.Entry2Multiplier
	}
	if p.Entry2AdjustLastTarget != nil {
		out.Entry2AdjustLastTarget = *p.Entry2AdjustLastTarget
	}
	if p.StopMultiplier != nil {
		out.StopMultiplier = *p.StopMultiplier
	}
	if p.Targets != nil {
		out.Targets = append([]Target(nil), p.Targets...)
	}
	return out
}

// Finite is false for NaN and ±Inf.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
