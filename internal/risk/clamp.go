package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
)

const pctTolerance = 1e-6

// ConfigRejectedError names the one field that could not be applied. The
// config returned next to it is still fully clamped and usable.
type ConfigRejectedError struct {
	Field  string
	Reason string
}

func (e *ConfigRejectedError) Error() string {
	return fmt.Sprintf("config rejected: %s: %s", e.Field, e.Reason)
}

func (e *ConfigRejectedError) Unwrap() error { return models.ErrConfigRejected }

// Clamp maps a requested config onto the tier's admissible space.
//
// Every field is pinned to the nearest bound, never rejected, except the
// target list: when its percentages do not sum to 100 the targets fall back to
// lastGood (or the tier default) and a *ConfigRejectedError is returned with
// the otherwise clamped config. Clamp is pure and idempotent.
func Clamp(tier models.Tier, req models.UserBotConfig, lastGood []models.Target) (models.UserBotConfig, error) {
	lim := LimitsFor(tier)
	def := DefaultConfig(tier)
	out := req.Clone()

	out.Symbols = clampSet(req.Symbols, lim.AllowedSymbols, helper.NormSymbol, def.Symbols)
	out.Timeframes = clampSet(req.Timeframes, lim.AllowedTimeframes, helper.NormTF, def.Timeframes)
	out.TradeMode = clampTradeMode(req.TradeMode, lim, def.TradeMode)

	out.TargetLossUSD = lim.TargetLossUSD.Clamp(req.TargetLossUSD, def.TargetLossUSD)
	out.MaxPositions = lim.MaxPositions.Clamp(req.MaxPositions)
	out.MaxGlobalExposureUSD = lim.MaxGlobalExposureUSD.Clamp(req.MaxGlobalExposureUSD, def.MaxGlobalExposureUSD)
	out.MaxSinglePositionUSD = lim.MaxSinglePositionUSD.Clamp(req.MaxSinglePositionUSD, def.MaxSinglePositionUSD)
	if out.MaxSinglePositionUSD > out.MaxGlobalExposureUSD {
		out.MaxSinglePositionUSD = out.MaxGlobalExposureUSD
	}

	if lim.AllowCustomStop {
		out.StopMultiplier = lim.StopMultiplier.Clamp(req.StopMultiplier, def.StopMultiplier)
	} else {
		out.StopMultiplier = def.StopMultiplier
	}

	if lim.AllowEntry2 {
		out.Entry2Multiplier = lim.Entry2Multiplier.Clamp(req.Entry2Multiplier, def.Entry2Multiplier)
		// entry2 has to rest between entry1 and the stop
		if out.Entry2Multiplier >= out.StopMultiplier {
			out.Entry2Multiplier = roundTo(out.StopMultiplier*0.9, 3)
		}
	} else {
		out.Entry2Enabled = false
		out.Entry2AdjustLastTarget = false
		out.Entry2Multiplier = def.Entry2Multiplier
	}
	if !out.Entry2Enabled {
		out.Entry2AdjustLastTarget = false
	}

	if !lim.AllowCustomTargets {
		out.Targets = append([]models.Target(nil), def.Targets...)
		return out, nil
	}

	targets, reason := normalizeTargets(req.Targets, lim)
	if reason == "" {
		out.Targets = targets
		return out, nil
	}

	out.Targets = fallbackTargets(lastGood, lim, def.Targets)
	return out, &ConfigRejectedError{Field: "targets", Reason: reason}
}

// normalizeTargets returns the clamped list, or a non-empty reason when the
// percentages cannot add up to 100.
func normalizeTargets(in []models.Target, lim PlanLimits) ([]models.Target, string) {
	ts := append([]models.Target(nil), in...)
	if len(ts) == 0 {
		ts = []models.Target{DefaultTargets[0]}
	}
	if len(ts) > lim.MaxTargets {
		ts = ts[:lim.MaxTargets]
	}

	// the first target is mandatory: substitute the default when unusable
	first := ts[0]
	if !models.Finite(first.FibLevel) || first.FibLevel <= 0 {
		first.FibLevel = DefaultTargets[0].FibLevel
	}
	if !models.Finite(first.Pct) || first.Pct <= 0 {
		first.Pct = DefaultTargets[0].Pct
	}
	ts[0] = first

	out := make([]models.Target, 0, len(ts))
	for i, t := range ts {
		if i > 0 && (!models.Finite(t.Pct) || t.Pct <= 0) {
			continue
		}
		out = append(out, models.Target{
			FibLevel: lim.TargetFibLevel.Clamp(t.FibLevel, DefaultTargets[0].FibLevel),
			Pct:      math.Min(t.Pct, 100),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FibLevel < out[j].FibLevel })

	if sum := models.SumPct(out); math.Abs(sum-100) > pctTolerance {
		return nil, fmt.Sprintf("target percentages sum to %.4g, want 100", sum)
	}
	return out, ""
}

func fallbackTargets(lastGood []models.Target, lim PlanLimits, def []models.Target) []models.Target {
	if len(lastGood) > 0 {
		if ts, reason := normalizeTargets(lastGood, lim); reason == "" {
			return ts
		}
	}
	ts, _ := normalizeTargets(def, lim)
	return ts
}

func clampSet(req, allowed []string, norm func(string) string, def []string) []string {
	seen := make(map[string]struct{}, len(req))
	out := make([]string, 0, len(req))
	for _, r := range req {
		v := norm(r)
		if v == "" || !helper.ContainsFold(allowed, v) {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		for _, d := range def {
			if helper.ContainsFold(allowed, norm(d)) {
				out = append(out, norm(d))
			}
		}
	}
	sort.Strings(out)
	return out
}

func clampTradeMode(m models.TradeMode, lim PlanLimits, def models.TradeMode) models.TradeMode {
	m = models.TradeMode(strings.ToUpper(strings.TrimSpace(string(m))))
	for _, a := range lim.AllowedTradeModes {
		if a == m {
			return m
		}
	}
	return def
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
