package risk

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"fibo_bot/internal/models"
)

func requested() models.UserBotConfig {
	return models.UserBotConfig{
		UserID:                 7,
		Enabled:                true,
		Symbols:                []string{"eth", "BTC", "btc-usdt-swap", "PEPE"},
		Timeframes:             []string{"15m", "1H", "1m"},
		TradeMode:              models.TradeModeBoth,
		TargetLossUSD:          250,
		MaxPositions:           9,
		MaxSinglePositionUSD:   40000,
		MaxGlobalExposureUSD:   1,
		Entry2Enabled:          true,
		Entry2Multiplier:       9,
		Entry2AdjustLastTarget: true,
		StopMultiplier:         0.2,
		Targets: []models.Target{
			{FibLevel: 1.618, Pct: 30},
			{FibLevel: 0.618, Pct: 70},
		},
	}
}

func TestClamp_Idempotent(t *testing.T) {
	nan := math.NaN()
	inputs := []models.UserBotConfig{
		requested(),
		{},
		{Symbols: []string{"xx"}, TargetLossUSD: nan, MaxGlobalExposureUSD: math.Inf(1), StopMultiplier: nan},
		{Targets: []models.Target{{FibLevel: -1, Pct: 0}, {FibLevel: 2, Pct: 50}}},
		{Targets: []models.Target{{FibLevel: 1, Pct: 40}, {FibLevel: 2, Pct: 40}}},
		{Entry2Enabled: true, Entry2Multiplier: 5, StopMultiplier: 5},
	}
	tiers := []models.Tier{models.TierBasic, models.TierPro, models.TierEnterprise}

	for _, tier := range tiers {
		for i, in := range inputs {
			once, _ := Clamp(tier, in, nil)
			twice, err := Clamp(tier, once, nil)
			if err != nil {
				t.Errorf("tier=%s input=%d: second clamp rejected: %v", tier, i, err)
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("tier=%s input=%d: clamp not idempotent\nonce:  %+v\ntwice: %+v", tier, i, once, twice)
			}
		}
	}
}

func TestClamp_PinsToBounds(t *testing.T) {
	got, err := Clamp(models.TierPro, requested(), nil)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	lim := LimitsFor(models.TierPro)

	if want := []string{"BTC", "ETH"}; !reflect.DeepEqual(got.Symbols, want) {
		t.Errorf("symbols = %v, want %v", got.Symbols, want)
	}
	if want := []string{"15m", "1h"}; !reflect.DeepEqual(got.Timeframes, want) {
		t.Errorf("timeframes = %v, want %v", got.Timeframes, want)
	}
	if got.TargetLossUSD != lim.TargetLossUSD.Max {
		t.Errorf("target loss = %v, want %v", got.TargetLossUSD, lim.TargetLossUSD.Max)
	}
	if got.MaxPositions != lim.MaxPositions.Max {
		t.Errorf("max positions = %d, want %d", got.MaxPositions, lim.MaxPositions.Max)
	}
	if got.MaxGlobalExposureUSD != lim.MaxGlobalExposureUSD.Min {
		t.Errorf("global = %v, want %v", got.MaxGlobalExposureUSD, lim.MaxGlobalExposureUSD.Min)
	}
	if got.MaxSinglePositionUSD > got.MaxGlobalExposureUSD {
		t.Errorf("single %v exceeds global %v", got.MaxSinglePositionUSD, got.MaxGlobalExposureUSD)
	}
	if got.StopMultiplier != lim.StopMultiplier.Min {
		t.Errorf("stop = %v, want %v", got.StopMultiplier, lim.StopMultiplier.Min)
	}
	if got.Entry2Multiplier >= got.StopMultiplier {
		t.Errorf("entry2 %v must stay inside stop %v", got.Entry2Multiplier, got.StopMultiplier)
	}
	if got.Targets[0].FibLevel != 0.618 || got.Targets[1].FibLevel != 1.618 {
		t.Errorf("targets not ordered by fib: %+v", got.Targets)
	}
}

func TestClamp_BasicForcesDefaults(t *testing.T) {
	got, err := Clamp(models.TierBasic, requested(), nil)
	if err != nil {
		t.Fatalf("basic tier must not reject targets it ignores: %v", err)
	}
	if got.TradeMode != models.TradeModeLongOnly {
		t.Errorf("trade mode = %s, want LONG_ONLY", got.TradeMode)
	}
	if got.Entry2Enabled || got.Entry2AdjustLastTarget {
		t.Error("entry2 must be disabled on basic")
	}
	if !reflect.DeepEqual(got.Targets, DefaultTargets) {
		t.Errorf("targets = %+v, want defaults", got.Targets)
	}
	if !reflect.DeepEqual(got.Timeframes, []string{"15m"}) {
		t.Errorf("timeframes = %v", got.Timeframes)
	}
}

func TestClamp_TargetSumRejectedPartially(t *testing.T) {
	req := requested()
	req.Targets = []models.Target{{FibLevel: 0.618, Pct: 60}, {FibLevel: 1.0, Pct: 60}}
	lastGood := []models.Target{{FibLevel: 0.5, Pct: 25}, {FibLevel: 1.272, Pct: 75}}

	got, err := Clamp(models.TierPro, req, lastGood)

	var rej *ConfigRejectedError
	if !errors.As(err, &rej) || rej.Field != "targets" {
		t.Fatalf("want targets rejection, got %v", err)
	}
	if !errors.Is(err, models.ErrConfigRejected) {
		t.Error("rejection must match ErrConfigRejected")
	}
	if !reflect.DeepEqual(got.Targets, lastGood) {
		t.Errorf("targets = %+v, want last known good %+v", got.Targets, lastGood)
	}
	// other fields are still applied
	if got.TargetLossUSD != LimitsFor(models.TierPro).TargetLossUSD.Max {
		t.Errorf("target loss not applied on partial rejection: %v", got.TargetLossUSD)
	}
}

func TestClamp_TargetFallbackToDefault(t *testing.T) {
	req := requested()
	req.Targets = []models.Target{{FibLevel: 1, Pct: 10}}

	got, err := Clamp(models.TierEnterprise, req, nil)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if !reflect.DeepEqual(got.Targets, DefaultTargets) {
		t.Errorf("targets = %+v, want defaults", got.Targets)
	}
}

func TestClamp_FirstTargetSubstituted(t *testing.T) {
	req := requested()
	req.Targets = []models.Target{{FibLevel: 0, Pct: 0}, {FibLevel: 2, Pct: 50}}

	got, err := Clamp(models.TierPro, req, nil)
	if err != nil {
		t.Fatalf("default first target 50%% + 50%% should pass: %v", err)
	}
	if got.Targets[0] != DefaultTargets[0] {
		t.Errorf("first target = %+v, want %+v", got.Targets[0], DefaultTargets[0])
	}
}

func TestClamp_Downgrade(t *testing.T) {
	pro, _ := Clamp(models.TierPro, requested(), nil)
	pro.MaxGlobalExposureUSD = 20000
	pro.MaxSinglePositionUSD = 10000

	basic, _ := Clamp(models.TierBasic, pro, pro.Targets)
	lim := LimitsFor(models.TierBasic)
	if basic.MaxSinglePositionUSD > lim.MaxSinglePositionUSD.Max {
		t.Errorf("single %v exceeds basic max", basic.MaxSinglePositionUSD)
	}
	if basic.MaxGlobalExposureUSD > lim.MaxGlobalExposureUSD.Max {
		t.Errorf("global %v exceeds basic max", basic.MaxGlobalExposureUSD)
	}
	if basic.MaxPositions > lim.MaxPositions.Max {
		t.Errorf("positions %d exceeds basic max", basic.MaxPositions)
	}
}

func TestLimitsFor_ReturnsCopy(t *testing.T) {
	l := LimitsFor(models.TierPro)
	l.AllowedSymbols[0] = "HACK"
	if LimitsFor(models.TierPro).AllowedSymbols[0] == "HACK" {
		t.Error("LimitsFor leaked the shared table")
	}
}
