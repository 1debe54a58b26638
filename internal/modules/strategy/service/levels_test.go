package service

import (
	"errors"
	"math"
	"testing"

	"fibo_bot/internal/models"
	"fibo_bot/internal/risk"
)

func cfgWith(entry2 bool) models.UserBotConfig {
	return models.UserBotConfig{
		TargetLossUSD:        10,
		MaxSinglePositionUSD: 2500,
		MaxGlobalExposureUSD: 5000,
		Entry2Enabled:        entry2,
		Entry2Multiplier:     1.414,
		StopMultiplier:       1.8,
		Targets:              risk.DefaultTargets,
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestComputeLevels_Long(t *testing.T) {
	s := models.Setup{Side: models.SideLong, High: 110, Low: 100}

	lv, err := ComputeLevels(s, cfgWith(true), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(lv.Entry1, 103.82) {
		t.Errorf("entry1 = %v", lv.Entry1)
	}
	if !approx(lv.Stop, 103.82-18) {
		t.Errorf("stop = %v", lv.Stop)
	}
	if !approx(lv.Entry2, 103.82-14.14) {
		t.Errorf("entry2 = %v", lv.Entry2)
	}
	if !approx(lv.Targets[0].Price, 103.82+6.18) || !approx(lv.Targets[1].Price, 113.82) {
		t.Errorf("targets = %+v", lv.Targets)
	}
}

func TestComputeLevels_ShortMirrors(t *testing.T) {
	s := models.Setup{Side: models.SideShort, High: 110, Low: 100}

	lv, err := ComputeLevels(s, cfgWith(false), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(lv.Entry1, 106.18) || !approx(lv.Stop, 124.18) {
		t.Errorf("entry1=%v stop=%v", lv.Entry1, lv.Stop)
	}
	if lv.Entry2 != 0 {
		t.Errorf("entry2 must be off, got %v", lv.Entry2)
	}
	if !approx(lv.Targets[1].Price, 96.18) {
		t.Errorf("last target = %v", lv.Targets[1].Price)
	}
}

func TestComputeLevels_FallbackStop(t *testing.T) {
	// a candle so wide the fib stop would go negative
	s := models.Setup{Side: models.SideLong, High: 10, Low: 1}

	lv, err := ComputeLevels(s, cfgWith(true), 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(lv.Stop, lv.Entry1*0.995) {
		t.Errorf("stop = %v, want 0.5%% under %v", lv.Stop, lv.Entry1)
	}
	if lv.Entry2 != 0 {
		t.Error("entry2 must be dropped with a fallback stop")
	}
}

func TestSize_StopOutLossWithinTarget(t *testing.T) {
	for _, entry2 := range []bool{false, true} {
		lv, _ := ComputeLevels(models.Setup{Side: models.SideLong, High: 110, Low: 100}, cfgWith(entry2), 0.5)
		sz, err := Size(lv, SizingLimits{TargetLossUSD: 10, MaxSingleUSD: 2500, HeadroomUSD: 5000, MinNotionalUSD: 10})
		if err != nil {
			t.Fatalf("entry2=%v: %v", entry2, err)
		}
		loss := sz.Entry1Qty*(lv.Entry1-lv.Stop) + sz.Entry2Qty*(lv.Entry2-lv.Stop)
		if loss > 10+1e-6 {
			t.Errorf("entry2=%v: stop-out loss %v exceeds target 10", entry2, loss)
		}
		if !approx(loss, 10) && loss < 10-1e-6 {
			// uncapped sizing should use the whole risk budget
			t.Errorf("entry2=%v: loss %v, want 10", entry2, loss)
		}
		if entry2 && !approx(sz.Entry1Qty, sz.Entry2Qty) {
			t.Errorf("legs not split evenly: %v / %v", sz.Entry1Qty, sz.Entry2Qty)
		}
	}
}

func TestSize_CappedByHeadroomAndSingle(t *testing.T) {
	lv, _ := ComputeLevels(models.Setup{Side: models.SideLong, High: 110, Low: 100}, cfgWith(false), 0.5)

	sz, err := Size(lv, SizingLimits{TargetLossUSD: 500, MaxSingleUSD: 2500, HeadroomUSD: 300, MinNotionalUSD: 10})
	if err != nil {
		t.Fatal(err)
	}
	if sz.SizeUSD > 300+1e-6 {
		t.Errorf("size %v exceeds headroom", sz.SizeUSD)
	}

	sz, err = Size(lv, SizingLimits{TargetLossUSD: 500, MaxSingleUSD: 200, HeadroomUSD: 5000, MinNotionalUSD: 10})
	if err != nil {
		t.Fatal(err)
	}
	if sz.SizeUSD > 200+1e-6 {
		t.Errorf("size %v exceeds single cap", sz.SizeUSD)
	}
}

func TestSize_Rejections(t *testing.T) {
	lv, _ := ComputeLevels(models.Setup{Side: models.SideLong, High: 110, Low: 100}, cfgWith(false), 0.5)

	if _, err := Size(lv, SizingLimits{TargetLossUSD: 10, MaxSingleUSD: 2500, HeadroomUSD: 5, MinNotionalUSD: 10}); !errors.Is(err, ErrBelowMinNotional) {
		t.Errorf("want ErrBelowMinNotional, got %v", err)
	}
	if _, err := Size(lv, SizingLimits{TargetLossUSD: 10, MaxSingleUSD: 2500, HeadroomUSD: 0, MinNotionalUSD: 10}); !errors.Is(err, ErrNoHeadroom) {
		t.Errorf("want ErrNoHeadroom, got %v", err)
	}
}

func TestApplyLot_KeepsLossBound(t *testing.T) {
	lv, _ := ComputeLevels(models.Setup{Side: models.SideLong, High: 110, Low: 100}, cfgWith(true), 0.5)
	lv = lv.RoundToTick(0.1)
	sz, err := Size(lv, SizingLimits{TargetLossUSD: 10, MaxSingleUSD: 2500, HeadroomUSD: 5000, MinNotionalUSD: 10})
	if err != nil {
		t.Fatal(err)
	}

	got, err := sz.ApplyLot(lv, models.InstrumentMeta{LotSize: 0.01, MinSize: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskUSD > 10+1e-6 {
		t.Errorf("risk after lot rounding %v > 10", got.RiskUSD)
	}
	if got.Entry1Qty > sz.Entry1Qty || got.Entry2Qty > sz.Entry2Qty {
		t.Error("lot rounding must only round down")
	}
}
