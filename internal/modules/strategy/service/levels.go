package service

import (
	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
	"fibo_bot/internal/risk"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinNotional = errors.New("size below minimum notional")
	ErrNoHeadroom       = errors.New("no exposure headroom")
	ErrBadLevels        = errors.New("degenerate price levels")
)

// Levels are the fib-derived prices of one setup.
type Levels struct {
	Side    models.Side
	Impulse float64
	Entry1  float64
	Entry2  float64 // 0 when entry2 is off
	Stop    float64
	Targets []models.TargetLevel
}

// ComputeLevels applies the config's fib ratios to the setup's impulse leg.
// fallbackStopPct is used when the fib stop lands at or beyond zero.
func ComputeLevels(s models.Setup, cfg models.UserBotConfig, fallbackStopPct float64) (Levels, error) {
	imp := s.Impulse()
	if imp <= 0 || !models.Finite(imp) {
		return Levels{}, errors.Wrapf(ErrBadLevels, "impulse %v", imp)
	}
	sign := s.Side.Sign()

	lv := Levels{Side: s.Side, Impulse: imp}
	if s.Side == models.SideLong {
		lv.Entry1 = s.High - imp*risk.Entry1RetraceFib
	} else {
		lv.Entry1 = s.Low + imp*risk.Entry1RetraceFib
	}

	lv.Stop = lv.Entry1 - sign*imp*cfg.StopMultiplier
	fallback := false
	if lv.Stop <= 0 {
		lv.Stop = lv.Entry1 * (1 - sign*fallbackStopPct/100)
		fallback = true
	}

	if cfg.Entry2Enabled && !fallback {
		e2 := lv.Entry1 - sign*imp*cfg.Entry2Multiplier
		if e2 > 0 && sign*(e2-lv.Stop) > 0 {
			lv.Entry2 = e2
		}
	}

	lv.Targets = make([]models.TargetLevel, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		lv.Targets = append(lv.Targets, models.TargetLevel{
			FibLevel: t.FibLevel,
			Pct:      t.Pct,
			Price:    lv.Entry1 + sign*imp*t.FibLevel,
		})
	}
	return lv, nil
}

// RoundToTick moves every price to the venue grid, never widening the stop
// distance past what sizing will assume.
func (lv Levels) RoundToTick(tick float64) Levels {
	if tick <= 0 {
		return lv
	}
	out := lv
	out.Targets = append([]models.TargetLevel(nil), lv.Targets...)
	if lv.Side == models.SideLong {
		out.Entry1 = helper.RoundDownToTick(lv.Entry1, tick)
		if lv.Entry2 > 0 {
			out.Entry2 = helper.RoundDownToTick(lv.Entry2, tick)
		}
		out.Stop = helper.RoundUpToTick(lv.Stop, tick)
		for i := range out.Targets {
			out.Targets[i].Price = helper.RoundDownToTick(out.Targets[i].Price, tick)
		}
	} else {
		out.Entry1 = helper.RoundUpToTick(lv.Entry1, tick)
		if lv.Entry2 > 0 {
			out.Entry2 = helper.RoundUpToTick(lv.Entry2, tick)
		}
		out.Stop = helper.RoundDownToTick(lv.Stop, tick)
		for i := range out.Targets {
			out.Targets[i].Price = helper.RoundUpToTick(out.Targets[i].Price, tick)
		}
	}
	return out
}

// AvgEntry is the equal-quantity average of the planned entries.
func (lv Levels) AvgEntry() float64 {
	if lv.Entry2 > 0 {
		return (lv.Entry1 + lv.Entry2) / 2
	}
	return lv.Entry1
}

type SizingLimits struct {
	TargetLossUSD  float64
	MaxSingleUSD   float64
	HeadroomUSD    float64
	MinNotionalUSD float64
}

type Sizing struct {
	Entry1Qty float64
	Entry2Qty float64
	SizeUSD   float64 // notional of both legs at their limit prices
	RiskUSD   float64 // loss if every leg fills and the stop hits
}

// Size back-solves the quantity so a full stop-out loses at most the target
// loss, then caps the notional at min(single position, headroom). With entry2
// the quantity is split evenly between both legs.
func Size(lv Levels, lim SizingLimits) (Sizing, error) {
	e1 := decimal.NewFromFloat(lv.Entry1)
	e2 := decimal.NewFromFloat(lv.Entry2)
	stop := decimal.NewFromFloat(lv.Stop)
	two := decimal.NewFromInt(2)

	avg := e1
	if lv.Entry2 > 0 {
		avg = e1.Add(e2).Div(two)
	}
	perUnit := avg.Sub(stop).Abs()
	if !perUnit.IsPositive() {
		return Sizing{}, errors.Wrap(ErrBadLevels, "zero stop distance")
	}

	capUSD := decimal.Min(decimal.NewFromFloat(lim.MaxSingleUSD), decimal.NewFromFloat(lim.HeadroomUSD))
	if !capUSD.IsPositive() {
		return Sizing{}, ErrNoHeadroom
	}

	units := decimal.NewFromFloat(lim.TargetLossUSD).Div(perUnit)
	q1, q2 := units, decimal.Zero
	if lv.Entry2 > 0 {
		q1 = units.Div(two)
		q2 = q1
	}
	notional := q1.Mul(e1).Add(q2.Mul(e2))

	if notional.GreaterThan(capUSD) {
		scale := capUSD.Div(notional)
		q1 = q1.Mul(scale)
		q2 = q2.Mul(scale)
		notional = q1.Mul(e1).Add(q2.Mul(e2))
	}
	if notional.LessThan(decimal.NewFromFloat(lim.MinNotionalUSD)) {
		return Sizing{}, errors.Wrapf(ErrBelowMinNotional, "notional %s", notional.StringFixed(2))
	}

	riskUSD := q1.Add(q2).Mul(perUnit)
	return Sizing{
		Entry1Qty: q1.InexactFloat64(),
		Entry2Qty: q2.InexactFloat64(),
		SizeUSD:   notional.InexactFloat64(),
		RiskUSD:   riskUSD.InexactFloat64(),
	}, nil
}

// ApplyLot rounds both legs down to the venue lot. A leg under the minimum
// size is dropped; entry1 under the minimum fails the sizing.
func (sz Sizing) ApplyLot(lv Levels, meta models.InstrumentMeta) (Sizing, error) {
	lot := meta.LotSize
	out := sz
	out.Entry1Qty = helper.RoundDownToTick(sz.Entry1Qty, lot)
	out.Entry2Qty = helper.RoundDownToTick(sz.Entry2Qty, lot)
	if meta.MinSize > 0 && out.Entry2Qty < meta.MinSize {
		out.Entry2Qty = 0
	}
	if out.Entry1Qty <= 0 || (meta.MinSize > 0 && out.Entry1Qty < meta.MinSize) {
		return Sizing{}, errors.Wrapf(ErrBelowMinNotional, "qty %.8f under venue minimum", sz.Entry1Qty)
	}
	out.SizeUSD = out.Entry1Qty*lv.Entry1 + out.Entry2Qty*lv.Entry2
	avg := lv.Entry1
	if out.Entry2Qty > 0 {
		avg = (out.Entry1Qty*lv.Entry1 + out.Entry2Qty*lv.Entry2) / (out.Entry1Qty + out.Entry2Qty)
	}
	d := avg - lv.Stop
	if d < 0 {
		d = -d
	}
	out.RiskUSD = (out.Entry1Qty + out.Entry2Qty) * d
	return out, nil
}
