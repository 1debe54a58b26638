package service

import (
	"math"

	"fibo_bot/internal/models"
)

const (
	PatternHammerBull   = "HAMMER_BULL"
	PatternShootingStar = "SHOOTING_STAR"
	PatternEngulfBull   = "ENGULF_BULL"
	PatternEngulfBear   = "ENGULF_BEAR"
)

type divergence int

const (
	divNone divergence = iota
	divBull
	divBear
)

// patterns lists the candlestick patterns present on cs[idx].
func (e *FibDivergence) patterns(cs []models.Candle, idx int) []string {
	if idx < 1 {
		return nil
	}
	cur, prev := cs[idx], cs[idx-1]
	if cur.Low <= 0 || (cur.High-cur.Low)/cur.Low < e.cfg.MinRangePct {
		return nil
	}

	body := math.Abs(cur.Close - cur.Open)
	upper := cur.High - bodyHigh(cur)
	lower := bodyLow(cur) - cur.Low
	avgLower, avgUpper := avgWicks(cs, idx, e.cfg.WickAvgPeriod)

	var out []string
	if cur.Close > cur.Open && lower >= 1.8*body && lower > avgLower*0.7 && upper <= lower*0.5 {
		out = append(out, PatternHammerBull)
	}
	if cur.Close < cur.Open && upper >= 1.8*body && upper > avgUpper*0.7 && lower <= upper*0.5 {
		out = append(out, PatternShootingStar)
	}
	if prev.Close < prev.Open && cur.Close > cur.Open && cur.Close > prev.Open {
		out = append(out, PatternEngulfBull)
	}
	if prev.Close > prev.Open && cur.Close < cur.Open && cur.Close < prev.Open {
		out = append(out, PatternEngulfBear)
	}
	return out
}

// divergenceAt looks for an RSI divergence between cs[idx] and a confirmed
// fractal pivot in the lookback window. Bullish wins when both exist.
func (e *FibDivergence) divergenceAt(cs []models.Candle, rsi []float64, idx int) (divergence, float64) {
	end := idx - e.cfg.MinPivotDist
	start := idx - e.cfg.DivergenceLookback
	if start < 1 || end <= start {
		return divNone, 0
	}
	if ref, ok := e.bullPivot(cs, rsi, idx, start, end); ok {
		return divBull, ref
	}
	if ref, ok := e.bearPivot(cs, rsi, idx, start, end); ok {
		return divBear, ref
	}
	return divNone, 0
}

func (e *FibDivergence) bullPivot(cs []models.Candle, rsi []float64, idx, start, end int) (float64, bool) {
	target := bodyLow(cs[idx])
	targetRSI := minRSI(rsi, idx)
	if math.IsNaN(targetRSI) {
		return 0, false
	}
	for cursor := start; cursor < end; {
		p := cursor
		for i := cursor; i < end; i++ {
			if cs[i].Low < cs[p].Low {
				p = i
			}
		}
		if isFractalLow(cs, p) {
			ref := bodyLow(cs[p])
			r := minRSI(rsi, p)
			if target < ref && !math.IsNaN(r) && targetRSI > r {
				return ref, true
			}
		}
		cursor = p + e.cfg.MinPivotDist
	}
	return 0, false
}

func (e *FibDivergence) bearPivot(cs []models.Candle, rsi []float64, idx, start, end int) (float64, bool) {
	target := bodyHigh(cs[idx])
	targetRSI := maxRSI(rsi, idx)
	if math.IsNaN(targetRSI) {
		return 0, false
	}
	for cursor := start; cursor < end; {
		p := cursor
		for i := cursor; i < end; i++ {
			if cs[i].High > cs[p].High {
				p = i
			}
		}
		if isFractalHigh(cs, p) {
			ref := bodyHigh(cs[p])
			r := maxRSI(rsi, p)
			if target > ref && !math.IsNaN(r) && targetRSI < r {
				return ref, true
			}
		}
		cursor = p + e.cfg.MinPivotDist
	}
	return 0, false
}

const fractalWing = 3

func isFractalLow(cs []models.Candle, p int) bool {
	if p < fractalWing || p+fractalWing >= len(cs) {
		return false
	}
	for i := p - fractalWing; i <= p+fractalWing; i++ {
		if cs[i].Low < cs[p].Low {
			return false
		}
	}
	return true
}

func isFractalHigh(cs []models.Candle, p int) bool {
	if p < fractalWing || p+fractalWing >= len(cs) {
		return false
	}
	for i := p - fractalWing; i <= p+fractalWing; i++ {
		if cs[i].High > cs[p].High {
			return false
		}
	}
	return true
}
