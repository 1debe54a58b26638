package service

import (
	"math"

	"fibo_bot/internal/models"
)

// rsiSeries is Wilder's RSI (EWM with alpha=1/period). Leading values and
// flat stretches with no losses are NaN.
func rsiSeries(cs []models.Candle, period int) []float64 {
	out := make([]float64, len(cs))
	if len(cs) == 0 {
		return out
	}
	out[0] = math.NaN()
	alpha := 1 / float64(period)
	var up, down float64
	for i := 1; i < len(cs); i++ {
		d := cs[i].Close - cs[i-1].Close
		u, dn := math.Max(d, 0), math.Max(-d, 0)
		if i == 1 {
			up, down = u, dn
		} else {
			up = alpha*u + (1-alpha)*up
			down = alpha*dn + (1-alpha)*down
		}
		if down == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = 100 - 100/(1+up/down)
	}
	return out
}

// smaVolume is the simple moving average of volume over the n bars ending at idx.
func smaVolume(cs []models.Candle, idx, n int) float64 {
	if idx+1 < n {
		return 0
	}
	var s float64
	for i := idx - n + 1; i <= idx; i++ {
		s += cs[i].Volume
	}
	return s / float64(n)
}

// avgWicks averages lower and upper wicks over the n bars ending at idx.
func avgWicks(cs []models.Candle, idx, n int) (lower, upper float64) {
	if idx+1 < n {
		return 0, 0
	}
	for i := idx - n + 1; i <= idx; i++ {
		lower += bodyLow(cs[i]) - cs[i].Low
		upper += cs[i].High - bodyHigh(cs[i])
	}
	return lower / float64(n), upper / float64(n)
}

func bodyLow(c models.Candle) float64  { return math.Min(c.Open, c.Close) }
func bodyHigh(c models.Candle) float64 { return math.Max(c.Open, c.Close) }

// minRSI/maxRSI compare against the bar and the one before it, ignoring NaN.
func minRSI(r []float64, i int) float64 {
	if i <= 0 {
		return r[i]
	}
	a, b := r[i], r[i-1]
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Min(a, b)
}

func maxRSI(r []float64, i int) float64 {
	if i <= 0 {
		return r[i]
	}
	a, b := r[i], r[i-1]
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	}
	return math.Max(a, b)
}
