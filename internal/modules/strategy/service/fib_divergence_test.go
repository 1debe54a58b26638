package service

import (
	"errors"
	"testing"
	"time"

	"fibo_bot/internal/models"
)

var t0 = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

// bullishSeries ends in a hammer that makes a lower body low than the pivot at
// bar 40 while RSI prints a higher low.
func bullishSeries() []models.Candle {
	var cs []models.Candle
	add := func(o, h, l, c, v float64) {
		cs = append(cs, models.Candle{
			Symbol: "BTC", Timeframe: "15m",
			Open: o, High: h, Low: l, Close: c, Volume: v,
			Start:  t0.Add(time.Duration(len(cs)) * 15 * time.Minute),
			Closed: true,
		})
	}

	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			add(100, 100.6, 99.9, 100.5, 1000)
		} else {
			add(100.5, 100.6, 99.9, 100, 1000)
		}
	}
	p := 100.0
	for i := 0; i < 10; i++ {
		add(p, p+0.1, p-1.1, p-1, 1000)
		p--
	}
	add(90, 90.1, 89.0, 89.5, 1000) // pivot, bar 40
	p = 89.5
	for i := 0; i < 10; i++ {
		add(p, p+0.65, p-0.1, p+0.55, 1000)
		p += 0.55
	}
	for i := 0; i < 7; i++ {
		add(p, p+0.1, p-0.8, p-0.7, 1000)
		p -= 0.7
	}
	add(89.2, 89.5, 87.0, 89.4, 3000) // hammer
	return cs
}

// mirror flips prices around 200, turning the bullish setup into a bearish one.
func mirror(cs []models.Candle) []models.Candle {
	out := make([]models.Candle, len(cs))
	for i, c := range cs {
		c.Open, c.Close = 200-c.Open, 200-c.Close
		c.High, c.Low = 200-c.Low, 200-c.High
		out[i] = c
	}
	return out
}

func seeded(t *testing.T, cs []models.Candle) (*FibDivergence, models.Candle) {
	t.Helper()
	e := NewFibDivergence(DefaultConfig())
	last := cs[len(cs)-1]
	kept := e.Seed(last.Key(), cs[:len(cs)-1])
	if kept != len(cs)-1 {
		t.Fatalf("seed kept %d of %d", kept, len(cs)-1)
	}
	return e, last
}

func TestOnCandle_BullishSetup(t *testing.T) {
	e, last := seeded(t, bullishSeries())

	setup, ok, err := e.OnCandle(last)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected a setup; state %s", e.Dump(last.Key()))
	}
	if setup.Side != models.SideLong || setup.Pattern != PatternHammerBull {
		t.Errorf("got %s %s, want LONG %s", setup.Side, setup.Pattern, PatternHammerBull)
	}
	if setup.High != 89.5 || setup.Low != 87.0 {
		t.Errorf("impulse %v..%v, want 87..89.5", setup.Low, setup.High)
	}
	if !setup.CandleTime.Equal(last.Start.Add(15 * time.Minute)) {
		t.Errorf("candle time %v", setup.CandleTime)
	}
}

func TestOnCandle_BearishMirror(t *testing.T) {
	e, last := seeded(t, mirror(bullishSeries()))

	setup, ok, err := e.OnCandle(last)
	if err != nil || !ok {
		t.Fatalf("expected a short setup, ok=%v err=%v", ok, err)
	}
	if setup.Side != models.SideShort || setup.Pattern != PatternShootingStar {
		t.Errorf("got %s %s", setup.Side, setup.Pattern)
	}
}

func TestOnCandle_ReplayIsIdempotent(t *testing.T) {
	e, last := seeded(t, bullishSeries())

	setups := 0
	for i := 0; i < 3; i++ {
		_, ok, err := e.OnCandle(last)
		if ok {
			setups++
		}
		if i > 0 && !errors.Is(err, models.ErrFeedGap) {
			t.Errorf("replay %d: want ErrFeedGap, got %v", i, err)
		}
	}
	if setups != 1 {
		t.Errorf("setups = %d, want 1", setups)
	}
}

func TestOnCandle_DropsBadCandles(t *testing.T) {
	cs := bullishSeries()
	e, last := seeded(t, cs)

	stale := cs[10]
	if _, ok, err := e.OnCandle(stale); ok || !errors.Is(err, models.ErrFeedGap) {
		t.Errorf("stale candle: ok=%v err=%v", ok, err)
	}

	broken := last
	broken.Start = last.Start.Add(time.Hour)
	broken.High = broken.Low - 1
	if _, ok, err := e.OnCandle(broken); ok || !errors.Is(err, models.ErrFeedGap) {
		t.Errorf("malformed candle: ok=%v err=%v", ok, err)
	}

	// the loop keeps going after drops
	if _, ok, err := e.OnCandle(last); err != nil || !ok {
		t.Errorf("valid candle after drops: ok=%v err=%v", ok, err)
	}
}

func TestOnCandle_IgnoresUnclosed(t *testing.T) {
	e, last := seeded(t, bullishSeries())
	last.Closed = false
	if _, ok, err := e.OnCandle(last); ok || err != nil {
		t.Errorf("unclosed candle evaluated: ok=%v err=%v", ok, err)
	}
}

func TestOnCandle_NotReadyWithoutHistory(t *testing.T) {
	e := NewFibDivergence(DefaultConfig())
	cs := bullishSeries()
	for _, c := range cs[len(cs)-10:] {
		if _, ok, _ := e.OnCandle(c); ok {
			t.Fatal("setup emitted before warm-up")
		}
	}
	if e.IsReady(cs[0].Key()) {
		t.Error("key reported ready with 10 bars")
	}
}
