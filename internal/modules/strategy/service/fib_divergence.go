package service

import (
	"fmt"
	"math"
	"sync"
	"time"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"

	"github.com/pkg/errors"
)

type Config struct {
	RSIPeriod          int
	VolumeSMAPeriod    int
	VolumeFactor       float64
	DivergenceLookback int
	MinPivotDist       int
	LocalWindow        int
	EngulfLookback     int
	WickAvgPeriod      int
	MinRangePct        float64
	History            int
}

func DefaultConfig() Config {
	return Config{
		RSIPeriod:          14,
		VolumeSMAPeriod:    20,
		VolumeFactor:       1.2,
		DivergenceLookback: 35,
		MinPivotDist:       4,
		LocalWindow:        4,
		EngulfLookback:     10,
		WickAvgPeriod:      10,
		MinRangePct:        0.007,
		History:            300,
	}
}

// minBars is how many closed bars a key needs before it may emit a setup.
func (c Config) minBars() int { return c.DivergenceLookback + c.VolumeSMAPeriod }

// FibDivergence detects RSI divergence setups confirmed by a candlestick
// pattern. One instance serves all keys of one user.
type FibDivergence struct {
	cfg Config
	mu  sync.Mutex
	st  map[models.FeedKey]*keyState
}

type keyState struct {
	candles   []models.Candle
	lastStart time.Time
	lastSetup time.Time
	gaps      int
	dropped   int
	ready     bool
}

var _ Engine = (*FibDivergence)(nil)

func NewFibDivergence(cfg Config) *FibDivergence {
	if cfg.MinPivotDist < 1 {
		cfg.MinPivotDist = 1
	}
	if cfg.History < cfg.minBars() {
		cfg.History = cfg.minBars() * 2
	}
	return &FibDivergence{
		cfg: cfg,
		st:  make(map[models.FeedKey]*keyState),
	}
}

func (e *FibDivergence) Name() string { return "fib_divergence" }

func (e *FibDivergence) get(key models.FeedKey) *keyState {
	if s, ok := e.st[key]; ok {
		return s
	}
	s := &keyState{candles: make([]models.Candle, 0, e.cfg.History)}
	e.st[key] = s
	return s
}

func (e *FibDivergence) Seed(key models.FeedKey, history []models.Candle) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.get(key)
	kept := 0
	for _, c := range history {
		c.Symbol, c.Timeframe = key.Symbol, key.Timeframe
		if _, err := st.accept(c, e.cfg.History); err != nil {
			continue
		}
		kept++
	}
	st.ready = len(st.candles) >= e.cfg.minBars()
	return kept
}

func (e *FibDivergence) Forget(key models.FeedKey) {
	e.mu.Lock()
	delete(e.st, key)
	e.mu.Unlock()
}

func (e *FibDivergence) OnCandle(c models.Candle) (models.Setup, bool, error) {
	if !c.Closed {
		return models.Setup{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.get(c.Key())
	c, err := st.accept(c, e.cfg.History)
	if err != nil {
		st.dropped++
		return models.Setup{}, false, err
	}

	if len(st.candles) < e.cfg.minBars() {
		return models.Setup{}, false, nil
	}
	st.ready = true

	setup, ok := e.evaluate(st.candles)
	if !ok {
		return models.Setup{}, false, nil
	}
	// one setup per candle close
	if !c.End.After(st.lastSetup) {
		return models.Setup{}, false, nil
	}
	st.lastSetup = c.End
	return setup, true, nil
}

// accept validates ordering and appends. Returns the candle with End filled in.
func (st *keyState) accept(c models.Candle, capacity int) (models.Candle, error) {
	if err := c.Validate(); err != nil {
		return c, errors.Wrap(models.ErrFeedGap, err.Error())
	}
	if !st.lastStart.IsZero() && !c.Start.After(st.lastStart) {
		return c, errors.Wrapf(models.ErrFeedGap, "stale candle %s@%s, last %s",
			c.Key(), c.Start.UTC().Format(time.RFC3339), st.lastStart.UTC().Format(time.RFC3339))
	}

	tf := helper.TimeframeToDuration(c.Timeframe)
	if c.End.IsZero() {
		c.End = c.Start.Add(tf)
	}
	if tf > 0 && !st.lastStart.IsZero() && c.Start.Sub(st.lastStart) > tf {
		st.gaps++
	}

	st.candles = append(st.candles, c)
	if len(st.candles) > capacity {
		st.candles = append(st.candles[:0], st.candles[len(st.candles)-capacity:]...)
	}
	st.lastStart = c.Start
	return c, nil
}

func (e *FibDivergence) evaluate(cs []models.Candle) (models.Setup, bool) {
	idx := len(cs) - 1
	cur, prev := cs[idx], cs[idx-1]

	rsi := rsiSeries(cs, e.cfg.RSIPeriod)
	div, ref := e.divergenceAt(cs, rsi, idx)
	if div == divNone {
		return models.Setup{}, false
	}

	if sma := smaVolume(cs, idx, e.cfg.VolumeSMAPeriod); sma > 0 && cur.Volume <= sma*e.cfg.VolumeFactor {
		return models.Setup{}, false
	}

	pats := e.patterns(cs, idx)
	if len(pats) == 0 {
		return models.Setup{}, false
	}

	localMin, localMax := math.Inf(1), math.Inf(-1)
	for i := max(0, idx-e.cfg.LocalWindow); i <= idx; i++ {
		localMin = math.Min(localMin, bodyLow(cs[i]))
		localMax = math.Max(localMax, bodyHigh(cs[i]))
	}
	recentHigh, recentLow := math.Inf(-1), math.Inf(1)
	for i := max(0, idx-e.cfg.EngulfLookback); i < idx; i++ {
		recentHigh = math.Max(recentHigh, cs[i].High)
		recentLow = math.Min(recentLow, cs[i].Low)
	}

	mk := func(side models.Side, pattern string, high, low float64) (models.Setup, bool) {
		if high <= low {
			return models.Setup{}, false
		}
		return models.Setup{
			Key:        cur.Key(),
			Side:       side,
			CandleTime: cur.End,
			High:       high,
			Low:        low,
			Close:      cur.Close,
			Pattern:    pattern,
			Reason:     fmt.Sprintf("%s + rsi divergence vs pivot %.6g", pattern, ref),
		}, true
	}

	switch div {
	case divBull:
		if has(pats, PatternHammerBull) && bodyLow(cur) <= localMin*1.0003 {
			return mk(models.SideLong, PatternHammerBull, cur.High, cur.Low)
		}
		if has(pats, PatternEngulfBull) && cur.High < recentHigh && bodyLow(prev) <= localMin*1.0003 {
			return mk(models.SideLong, PatternEngulfBull, cur.High, prev.Low)
		}
	case divBear:
		if has(pats, PatternShootingStar) && bodyHigh(cur) >= localMax*0.9997 {
			return mk(models.SideShort, PatternShootingStar, cur.High, cur.Low)
		}
		if has(pats, PatternEngulfBear) && cur.Low > recentLow && bodyHigh(prev) >= localMax*0.9997 {
			return mk(models.SideShort, PatternEngulfBear, prev.High, cur.Low)
		}
	}
	return models.Setup{}, false
}

func (e *FibDivergence) IsReady(key models.FeedKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.st[key]
	return ok && s.ready
}

func (e *FibDivergence) Dump(key models.FeedKey) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.st[key]
	if !ok {
		return key.String() + " n/a"
	}
	return fmt.Sprintf("%s bars=%d ready=%v gaps=%d dropped=%d last=%s",
		key, len(s.candles), s.ready, s.gaps, s.dropped, s.lastStart.UTC().Format(time.RFC3339))
}

func has(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
