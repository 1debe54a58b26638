package sessions

import (
	"context"
	"sort"

	"fibo_bot/internal/helper"
	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	strategy "fibo_bot/internal/modules/strategy/service"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

// pass turns the setups of one tick into admitted intents. The config is
// clamped once at the start, setups are ranked by candle close then symbol,
// and each one is admitted against the book before its entry is placed.
func (s *UserSession) pass(ctx context.Context, setups []models.Setup) []models.EntryIntent {
	cfg := s.effective()

	sort.SliceStable(setups, func(i, j int) bool {
		if !setups[i].CandleTime.Equal(setups[j].CandleTime) {
			return setups[i].CandleTime.Before(setups[j].CandleTime)
		}
		return setups[i].Key.Symbol < setups[j].Key.Symbol
	})

	var out []models.EntryIntent
	for _, setup := range setups {
		in, reason := s.decide(ctx, cfg, setup)
		if reason != "" {
			metrics.IntentsSkipped.WithLabelValues(reason).Inc()
			logger.Info("[SESSION] user=%d skip %s %s: %s", s.userID, setup.Key, setup.Side, reason)
			continue
		}

		p, err := s.book.Admit(in, cfg.MaxPositions, cfg.MaxGlobalExposureUSD)
		if err != nil {
			metrics.IntentsSkipped.WithLabelValues(admitReason(err)).Inc()
			logger.Info("[SESSION] user=%d intent %s not admitted: %v", s.userID, in.IntentID, err)
			continue
		}
		p.AdjustLastTarget = cfg.Entry2Enabled && cfg.Entry2AdjustLastTarget
		out = append(out, in)
		s.openEntry(ctx, p)
	}
	return out
}

// decide returns the sized intent for a setup, or the reason it was skipped.
func (s *UserSession) decide(ctx context.Context, cfg models.UserBotConfig, setup models.Setup) (models.EntryIntent, string) {
	if !cfg.Enabled {
		return models.EntryIntent{}, "disabled"
	}
	if !cfg.TradeMode.Allows(setup.Side) {
		return models.EntryIntent{}, "trade_mode"
	}
	if !helper.ContainsFold(cfg.Symbols, setup.Key.Symbol) || !helper.ContainsFold(cfg.Timeframes, setup.Key.Timeframe) {
		return models.EntryIntent{}, "not_configured"
	}
	if s.book.Count() >= cfg.MaxPositions {
		return models.EntryIntent{}, "max_positions"
	}
	headroom := cfg.MaxGlobalExposureUSD - s.book.Exposure()
	if headroom <= s.opt.MinAvailableExposureUSD {
		return models.EntryIntent{}, "exposure"
	}
	if s.book.Busy(models.PositionKey{Symbol: setup.Key.Symbol, Timeframe: setup.Key.Timeframe, Side: setup.Side}) {
		return models.EntryIntent{}, "key_busy"
	}

	lv, err := strategy.ComputeLevels(setup, cfg, s.opt.FallbackStopPct)
	if err != nil {
		return models.EntryIntent{}, "levels"
	}
	meta, err := s.instrument(ctx, setup.Key.Symbol)
	if err != nil {
		logger.Warn("[SESSION] user=%d instrument %s: %v", s.userID, setup.Key.Symbol, err)
		return models.EntryIntent{}, "instrument"
	}
	lv = lv.RoundToTick(meta.TickSize)

	sz, err := strategy.Size(lv, strategy.SizingLimits{
		TargetLossUSD:  cfg.TargetLossUSD,
		MaxSingleUSD:   cfg.MaxSinglePositionUSD,
		HeadroomUSD:    headroom,
		MinNotionalUSD: s.opt.MinNotionalUSD,
	})
	if err == nil {
		sz, err = sz.ApplyLot(lv, meta)
	}
	if err == nil && sz.SizeUSD < s.opt.MinNotionalUSD {
		err = strategy.ErrBelowMinNotional
	}
	if err != nil {
		logger.Info("[SESSION] user=%d sizing %s: %v", s.userID, setup.Key, err)
		return models.EntryIntent{}, "sizing"
	}

	in := models.EntryIntent{
		IntentID:    models.NewIntentID(),
		UserID:      s.userID,
		Symbol:      setup.Key.Symbol,
		Timeframe:   setup.Key.Timeframe,
		Side:        setup.Side,
		Entry1Price: lv.Entry1,
		Entry1Qty:   sz.Entry1Qty,
		SizeUSD:     sz.SizeUSD,
		PlannedStop: lv.Stop,
		Impulse:     lv.Impulse,
		Targets:     lv.Targets,
		CandleTime:  setup.CandleTime,
		Reason:      setup.Reason,
	}
	if sz.Entry2Qty > 0 && lv.Entry2 > 0 {
		in.Entry2Price = lv.Entry2
		in.Entry2Qty = sz.Entry2Qty
	}
	return in, ""
}

func admitReason(err error) string {
	switch {
	case errors.Is(err, ErrSlotsFull):
		return "max_positions"
	case errors.Is(err, ErrExposureCap):
		return "exposure"
	case errors.Is(err, ErrKeyBusy):
		return "key_busy"
	}
	return "admission"
}
