// Package sessions runs one user's trading engine: the decision pass over
// closed candles and the position manager that carries each admitted
// intent through its lifecycle.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/risk"
	strategy "fibo_bot/internal/modules/strategy/service"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

type Options struct {
	CandleHistory             int
	EntryTimeoutBars          int
	FillPollInterval          time.Duration
	HeartbeatInterval         time.Duration
	MinNotionalUSD            float64
	MinAvailableExposureUSD   float64
	FallbackStopPct           float64
	BreakEvenAfterFirstTarget bool
	MaxRetries                int
	PollAttempts              int
	PollBackoff               time.Duration
}

func (o Options) withDefaults() Options {
	if o.CandleHistory <= 0 {
		o.CandleHistory = 300
	}
	if o.EntryTimeoutBars <= 0 {
		o.EntryTimeoutBars = 12
	}
	if o.FillPollInterval <= 0 {
		o.FillPollInterval = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.MinNotionalUSD <= 0 {
		o.MinNotionalUSD = 10
	}
	if o.FallbackStopPct <= 0 {
		o.FallbackStopPct = 0.5
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 5
	}
	if o.PollBackoff <= 0 {
		o.PollBackoff = 500 * time.Millisecond
	}
	return o
}

type Deps struct {
	Gateway   Gateway
	Store     PositionStore
	Notifier  models.Notifier
	Subscribe func() Stream
	// Engine defaults to a fresh FibDivergence per session.
	Engine strategy.Engine
	Now    func() time.Time
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// UserSession is one running engine instance. Run is its only goroutine; every
// position mutation happens there. Other goroutines talk to it through
// UpdateConfig, ClosePosition and the read-only accessors.
type UserSession struct {
	userID int64
	opt    Options

	gw       Gateway
	store    PositionStore
	notifier models.Notifier
	engine   strategy.Engine
	subFn    func() Stream
	now      func() time.Time

	cfgMu    sync.RWMutex
	user     models.BotUser
	lastGood []models.Target

	book *Book
	sub  Stream
	keys map[models.FeedKey]struct{}
	meta map[string]models.InstrumentMeta
	last map[string]float64 // last seen price per symbol

	heartbeat atomic.Int64
	cmds      chan command
	reconf    chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

func New(user models.BotUser, opt Options, deps Deps) *UserSession {
	eng := deps.Engine
	if eng == nil {
		eng = strategy.NewFibDivergence(strategy.DefaultConfig())
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &UserSession{
		userID:   user.UserID,
		opt:      opt.withDefaults(),
		gw:       deps.Gateway,
		store:    deps.Store,
		notifier: deps.Notifier,
		engine:   eng,
		subFn:    deps.Subscribe,
		now:      now,
		book:     NewBook(),
		keys:     make(map[models.FeedKey]struct{}),
		meta:     make(map[string]models.InstrumentMeta),
		last:     make(map[string]float64),
		cmds:     make(chan command),
		reconf:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.setUser(user)
	s.heartbeat.Store(now().UnixNano())
	return s
}

func (s *UserSession) UserID() int64 { return s.userID }

// Heartbeat is the last time the run loop was alive.
func (s *UserSession) Heartbeat() time.Time { return time.Unix(0, s.heartbeat.Load()) }

func (s *UserSession) beat() { s.heartbeat.Store(s.now().UnixNano()) }

// Done is closed once Run returned.
func (s *UserSession) Done() <-chan struct{} { return s.done }

// UpdateConfig swaps the user record. Risk fields apply on the next pass;
// a changed symbol or timeframe list resubscribes the feed.
func (s *UserSession) UpdateConfig(user models.BotUser) {
	s.setUser(user)
	select {
	case s.reconf <- struct{}{}:
	default:
	}
}

func (s *UserSession) setUser(user models.BotUser) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.user = user
	s.user.Config = user.Config.Clone()
	if cfg, err := risk.Clamp(user.Tier, user.Config, nil); err == nil {
		s.lastGood = cfg.Targets
	}
}

// effective re-clamps the stored config against the current tier, so a
// downgrade is honoured from the next pass on.
func (s *UserSession) effective() models.UserBotConfig {
	s.cfgMu.RLock()
	tier, req, lastGood := s.user.Tier, s.user.Config, s.lastGood
	s.cfgMu.RUnlock()

	cfg, err := risk.Clamp(tier, req, lastGood)
	if err != nil {
		logger.Warn("[SESSION] user=%d %v, using last known good targets", s.userID, err)
	}
	return cfg
}

// Positions returns a copy of every non-terminal position.
func (s *UserSession) Positions() []*models.Position { return s.book.Snapshot() }

// Run drives the session until ctx ends. It returns an error wrapping
// ErrInstanceCrash when the session died on its own.
func (s *UserSession) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session already started")
	}
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[SESSION] user=%d panic: %v", s.userID, r)
			err = errors.Wrapf(models.ErrInstanceCrash, "user %d panic: %v", s.userID, r)
		}
	}()

	if err := s.restore(ctx); err != nil {
		return errors.Wrapf(models.ErrInstanceCrash, "user %d restore: %v", s.userID, err)
	}

	s.sub = s.subFn()
	defer s.sub.Close()
	s.resubscribe(ctx)

	beat := time.NewTicker(s.opt.HeartbeatInterval)
	defer beat.Stop()
	poll := time.NewTicker(s.opt.FillPollInterval)
	defer poll.Stop()

	logger.Info("[SESSION] user=%d started, %d keys, %d live positions", s.userID, len(s.keys), s.book.Count())
	for {
		s.beat()
		select {
		case <-ctx.Done():
			logger.Info("[SESSION] user=%d stopped", s.userID)
			return nil
		case c := <-s.sub.Candles():
			s.onCandles(ctx, s.drain(c))
		case cmd := <-s.cmds:
			cmd.reply <- cmd.fn(ctx)
		case <-s.reconf:
			s.resubscribe(ctx)
		case <-beat.C:
		case <-poll.C:
			s.pollOrders(ctx)
		}
	}
}

// drain collects everything already queued behind c, so setups that closed
// on the same tick are decided in one pass.
func (s *UserSession) drain(c models.Candle) []models.Candle {
	batch := []models.Candle{c}
	for {
		select {
		case more := <-s.sub.Candles():
			batch = append(batch, more)
		default:
			return batch
		}
	}
}

// exec runs fn on the session goroutine and waits for its result.
func (s *UserSession) exec(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return models.ErrInstanceStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restore loads positions that survived a restart.
func (s *UserSession) restore(ctx context.Context) error {
	ps, err := s.store.ListPositions(ctx, s.userID, true)
	if err != nil {
		return err
	}
	for i := range ps {
		s.book.Put(&ps[i])
	}
	s.checkVenue(ctx)
	return nil
}

// venuePositions is implemented by gateways that can list open positions.
type venuePositions interface {
	Positions(ctx context.Context) ([]models.VenuePosition, error)
}

// checkVenue warns about restored open positions the venue no longer holds,
// typically closed by hand on the exchange while the session was down.
func (s *UserSession) checkVenue(ctx context.Context) {
	vp, ok := s.gw.(venuePositions)
	if !ok || s.book.Count() == 0 {
		return
	}
	held, err := vp.Positions(ctx)
	if err != nil {
		logger.Warn("[SESSION] user=%d venue positions: %v", s.userID, err)
		return
	}
	open := make(map[models.PositionKey]float64, len(held))
	for _, h := range held {
		open[models.PositionKey{Symbol: h.Symbol, Side: h.Side}] += h.Qty
	}
	for _, p := range s.book.Snapshot() {
		if !p.State.Open() {
			continue
		}
		if open[models.PositionKey{Symbol: p.Symbol, Side: p.Side}] < p.OpenQty-qtyEps {
			logger.Warn("[SESSION] user=%d %s %s %s: venue holds less than the restored %.8g",
				s.userID, p.ID, p.Symbol, p.Side, p.OpenQty)
		}
	}
}

// persist writes p to the book and the store, and archives it once terminal.
func (s *UserSession) persist(ctx context.Context, p *models.Position) {
	p.UpdatedAt = s.now()
	s.book.Put(p)
	if err := s.store.SavePosition(ctx, p); err != nil {
		logger.Error("[SESSION] user=%d save position %s: %v", s.userID, p.ID, err)
	}
	if !p.State.Terminal() {
		return
	}
	if err := s.store.ArchiveTrade(ctx, p.ToTradeRecord()); err != nil {
		logger.Error("[SESSION] user=%d archive %s: %v", s.userID, p.ID, err)
	}
}

func (s *UserSession) notify(ctx context.Context, kind models.EventKind, p *models.Position, ev models.Event) {
	if s.notifier == nil {
		return
	}
	ev.Kind = kind
	ev.UserID = s.userID
	if p != nil {
		ev.PositionID = p.ID
		ev.Symbol = p.Symbol
		ev.Side = p.Side
	}
	ev.At = s.now()
	s.notifier.Notify(ctx, ev)
}

func (s *UserSession) instrument(ctx context.Context, symbol string) (models.InstrumentMeta, error) {
	if m, ok := s.meta[symbol]; ok {
		return m, nil
	}
	m, err := s.gw.InstrumentMeta(ctx, symbol)
	if err != nil {
		return m, err
	}
	s.meta[symbol] = m
	return m, nil
}
