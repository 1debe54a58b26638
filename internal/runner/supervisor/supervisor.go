// Package supervisor keeps one running session per active user. Its table
// of instances is written only by the reconcile loop.
package supervisor

import (
	"context"
	"sync"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/runner/sessions"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/pkg/logger"
)

// Session is the handle the supervisor holds on a user's engine.
type Session interface {
	Run(ctx context.Context) error
	Heartbeat() time.Time
	UpdateConfig(user models.BotUser)
	ClosePosition(ctx context.Context, symbol string, pct float64) error
	Positions() []*models.Position
}

// GatewayFactory builds a user's own venue client from their credentials.
type GatewayFactory func(creds models.Credentials) (sessions.Gateway, error)

// SessionFactory builds a session for a user that passed every precondition.
type SessionFactory func(user models.BotUser, gw sessions.Gateway) Session

// ChatChecker checks that a user's notification channel accepts messages.
type ChatChecker interface {
	Reachable(ctx context.Context, chatID int64) error
}

type Options struct {
	ReconcileInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxRestarts       int
	StopTimeout       time.Duration
	CheckTimeout      time.Duration
	// OnReconcile is told the time and running count after each pass.
	OnReconcile func(at time.Time, running int)
}

// Instance is one row of the supervisor table.
type Instance struct {
	UserID        int64
	Desired       models.RunState
	Session       Session
	LastHeartbeat time.Time
	Restarts      int
	StopReason    string
	Failed        bool

	tier          models.Tier
	configVersion time.Time
	applied       time.Time
	chatID        int64
	creds         models.Credentials
	cancel        context.CancelFunc
	done          chan struct{}
	exitErr       error
}

func (in *Instance) running() bool { return in.Session != nil }

// draining is true for a stopped instance whose session goroutine has not
// returned yet. No replacement may start until it does.
func (in *Instance) draining() bool {
	if in.Session != nil || in.done == nil {
		return false
	}
	select {
	case <-in.done:
		return false
	default:
		return true
	}
}

type Supervisor struct {
	opt      Options
	store    storage.Store
	gateways GatewayFactory
	sessions SessionFactory
	chats    ChatChecker
	notifier models.Notifier
	now      func() time.Time

	mu    sync.RWMutex
	table map[int64]*Instance

	root    context.Context
	trigger chan struct{}
}

func New(opt Options, store storage.Store, gateways GatewayFactory, factory SessionFactory, chats ChatChecker, notifier models.Notifier) *Supervisor {
	if opt.ReconcileInterval <= 0 {
		opt.ReconcileInterval = 30 * time.Second
	}
	if opt.HeartbeatTimeout <= 0 {
		opt.HeartbeatTimeout = 90 * time.Second
	}
	if opt.StopTimeout <= 0 {
		opt.StopTimeout = 10 * time.Second
	}
	if opt.CheckTimeout <= 0 {
		opt.CheckTimeout = 10 * time.Second
	}
	return &Supervisor{
		opt:      opt,
		store:    store,
		gateways: gateways,
		sessions: factory,
		chats:    chats,
		notifier: notifier,
		now:      time.Now,
		table:    make(map[int64]*Instance),
		root:     context.Background(),
		trigger:  make(chan struct{}, 1),
	}
}

// Run reconciles on every interval, and right away when Trigger is called,
// until ctx ends. Sessions are stopped on the way out.
func (s *Supervisor) Run(ctx context.Context) {
	s.root = ctx
	t := time.NewTicker(s.opt.ReconcileInterval)
	defer t.Stop()

	logger.Info("[SUPERVISOR] started, reconcile every %s", s.opt.ReconcileInterval)
	s.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			logger.Info("[SUPERVISOR] stopped")
			return
		case <-t.C:
			s.Reconcile(ctx)
		case <-s.trigger:
			s.Reconcile(ctx)
		}
	}
}

// Trigger asks for a reconcile pass without waiting for the ticker.
func (s *Supervisor) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Snapshot copies the table for readers.
func (s *Supervisor) Snapshot() map[int64]Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]Instance, len(s.table))
	for id, in := range s.table {
		out[id] = *in
	}
	return out
}

func (s *Supervisor) session(userID int64) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.table[userID]
	if !ok || !in.running() {
		return nil, false
	}
	return in.Session, true
}
