package supervisor

import (
	"context"
	"fmt"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/risk"
	"fibo_bot/pkg/logger"

	"github.com/pkg/errors"
)

// preconditions checks everything a user needs before a session may start.
// The returned error is the reason surfaced in the user's status.
func (s *Supervisor) preconditions(ctx context.Context, u models.BotUser) (Session, error) {
	cfg, err := risk.Clamp(u.Tier, u.Config, nil)
	if err != nil && !errors.Is(err, models.ErrConfigRejected) {
		return nil, errors.Wrap(err, "config")
	}
	if len(cfg.Symbols) == 0 || len(cfg.Timeframes) == 0 {
		return nil, errors.New("config has no symbols or timeframes")
	}

	gw, err := s.gateways(u.Credentials)
	if err != nil {
		return nil, errors.Wrap(err, "exchange credentials")
	}
	pctx, cancel := context.WithTimeout(ctx, s.opt.CheckTimeout)
	defer cancel()
	if _, err := gw.Balance(pctx); err != nil {
		return nil, errors.Wrap(err, "balance check")
	}
	if s.chats != nil {
		if err := s.chats.Reachable(pctx, u.ChatID); err != nil {
			return nil, errors.Wrap(err, "notification channel")
		}
	}
	return s.sessions(u, gw), nil
}

func (s *Supervisor) start(ctx context.Context, in *Instance, u models.BotUser) error {
	if in.draining() {
		return errors.New("previous session is still stopping")
	}
	sess, err := s.preconditions(ctx, u)
	if err != nil {
		return err
	}

	// sessions outlive the reconcile call, so they hang off the root context
	rctx, cancel := context.WithCancel(s.root)
	done := make(chan struct{})

	s.mu.Lock()
	in.Session = sess
	in.cancel = cancel
	in.done = done
	in.exitErr = nil
	in.tier, in.chatID, in.creds = u.Tier, u.ChatID, u.Credentials
	in.applied = u.Config.UpdatedAt
	in.LastHeartbeat = sess.Heartbeat()
	in.StopReason = ""
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := sess.Run(rctx)
		if err == nil && rctx.Err() == nil {
			err = fmt.Errorf("%w: session returned", models.ErrInstanceCrash)
		}
		s.mu.Lock()
		in.exitErr = err
		s.mu.Unlock()
	}()

	logger.Info("[SUPERVISOR] user=%d started (restarts=%d)", u.UserID, in.Restarts)
	return nil
}

// stop cancels a running session and waits up to StopTimeout for it. A
// session that outlives the wait keeps its done channel, which blocks a
// restart until the goroutine has really returned.
func (s *Supervisor) stop(in *Instance, reason string) {
	s.mu.Lock()
	sess, cancel, done := in.Session, in.cancel, in.done
	in.Session, in.cancel = nil, nil
	if !in.Failed {
		in.StopReason = reason
	}
	s.mu.Unlock()
	if sess == nil {
		return
	}

	cancel()
	select {
	case <-done:
	case <-time.After(s.opt.StopTimeout):
		logger.Warn("[SUPERVISOR] user=%d did not stop within %s", in.UserID, s.opt.StopTimeout)
		return
	}
	logger.Info("[SUPERVISOR] user=%d stopped: %s", in.UserID, reason)
}

func (s *Supervisor) stopAll() {
	s.mu.RLock()
	all := make([]*Instance, 0, len(s.table))
	for _, in := range s.table {
		all = append(all, in)
	}
	s.mu.RUnlock()

	for _, in := range all {
		s.stop(in, "shutdown")
	}
}
