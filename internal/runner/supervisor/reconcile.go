package supervisor

import (
	"context"
	"fmt"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	"fibo_bot/pkg/logger"
)

// Reconcile brings every user's actual run state to the desired one and
// persists the resulting status.
func (s *Supervisor) Reconcile(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.ReconcileDuration.Observe(time.Since(start).Seconds()) }()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		logger.Error("[SUPERVISOR] list users: %v", err)
		return
	}

	seen := make(map[int64]struct{}, len(users))
	for _, u := range users {
		seen[u.UserID] = struct{}{}
		s.reconcileUser(ctx, u)
	}

	s.mu.RLock()
	var gone []*Instance
	for id, in := range s.table {
		if _, ok := seen[id]; !ok {
			gone = append(gone, in)
		}
	}
	s.mu.RUnlock()
	for _, in := range gone {
		s.stop(in, "user removed")
		if in.draining() {
			// kept until the goroutine returns so a re-added user waits for it
			continue
		}
		s.mu.Lock()
		delete(s.table, in.UserID)
		s.mu.Unlock()
	}

	running := 0
	for _, in := range s.Snapshot() {
		if in.running() {
			running++
		}
	}
	metrics.RunningInstances.Set(float64(running))
	if s.opt.OnReconcile != nil {
		s.opt.OnReconcile(s.now(), running)
	}
}

func desired(u models.BotUser) (models.RunState, string) {
	switch {
	case !u.Config.Enabled:
		return models.RunStateStopped, "disabled"
	case !u.WalletLinked():
		return models.RunStateStopped, "wallet not linked"
	case !u.NotificationLinked():
		return models.RunStateStopped, "notifications not linked"
	}
	return models.RunStateRunning, ""
}

func (s *Supervisor) reconcileUser(ctx context.Context, u models.BotUser) {
	in := s.instance(u.UserID)
	want, reason := desired(u)

	s.mu.Lock()
	in.Desired = want
	if !u.Config.UpdatedAt.Equal(in.configVersion) {
		// a new config gives a failed user another set of restarts
		in.configVersion = u.Config.UpdatedAt
		in.Restarts = 0
		in.Failed = false
	}
	s.mu.Unlock()

	if in.running() {
		if crashErr := s.crashed(in); crashErr != nil {
			s.onCrash(ctx, in, crashErr)
		}
	}

	switch {
	case want == models.RunStateStopped:
		if in.running() {
			s.stop(in, reason)
		}
		s.setReason(in, reason)
	case in.Failed:
		// fail-stop until the config changes
	case in.running() && in.creds != u.Credentials:
		s.stop(in, "credentials changed")
		if err := s.start(ctx, in, u); err != nil {
			logger.Warn("[SUPERVISOR] user=%d not restarted: %v", u.UserID, err)
			s.setReason(in, err.Error())
		}
	case in.running():
		if in.tier != u.Tier || in.chatID != u.ChatID || !in.applied.Equal(u.Config.UpdatedAt) {
			in.Session.UpdateConfig(u)
			s.mu.Lock()
			in.tier, in.chatID, in.applied = u.Tier, u.ChatID, u.Config.UpdatedAt
			s.mu.Unlock()
		}
		s.setReason(in, "")
	default:
		if err := s.start(ctx, in, u); err != nil {
			logger.Warn("[SUPERVISOR] user=%d not started: %v", u.UserID, err)
			s.setReason(in, err.Error())
		}
	}

	s.writeStatus(ctx, in)
}

func (s *Supervisor) instance(userID int64) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.table[userID]
	if !ok {
		in = &Instance{UserID: userID, Desired: models.RunStateStopped}
		s.table[userID] = in
	}
	return in
}

// crashed reports why a running session counts as crashed, or nil.
func (s *Supervisor) crashed(in *Instance) error {
	select {
	case <-in.done:
		if in.exitErr != nil {
			return in.exitErr
		}
		return fmt.Errorf("%w: session exited", models.ErrInstanceCrash)
	default:
	}

	hb := in.Session.Heartbeat()
	s.mu.Lock()
	in.LastHeartbeat = hb
	s.mu.Unlock()
	if age := s.now().Sub(hb); age > s.opt.HeartbeatTimeout {
		return fmt.Errorf("%w: no heartbeat for %s", models.ErrInstanceCrash, age.Truncate(time.Second))
	}
	return nil
}

func (s *Supervisor) onCrash(ctx context.Context, in *Instance, cause error) {
	metrics.InstanceCrashes.Inc()
	s.stop(in, cause.Error())

	s.mu.Lock()
	in.Restarts++
	failed := in.Restarts > s.opt.MaxRestarts
	if failed {
		in.Failed = true
		in.StopReason = fmt.Sprintf("crashed %d times, last: %v", in.Restarts, cause)
	}
	s.mu.Unlock()

	logger.Error("[SUPERVISOR] user=%d crash #%d: %v", in.UserID, in.Restarts, cause)
	if failed && s.notifier != nil {
		s.notifier.Notify(ctx, models.Event{
			Kind: models.EventInstanceStopped, UserID: in.UserID, Message: in.StopReason, At: s.now(),
		})
	}
}

func (s *Supervisor) setReason(in *Instance, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.Failed {
		return
	}
	in.StopReason = reason
}

func (s *Supervisor) writeStatus(ctx context.Context, in *Instance) {
	s.mu.RLock()
	st := models.InstanceStatus{
		UserID:        in.UserID,
		Status:        models.RunStateStopped,
		LastHeartbeat: in.LastHeartbeat,
		StopReason:    in.StopReason,
		Restarts:      in.Restarts,
		UpdatedAt:     s.now(),
	}
	if in.running() {
		st.Status = models.RunStateRunning
		st.StopReason = ""
	}
	s.mu.RUnlock()

	if err := s.store.UpsertStatus(ctx, st); err != nil {
		logger.Warn("[SUPERVISOR] user=%d status upsert: %v", in.UserID, err)
	}
}
