package supervisor

import (
	"context"

	"fibo_bot/internal/models"
)

// ClosePosition forwards a manual close to the user's running session.
func (s *Supervisor) ClosePosition(ctx context.Context, userID int64, symbol string, pct float64) error {
	sess, ok := s.session(userID)
	if !ok {
		return models.ErrInstanceStopped
	}
	return sess.ClosePosition(ctx, symbol, pct)
}

// Positions lists the live positions of a running user.
func (s *Supervisor) Positions(userID int64) ([]*models.Position, error) {
	sess, ok := s.session(userID)
	if !ok {
		return nil, models.ErrInstanceStopped
	}
	return sess.Positions(), nil
}

// Status is the in-memory view of a user's instance.
func (s *Supervisor) Status(userID int64) models.InstanceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.table[userID]
	if !ok {
		return models.InstanceStatus{UserID: userID, Status: models.RunStateStopped}
	}
	st := models.InstanceStatus{
		UserID:        userID,
		Status:        models.RunStateStopped,
		LastHeartbeat: in.LastHeartbeat,
		StopReason:    in.StopReason,
		Restarts:      in.Restarts,
	}
	if in.running() {
		st.Status = models.RunStateRunning
		st.LastHeartbeat = in.Session.Heartbeat()
		st.StopReason = ""
	}
	return st
}
