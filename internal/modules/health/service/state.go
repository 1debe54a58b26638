package service

import (
	"sync/atomic"
	"time"
)

// State collects liveness signals from the feed and the supervisor.
type State struct {
	startedAt time.Time

	wsConnected       atomic.Bool
	lastTickUnix      atomic.Int64 // unix seconds
	lastReconcileUnix atomic.Int64
	running           atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

// Ready is true once the feed is connected and the supervisor has
// completed a reconcile pass.
func (s *State) Ready() bool {
	return s.WSConnected() && !s.LastReconcile().IsZero()
}

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time   { return fromUnix(s.lastTickUnix.Load()) }

// Reconciled records a finished supervisor pass.
func (s *State) Reconciled(at time.Time, running int) {
	s.lastReconcileUnix.Store(at.Unix())
	s.running.Store(int64(running))
}

func (s *State) LastReconcile() time.Time { return fromUnix(s.lastReconcileUnix.Load()) }
func (s *State) Running() int             { return int(s.running.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func fromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
