package models

import "time"

type RunState string

const (
	RunStateRunning RunState = "RUNNING"
	RunStateStopped RunState = "STOPPED"
)

// InstanceStatus is what GetBotStatus returns and what the supervisor
// persists on every reconcile tick.
type InstanceStatus struct {
	UserID        int64     `json:"user_id"`
	Status        RunState  `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	StopReason    string    `json:"stop_reason,omitempty"`
	Restarts      int       `json:"restarts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Overview is the dashboard read model.
type Overview struct {
	Balance          float64       `json:"balance"`
	Trades           []TradeRecord `json:"trades"`
	OpenPositions    []Position    `json:"open_positions"`
	PendingPositions []Position    `json:"pending_positions"`
}
