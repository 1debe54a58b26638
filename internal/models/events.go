package models

import (
	"context"
	"time"
)

type EventKind string

const (
	EventEntryFilled     EventKind = "entry_filled"
	EventEntry2Filled    EventKind = "entry2_filled"
	EventTargetHit       EventKind = "target_hit"
	EventStopHit         EventKind = "stop_hit"
	EventPositionClosed  EventKind = "position_closed"
	EventEntryCancelled  EventKind = "entry_cancelled"
	EventInstanceStopped EventKind = "instance_stopped"
)

// Event is handed to the notification channel. Delivery is best effort.
type Event struct {
	Kind       EventKind `json:"kind"`
	UserID     int64     `json:"user_id"`
	PositionID string    `json:"position_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Side       Side      `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Qty        float64   `json:"qty,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Target     int       `json:"target,omitempty"` // 1-based
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier never blocks the caller and never returns delivery errors.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}
