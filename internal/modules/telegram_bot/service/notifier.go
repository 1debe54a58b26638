package service

import (
	"context"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"
)

// Notify queues an event for delivery. A full queue drops the event.
func (t *Telegram) Notify(_ context.Context, ev models.Event) {
	select {
	case t.queue <- ev:
	default:
		logger.Warn("[TELEGRAM] queue full, dropped %s for user=%d", ev.Kind, ev.UserID)
	}
}

func (t *Telegram) deliver(ctx context.Context) {
	for {
		select {
		case <-t.stop:
			return
		case ev := <-t.queue:
			t.deliverOne(ctx, ev)
		}
	}
}

func (t *Telegram) deliverOne(ctx context.Context, ev models.Event) {
	u, err := t.users.GetUser(ctx, ev.UserID)
	if err != nil {
		logger.Warn("[TELEGRAM] user=%d lookup: %v", ev.UserID, err)
		return
	}
	if u.ChatID == 0 {
		return
	}
	if err := t.Send(u.ChatID, formatEvent(ev)); err != nil {
		logger.Warn("[TELEGRAM] user=%d send %s: %v", ev.UserID, ev.Kind, err)
	}
}
