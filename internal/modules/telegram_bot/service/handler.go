package service

import (
	"context"
	"errors"
	"fmt"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = "Commands:\n" +
	"/start <user id> links this chat to your account\n" +
	"/status shows the bot state and open positions"

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	chatID := msg.Chat.ID

	var reply string
	switch msg.Command() {
	case "start":
		reply = t.handleStart(ctx, chatID, msg.CommandArguments())
	case "status":
		reply = t.handleStatus(ctx, chatID)
	default:
		reply = helpText
	}
	if err := t.Send(chatID, reply); err != nil {
		logger.Warn("[TELEGRAM] chat=%d reply: %v", chatID, err)
	}
}

// handleStart links the chat as the user's notification channel.
func (t *Telegram) handleStart(ctx context.Context, chatID int64, args string) string {
	userID, ok := parseUserID(args)
	if !ok {
		return "Send `/start <user id>` to link this chat."
	}
	if err := t.users.LinkChat(ctx, userID, chatID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Sprintf("User `%d` not found.", userID)
		}
		logger.Error("[TELEGRAM] link chat=%d user=%d: %v", chatID, userID, err)
		return "Could not link this chat, try again later."
	}
	logger.Info("[TELEGRAM] chat=%d linked to user=%d", chatID, userID)
	if e := t.control(); e != nil {
		e.Trigger()
	}
	return fmt.Sprintf("Chat linked to user `%d`. Notifications will arrive here.", userID)
}

func (t *Telegram) handleStatus(ctx context.Context, chatID int64) string {
	userID, err := t.userByChat(ctx, chatID)
	if err != nil {
		return "This chat is not linked. Send `/start <user id>` first."
	}
	e := t.control()
	if e == nil {
		return "Engine is starting, try again shortly."
	}
	positions, _ := e.Positions(userID)
	return formatStatus(e.Status(userID), positions)
}

func (t *Telegram) userByChat(ctx context.Context, chatID int64) (int64, error) {
	users, err := t.users.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		if u.ChatID == chatID {
			return u.UserID, nil
		}
	}
	return 0, models.ErrNotFound
}
