package service

import (
	"context"
	"sync"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Bot is the part of the Bot API the service uses.
type Bot interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	GetChat(config tgbot.ChatInfoConfig) (tgbot.Chat, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

// Users is the slice of the store the bot reads and writes.
type Users interface {
	ListUsers(ctx context.Context) ([]models.BotUser, error)
	GetUser(ctx context.Context, userID int64) (models.BotUser, error)
	LinkChat(ctx context.Context, userID, chatID int64) error
}

// Engines answers /status and is told when a chat gets linked.
type Engines interface {
	Trigger()
	Status(userID int64) models.InstanceStatus
	Positions(userID int64) ([]*models.Position, error)
}

// Telegram delivers engine events to linked chats and serves the chat
// commands.
type Telegram struct {
	bot   Bot
	users Users

	mu      sync.RWMutex
	engines Engines

	queue chan models.Event
	stop  chan struct{}
	wg    sync.WaitGroup
}

var _ models.Notifier = (*Telegram)(nil)

func NewTelegram(bot Bot, users Users, queueSize int) *Telegram {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Telegram{
		bot:   bot,
		users: users,
		queue: make(chan models.Event, queueSize),
		stop:  make(chan struct{}),
	}
}

// Attach wires the supervisor in once both exist.
func (t *Telegram) Attach(e Engines) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engines = e
}

func (t *Telegram) control() Engines {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engines
}

func (t *Telegram) Send(chatID int64, text string) error {
	msg := tgbot.NewMessage(chatID, text)
	msg.ParseMode = tgbot.ModeMarkdown
	_, err := t.bot.Send(msg)
	return err
}

// Reachable checks that the bot can see the chat.
func (t *Telegram) Reachable(_ context.Context, chatID int64) error {
	if chatID == 0 {
		return errors.New("chat not linked")
	}
	if _, err := t.bot.GetChat(tgbot.ChatInfoConfig{ChatConfig: tgbot.ChatConfig{ChatID: chatID}}); err != nil {
		return errors.Wrapf(err, "chat %d", chatID)
	}
	return nil
}

// Start runs the delivery worker and the update loop.
func (t *Telegram) Start(ctx context.Context) {
	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.deliver(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.listen(ctx)
	}()
}

func (t *Telegram) Stop() {
	close(t.stop)
	t.bot.StopReceivingUpdates()
	t.wg.Wait()
	logger.Info("[TELEGRAM] stopped")
}

func (t *Telegram) listen(ctx context.Context) {
	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	for {
		select {
		case <-t.stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}
