package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fibo_bot/internal/models"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbot.MessageConfig
	chats   map[int64]bool
	updates chan tgbot.Update
	sentCh  chan struct{}
}

func newFakeBot() *fakeBot {
	return &fakeBot{chats: map[int64]bool{}, updates: make(chan tgbot.Update, 8), sentCh: make(chan struct{}, 16)}
}

func (b *fakeBot) Send(c tgbot.Chattable) (tgbot.Message, error) {
	b.mu.Lock()
	b.sent = append(b.sent, c.(tgbot.MessageConfig))
	b.mu.Unlock()
	b.sentCh <- struct{}{}
	return tgbot.Message{}, nil
}

func (b *fakeBot) GetChat(cfg tgbot.ChatInfoConfig) (tgbot.Chat, error) {
	if !b.chats[cfg.ChatID] {
		return tgbot.Chat{}, errors.New("Bad Request: chat not found")
	}
	return tgbot.Chat{ID: cfg.ChatID}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbot.UpdateConfig) tgbot.UpdatesChannel { return b.updates }

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) waitSent(t *testing.T) tgbot.MessageConfig {
	t.Helper()
	select {
	case <-b.sentCh:
	case <-time.After(time.Second):
		t.Fatal("nothing sent")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent[len(b.sent)-1]
}

type fakeEngines struct {
	triggered int
}

func (e *fakeEngines) Trigger() { e.triggered++ }

func (e *fakeEngines) Status(userID int64) models.InstanceStatus {
	return models.InstanceStatus{UserID: userID, Status: models.RunStateRunning}
}

func (e *fakeEngines) Positions(int64) ([]*models.Position, error) {
	return []*models.Position{{Symbol: "BTC-USDT-SWAP", Timeframe: "15m", Side: models.SideLong, State: models.StateOpenEntry1Only, AvgEntry: 100}}, nil
}

func command(chatID int64, text, cmd string) tgbot.Update {
	return tgbot.Update{Message: &tgbot.Message{
		Chat:     &tgbot.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbot.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func TestStartLinksChat(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.UpsertUser(ctx, models.BotUser{UserID: 7, Tier: models.TierBasic})
	bot := newFakeBot()
	eng := &fakeEngines{}
	tg := NewTelegram(bot, store, 4)
	tg.Attach(eng)

	tg.handleUpdate(ctx, command(555, "/start 7", "/start"))

	u, _ := store.GetUser(ctx, 7)
	if u.ChatID != 555 {
		t.Fatalf("chat id = %d, want 555", u.ChatID)
	}
	if eng.triggered != 1 {
		t.Fatal("reconcile not triggered after linking")
	}
	if got := bot.waitSent(t); got.ChatID != 555 || !strings.Contains(got.Text, "linked") {
		t.Fatalf("reply = %+v", got)
	}

	tg.handleUpdate(ctx, command(556, "/start 99", "/start"))
	if got := bot.waitSent(t); !strings.Contains(got.Text, "not found") {
		t.Fatalf("unknown user reply = %q", got.Text)
	}
}

func TestStatusForLinkedChat(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.UpsertUser(ctx, models.BotUser{UserID: 7, ChatID: 555})
	bot := newFakeBot()
	tg := NewTelegram(bot, store, 4)
	tg.Attach(&fakeEngines{})

	tg.handleUpdate(ctx, command(555, "/status", "/status"))
	got := bot.waitSent(t)
	if !strings.Contains(got.Text, "RUNNING") || !strings.Contains(got.Text, "BTC-USDT-SWAP") {
		t.Fatalf("status reply = %q", got.Text)
	}

	tg.handleUpdate(ctx, command(1, "/status", "/status"))
	if got := bot.waitSent(t); !strings.Contains(got.Text, "not linked") {
		t.Fatalf("unlinked reply = %q", got.Text)
	}
}

func TestNotifyDeliversToLinkedChat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := storage.NewMemoryStore()
	_ = store.UpsertUser(ctx, models.BotUser{UserID: 7, ChatID: 555})
	bot := newFakeBot()
	tg := NewTelegram(bot, store, 4)
	tg.Start(ctx)
	defer tg.Stop()

	tg.Notify(ctx, models.Event{Kind: models.EventStopHit, UserID: 7, Symbol: "ETH-USDT-SWAP", Side: models.SideShort, Price: 2000, PnL: -10})

	got := bot.waitSent(t)
	if got.ChatID != 555 || !strings.Contains(got.Text, "stop hit") || !strings.Contains(got.Text, "-10.00") {
		t.Fatalf("sent = %+v", got)
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	tg := NewTelegram(newFakeBot(), storage.NewMemoryStore(), 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			tg.Notify(context.Background(), models.Event{Kind: models.EventTargetHit, UserID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with nobody draining")
	}
}

func TestReachable(t *testing.T) {
	bot := newFakeBot()
	bot.chats[555] = true
	tg := NewTelegram(bot, storage.NewMemoryStore(), 1)

	if err := tg.Reachable(context.Background(), 555); err != nil {
		t.Fatalf("reachable chat: %v", err)
	}
	if err := tg.Reachable(context.Background(), 0); err == nil {
		t.Fatal("unlinked chat reported reachable")
	}
	if err := tg.Reachable(context.Background(), 9); err == nil {
		t.Fatal("unknown chat reported reachable")
	}
}
