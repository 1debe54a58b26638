package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"fibo_bot/internal/models"
)

func TestRun_ServesCommandsAndStopsOnCancel(t *testing.T) {
	h := newHarness(t, proUser(nil))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.s.Run(ctx) }()

	c := bar("BTC", 1, 105)
	h.eng.on(c, models.Setup{Side: models.SideLong, High: 110, Low: 100})
	h.sub.c <- c

	deadline := time.Now().Add(2 * time.Second)
	for len(h.s.Positions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("setup never admitted")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.s.ClosePosition(ctx, "btc", 100); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(h.s.Positions()); n != 0 {
		t.Errorf("%d positions left after close", n)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("clean stop returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	if err := h.s.ClosePosition(context.Background(), "BTC", 100); !errors.Is(err, models.ErrInstanceStopped) {
		t.Errorf("close on stopped session: %v", err)
	}
}

func TestRun_PanicIsReportedAsCrash(t *testing.T) {
	h := newHarness(t, proUser(nil))
	h.eng.panics = true
	h.sub.c <- bar("BTC", 1, 105)

	err := h.s.Run(context.Background())
	if !errors.Is(err, models.ErrInstanceCrash) {
		t.Fatalf("want ErrInstanceCrash, got %v", err)
	}
	select {
	case <-h.s.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestRun_ResubscribesOnConfigChange(t *testing.T) {
	user := proUser(nil)
	h := newHarness(t, user)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.s.Run(ctx) }()

	user.Config.Symbols = []string{"SOL"}
	h.s.UpdateConfig(user)

	sol := models.FeedKey{Symbol: "SOL", Timeframe: "15m"}
	btc := models.FeedKey{Symbol: "BTC", Timeframe: "15m"}
	deadline := time.Now().Add(2 * time.Second)
	for !h.sub.has(sol) || h.sub.has(btc) {
		if time.Now().After(deadline) {
			t.Fatal("stream not moved to the new keys")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
