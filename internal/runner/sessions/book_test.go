package sessions

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"fibo_bot/internal/models"
)

func intent(symbol string, size float64) models.EntryIntent {
	return models.EntryIntent{
		IntentID: models.NewIntentID(), UserID: 1, Symbol: symbol, Timeframe: "15m", Side: models.SideLong,
		Entry1Price: 100, Entry1Qty: size / 100, SizeUSD: size,
	}
}

func TestBook_CapsHoldUnderConcurrency(t *testing.T) {
	const (
		maxPositions = 4
		maxExposure  = 1000.0
	)
	b := NewBook()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Admit(intent(fmt.Sprintf("S%02d", i), 300), maxPositions, maxExposure)
		}(i)
	}
	wg.Wait()

	if n := b.Count(); n > maxPositions || n != 3 {
		t.Errorf("count = %d, want 3 (exposure binds before slots)", n)
	}
	if e := b.Exposure(); e > maxExposure+1e-9 {
		t.Errorf("exposure %.2f over cap", e)
	}
}

func TestBook_SlotCapUnderConcurrency(t *testing.T) {
	b := NewBook()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = b.Admit(intent(fmt.Sprintf("S%02d", i), 10), 2, 1e6)
		}(i)
	}
	wg.Wait()
	if n := b.Count(); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestBook_AdmitErrors(t *testing.T) {
	b := NewBook()
	if _, err := b.Admit(intent("BTC", 100), 2, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Admit(intent("BTC", 100), 2, 1000); !errors.Is(err, ErrKeyBusy) {
		t.Errorf("same key: %v", err)
	}
	if _, err := b.Admit(intent("ETH", 950), 2, 1000); !errors.Is(err, ErrExposureCap) {
		t.Errorf("exposure: %v", err)
	}
	if _, err := b.Admit(intent("ETH", 100), 2, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Admit(intent("SOL", 1), 2, 1000); !errors.Is(err, ErrSlotsFull) {
		t.Errorf("slots: %v", err)
	}
}

func TestBook_TerminalReleases(t *testing.T) {
	b := NewBook()
	p, _ := b.Admit(intent("BTC", 100), 1, 1000)
	p.State = models.StateCancelled
	b.Put(p)
	if b.Count() != 0 || b.Exposure() != 0 || b.Busy(p.Key()) {
		t.Fatal("terminal position not released")
	}
	if _, err := b.Admit(intent("BTC", 100), 1, 1000); err != nil {
		t.Errorf("slot not reusable: %v", err)
	}
}

func TestExposure_Legs(t *testing.T) {
	p := &models.Position{
		State: models.StateOpenEntry1Only, AvgEntry: 100, OpenQty: 2,
		Entry2Price: 90, Entry2: models.OrderRef{Qty: 1, State: models.OrderNew},
	}
	if got := exposure(p).InexactFloat64(); got != 290 {
		t.Errorf("exposure = %v, want 290", got)
	}
	p.Entry2Locked = true
	if got := exposure(p).InexactFloat64(); got != 200 {
		t.Errorf("locked entry2 still counted: %v", got)
	}
}
