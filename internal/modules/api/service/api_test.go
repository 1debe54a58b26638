package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"fibo_bot/internal/models"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/pkg/logger"

	"github.com/bytedance/sonic"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	m.Run()
}

type fakeEngines struct {
	triggered atomic.Int32
	running   map[int64][]*models.Position
	closed    []string
	closeErr  error
}

func (e *fakeEngines) Trigger() { e.triggered.Add(1) }

func (e *fakeEngines) Positions(userID int64) ([]*models.Position, error) {
	ps, ok := e.running[userID]
	if !ok {
		return nil, models.ErrInstanceStopped
	}
	return ps, nil
}

func (e *fakeEngines) ClosePosition(_ context.Context, userID int64, symbol string, pct float64) error {
	if e.closeErr != nil {
		return e.closeErr
	}
	e.closed = append(e.closed, symbol)
	return nil
}

func setup(t *testing.T) (*storage.MemoryStore, *fakeEngines, http.Handler) {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.UpsertUser(context.Background(), models.BotUser{UserID: 7, Tier: models.TierPro}); err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngines{running: map[int64][]*models.Position{}}
	balance := func(context.Context, models.Credentials) (float64, error) { return 1234.5, nil }
	return store, eng, New(store, eng, balance).Router()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestPutConfig_ClampsAndStores(t *testing.T) {
	store, eng, h := setup(t)

	rec := do(h, http.MethodPut, "/api/v1/users/7/config",
		`{"enabled":true,"symbols":["btc","FOO"],"max_positions":50,"targets":[{"fib_level":0.618,"pct":40},{"fib_level":1,"pct":60}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ConfigResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Config.MaxPositions != 5 {
		t.Errorf("max positions = %d, want pinned to 5", resp.Config.MaxPositions)
	}
	if len(resp.Config.Symbols) != 1 || resp.Config.Symbols[0] != "BTC" {
		t.Errorf("symbols = %v", resp.Config.Symbols)
	}
	stored, err := store.GetConfig(context.Background(), 7)
	if err != nil || !stored.Enabled || stored.Targets[0].Pct != 40 {
		t.Fatalf("stored = %+v err=%v", stored, err)
	}
	if eng.triggered.Load() != 1 {
		t.Error("supervisor not triggered")
	}
}

func TestPutConfig_TargetSumRejected(t *testing.T) {
	store, _, h := setup(t)
	good := `{"targets":[{"fib_level":0.618,"pct":30},{"fib_level":1,"pct":70}]}`
	if rec := do(h, http.MethodPut, "/api/v1/users/7/config", good); rec.Code != http.StatusOK {
		t.Fatalf("good targets: %d %s", rec.Code, rec.Body.String())
	}

	rec := do(h, http.MethodPut, "/api/v1/users/7/config",
		`{"max_positions":2,"targets":[{"fib_level":0.618,"pct":30},{"fib_level":1,"pct":30}]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d, want 422", rec.Code)
	}
	var resp ConfigResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" || resp.Config.Targets[1].Pct != 70 {
		t.Fatalf("resp = %+v, want last good targets", resp)
	}
	stored, _ := store.GetConfig(context.Background(), 7)
	if stored.MaxPositions != 2 || stored.Targets[1].Pct != 70 {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestPutConfig_PartialPatchKeepsOtherFields(t *testing.T) {
	store, _, h := setup(t)
	if rec := do(h, http.MethodPut, "/api/v1/users/7/config", `{"symbols":["ETH","SOL"],"max_positions":3}`); rec.Code != http.StatusOK {
		t.Fatalf("first patch: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodPut, "/api/v1/users/7/config", `{"enabled":true}`); rec.Code != http.StatusOK {
		t.Fatalf("second patch: %d %s", rec.Code, rec.Body.String())
	}
	stored, err := store.GetConfig(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Enabled || stored.MaxPositions != 3 || len(stored.Symbols) != 2 || stored.Symbols[1] != "SOL" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestPutConfig_ConcurrentPatchesBothSurvive(t *testing.T) {
	store, eng, h := setup(t)

	// one writer toggles symbols, the other max_positions; every merge must
	// start from the other writer's latest result
	const rounds = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			do(h, http.MethodPut, "/api/v1/users/7/config", `{"symbols":["XRP"]}`)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			do(h, http.MethodPut, "/api/v1/users/7/config", `{"max_positions":4}`)
		}
	}()
	wg.Wait()

	stored, err := store.GetConfig(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Symbols) != 1 || stored.Symbols[0] != "XRP" || stored.MaxPositions != 4 {
		t.Fatalf("stored = %+v, a patch was lost", stored)
	}
	if got := eng.triggered.Load(); got != 2*rounds {
		t.Errorf("triggered %d times, want %d", got, 2*rounds)
	}
}

type nilTradesStore struct {
	*storage.MemoryStore
}

func (nilTradesStore) ListTrades(context.Context, int64, int) ([]models.TradeRecord, error) {
	return nil, nil
}

func TestOverview_EmptyTradesIsArray(t *testing.T) {
	store, eng, _ := setup(t)
	h := New(nilTradesStore{store}, eng, nil).Router()

	rec := do(h, http.MethodGet, "/api/v1/users/7/overview", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"trades":[]`) {
		t.Fatalf("overview = %s", rec.Body.String())
	}
}

func TestGetConfig_DefaultsAndUnknownUser(t *testing.T) {
	_, _, h := setup(t)
	rec := do(h, http.MethodGet, "/api/v1/users/7/config", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"limits"`) {
		t.Fatalf("config = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/api/v1/users/99/config", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/v1/users/x/config", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rec.Code)
	}
}

func TestOverview_SplitsPending(t *testing.T) {
	store, eng, h := setup(t)
	ctx := context.Background()
	_ = store.UpsertUser(ctx, models.BotUser{UserID: 7, Tier: models.TierPro,
		Credentials: models.Credentials{APIKey: "k", APISecret: "s"}})
	eng.running[7] = []*models.Position{
		{ID: "a", Symbol: "BTC", State: models.StatePendingEntry1},
		{ID: "b", Symbol: "ETH", State: models.StateOpenEntry1Only},
	}

	rec := do(h, http.MethodGet, "/api/v1/users/7/overview", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	var ov models.Overview
	if err := sonic.Unmarshal(rec.Body.Bytes(), &ov); err != nil {
		t.Fatal(err)
	}
	if ov.Balance != 1234.5 || len(ov.PendingPositions) != 1 || len(ov.OpenPositions) != 1 {
		t.Fatalf("overview = %+v", ov)
	}
}

func TestPositions_FallBackToStoreWhenStopped(t *testing.T) {
	store, _, h := setup(t)
	_ = store.SavePosition(context.Background(), &models.Position{ID: "p1", UserID: 7, Symbol: "SOL", State: models.StateOpenBothEntries})

	rec := do(h, http.MethodGet, "/api/v1/users/7/positions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"p1"`) {
		t.Fatalf("positions = %d %s", rec.Code, rec.Body.String())
	}
}

func TestClosePosition(t *testing.T) {
	_, eng, h := setup(t)

	if rec := do(h, http.MethodPost, "/api/v1/users/7/positions/BTC/close", `{"pct":150}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("pct 150 = %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/api/v1/users/7/positions/BTC/close", `{"pct":50}`); rec.Code != http.StatusOK {
		t.Fatalf("close = %d %s", rec.Code, rec.Body.String())
	}
	if len(eng.closed) != 1 || eng.closed[0] != "BTC" {
		t.Fatalf("closed = %v", eng.closed)
	}

	eng.closeErr = models.ErrInstanceStopped
	if rec := do(h, http.MethodPost, "/api/v1/users/7/positions/BTC/close", `{"pct":50}`); rec.Code != http.StatusConflict {
		t.Fatalf("stopped = %d", rec.Code)
	}
	eng.closeErr = models.ErrNoOpenPosition
	if rec := do(h, http.MethodPost, "/api/v1/users/7/positions/BTC/close", `{"pct":50}`); rec.Code != http.StatusNotFound {
		t.Fatalf("no position = %d", rec.Code)
	}
}

func TestStatusDefaultsToStopped(t *testing.T) {
	_, _, h := setup(t)
	rec := do(h, http.MethodGet, "/api/v1/users/7/status", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"STOPPED"`) {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
}
