// Package service serves the user-facing HTTP API: config, status,
// overview, positions and manual close.
package service

import (
	"context"
	"io"
	"net/http"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/modules/metrics"
	storage "fibo_bot/internal/modules/storage/service"
	"fibo_bot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

// Engines is the supervisor as seen by the API.
type Engines interface {
	Trigger()
	Positions(userID int64) ([]*models.Position, error)
	ClosePosition(ctx context.Context, userID int64, symbol string, pct float64) error
}

// BalanceFunc reads a user's available USDT with their own credentials.
type BalanceFunc func(ctx context.Context, creds models.Credentials) (float64, error)

type API struct {
	store   storage.Store
	engines Engines
	balance BalanceFunc
	now     func() time.Time
}

func New(store storage.Store, engines Engines, balance BalanceFunc) *API {
	return &API{store: store, engines: engines, balance: balance, now: time.Now}
}

// Router mounts the API and /metrics.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Put("/", a.PutUser)
		r.Get("/config", a.GetConfig)
		r.Put("/config", a.PutConfig)
		r.Get("/status", a.GetStatus)
		r.Get("/overview", a.GetOverview)
		r.Get("/positions", a.GetPositions)
		r.Post("/positions/{symbol}/close", a.ClosePosition)
	})
	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("[API] encode: %v", err)
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoOpenPosition):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInstanceStopped):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrVenueRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	case models.IsVenueTimeout(err), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		logger.Error("[API] %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, v)
}
