package service

import (
	"net/http"
	"strconv"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/internal/risk"
	"fibo_bot/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	return id, err == nil && id > 0
}

// UserRequest registers a user or updates their tier and venue credentials.
type UserRequest struct {
	Tier       string `json:"tier"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	Passphrase string `json:"passphrase"`
}

// PutUser handles PUT /api/v1/users/{userID}
func (a *API) PutUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req UserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := a.store.GetUser(r.Context(), id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		writeErr(w, err)
		return
	}
	u.UserID = id
	if req.Tier != "" {
		u.Tier = models.ParseTier(req.Tier)
	} else if u.Tier == "" {
		u.Tier = models.TierBasic
	}
	if req.APIKey != "" {
		u.Credentials = models.Credentials{APIKey: req.APIKey, APISecret: req.APISecret, Passphrase: req.Passphrase}
	}
	if err := a.store.UpsertUser(r.Context(), u); err != nil {
		writeErr(w, err)
		return
	}
	a.engines.Trigger()
	writeJSON(w, http.StatusOK, u)
}

// ConfigResponse is the effective config next to the plan it was clamped to.
type ConfigResponse struct {
	Config models.UserBotConfig `json:"config"`
	Limits risk.PlanLimits      `json:"limits"`
	Error  string               `json:"error,omitempty"`
}

// GetConfig handles GET /api/v1/users/{userID}/config
func (a *API) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	u, err := a.store.GetUser(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	stored, err := a.store.GetConfig(r.Context(), id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		stored = risk.DefaultConfig(u.Tier)
		stored.UserID = id
	case err != nil:
		writeErr(w, err)
		return
	}
	// a downgraded tier shows its effective values without rewriting the row
	eff, _ := risk.Clamp(u.Tier, stored, stored.Targets)
	writeJSON(w, http.StatusOK, ConfigResponse{Config: eff, Limits: risk.LimitsFor(u.Tier)})
}

// PutConfig handles PUT /api/v1/users/{userID}/config
//
// The merged config is clamped and stored. A target list that does not sum
// to 100 keeps the last good targets, is stored with them, and answers 422.
func (a *API) PutConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var patch models.ConfigPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	u, err := a.store.GetUser(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	// the merge runs inside the store update so two patches of different
	// fields cannot overwrite each other
	var rejected *risk.ConfigRejectedError
	eff, err := a.store.UpdateConfig(ctx, id, func(stored models.UserBotConfig, found bool) (models.UserBotConfig, error) {
		rejected = nil
		if !found {
			stored = risk.DefaultConfig(u.Tier)
		}
		req := patch.Apply(stored)
		req.UserID = id
		eff, clampErr := risk.Clamp(u.Tier, req, stored.Targets)
		if clampErr != nil && !errors.As(clampErr, &rejected) {
			return models.UserBotConfig{}, clampErr
		}
		eff.UpdatedAt = a.now().UTC().Truncate(time.Microsecond)
		return eff, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	a.engines.Trigger()

	resp := ConfigResponse{Config: eff, Limits: risk.LimitsFor(u.Tier)}
	if rejected != nil {
		logger.Warn("[API] user=%d %v", id, rejected)
		resp.Error = rejected.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetStatus handles GET /api/v1/users/{userID}/status
func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	st, err := a.store.GetStatus(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// livePositions prefers the running session's book and falls back to the
// store when the user is stopped.
func (a *API) livePositions(r *http.Request, id int64) ([]models.Position, error) {
	if ps, err := a.engines.Positions(id); err == nil {
		out := make([]models.Position, 0, len(ps))
		for _, p := range ps {
			out = append(out, *p)
		}
		return out, nil
	}
	return a.store.ListPositions(r.Context(), id, true)
}

// GetPositions handles GET /api/v1/users/{userID}/positions
func (a *API) GetPositions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ps, err := a.livePositions(r, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetOverview handles GET /api/v1/users/{userID}/overview
func (a *API) GetOverview(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ctx := r.Context()
	u, err := a.store.GetUser(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}

	ov := models.Overview{
		Trades:           []models.TradeRecord{},
		OpenPositions:    []models.Position{},
		PendingPositions: []models.Position{},
	}
	if u.WalletLinked() && a.balance != nil {
		if ov.Balance, err = a.balance(ctx, u.Credentials); err != nil {
			logger.Warn("[API] user=%d balance: %v", id, err)
		}
	}
	trades, err := a.store.ListTrades(ctx, id, 50)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades != nil {
		ov.Trades = trades
	}
	ps, err := a.livePositions(r, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, p := range ps {
		if p.State == models.StatePendingEntry1 {
			ov.PendingPositions = append(ov.PendingPositions, p)
		} else {
			ov.OpenPositions = append(ov.OpenPositions, p)
		}
	}
	writeJSON(w, http.StatusOK, ov)
}

// CloseRequest is the body of a manual close.
type CloseRequest struct {
	Pct float64 `json:"pct"`
}

// ClosePosition handles POST /api/v1/users/{userID}/positions/{symbol}/close
func (a *API) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req CloseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Pct < 1 || req.Pct > 100 {
		writeError(w, http.StatusBadRequest, "pct must be within 1..100")
		return
	}
	symbol := chi.URLParam(r, "symbol")
	if err := a.engines.ClosePosition(r.Context(), id, symbol, req.Pct); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "pct": req.Pct, "status": "closed"})
}
