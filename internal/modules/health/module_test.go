package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fibo_bot/internal/modules/health/service"
)

func TestReadyz(t *testing.T) {
	state := service.NewState()
	h := NewRouter(state)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("cold readyz = %d", rec.Code)
	}
	state.SetWSConnected(true)
	if rec := get("/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first reconcile = %d", rec.Code)
	}
	state.Reconciled(time.Now(), 3)
	if rec := get("/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz = %d", rec.Code)
	}

	rec := get("/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"runningInstances":3`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}
