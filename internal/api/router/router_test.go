package router

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuongbtq/ms-media-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logs := &bytes.Buffer{}
	deps := &handler.Dependencies{
		Logger:  slog.New(slog.NewJSONHandler(logs, nil)),
		Service: "ms-media-worker",
	}
	return SetupRouter(deps), logs
}

func TestSetupRouter_Probes(t *testing.T) {
	r, _ := setup(t)

	for _, path := range []string{"/health", "/healthz"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "ok", w.Body.String())
		})
	}

	t.Run("/status before the worker exists", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"workerState":"disabled"`)
		assert.Contains(t, w.Body.String(), `"ledger":"disabled"`)
	})
}

func TestSetupRouter_LedgerRoutesWithoutLedger(t *testing.T) {
	r, _ := setup(t)

	for _, path := range []string{"/api/v1/jobs", "/api/v1/jobs/job-1"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		r, logs := setup(t)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		id := w.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Contains(t, logs.String(), id)
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		r, logs := setup(t)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
		assert.Contains(t, logs.String(), `"request_id":"req-123"`)
		assert.Contains(t, logs.String(), `"path":"/health"`)
	})
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	r, _ := setup(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/test-job", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
