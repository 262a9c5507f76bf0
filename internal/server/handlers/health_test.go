package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/rollcall/pkg/api"
)

func TestHealthHandler(t *testing.T) {
	logger := setupTestLogger()

	w := httptest.NewRecorder()
	NewHealthHandler(logger, nil, "v1.2.3").Health(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[api.HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)

	w = httptest.NewRecorder()
	NewHealthHandler(logger, failingPinger{}, "v1.2.3").Health(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decode[api.HealthResponse](t, w).Status)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return io.ErrUnexpectedEOF }
