package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/store"
)

func newTestServer(apiKeys []string) (*Server, *store.Store) {
	cfg := &config.Config{
		DefaultModel:   "test-model",
		ManagementPort: 0,
		APIKeys:        apiKeys,
	}
	st := store.New(cfg.DefaultModel, time.Hour, 100)
	return NewServer(cfg, st), st
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(nil)

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}

func TestStats(t *testing.T) {
	s, st := newTestServer(nil)
	st.GetOrCreate(1)
	st.GetOrCreate(2)

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, int64(2), gjson.Get(body, "conversations").Int())
	assert.Equal(t, "test-model", gjson.Get(body, "default_model").String())
}

func TestStats_RequiresAPIKey(t *testing.T) {
	s, _ := newTestServer([]string{"secret"})

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v0/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v0/stats", nil)
	req.Header.Set("X-Api-Key", "secret")
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// /health stays open for probes.
	rec = httptest.NewRecorder()
	s.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
