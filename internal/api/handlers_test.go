package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"idle-cache/internal/logs"
	"idle-cache/internal/metrics"
	"idle-cache/internal/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *httptest.Server
	clock  *clockwork.FakeClock
	reg    *metrics.Registry
	logger *logs.Logger
}

func setUpTestServer(t *testing.T, opts store.Options) *testEnv {
	t.Helper()

	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(50, logs.DEBUG)
	st := store.New(clk, reg, opts)

	h := NewHandler(st, clk, reg, logger)
	server := httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, clock: clk, reg: reg, logger: logger}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

/* ---------------- PUT /kv ---------------- */

func TestSetKey(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	t.Run("ValidRequest", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/kv/key1", `{"value":"hello"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("WithTTL", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/kv/ttl-key", `{"value":"expiring", "ttl_ms": 100}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		env.clock.Advance(200 * time.Millisecond)
		resp = env.do(t, http.MethodGet, "/kv/ttl-key", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("NegativeTTL", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/kv/key1", `{"value":"x","ttl_ms":-1}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("MissingKeyInPath", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/kv/", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/kv/key1", `{bad-json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSetKey_NoCapacity(t *testing.T) {
	env := setUpTestServer(t, store.Options{Capacity: 1, MaxIdle: time.Hour})

	resp := env.do(t, http.MethodPut, "/kv/a", `{"value":"1"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/kv/b", `{"value":"2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var warned bool
	for _, e := range env.logger.GetLast(50) {
		if e.Level == logs.WARN && strings.Contains(e.Message, "no capacity") {
			warned = true
		}
	}
	assert.True(t, warned, "capacity rejection should be logged as a warning")

	// once a is idle long enough it makes room for b
	env.clock.Advance(2 * time.Hour)
	resp = env.do(t, http.MethodPut, "/kv/b", `{"value":"2"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// steppingClock can move backwards, like a wall clock corrected by NTP.
type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *steppingClock) step(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSetKey_LaterWriteWinsWhenClockStepsBack(t *testing.T) {
	clk := &steppingClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := metrics.NewRegistry()
	st := store.New(clk, reg, store.Options{})
	server := httptest.NewServer(NewRouter(NewHandler(st, clk, reg, logs.NewLogger(10, logs.DEBUG)), RouterOptions{}))
	t.Cleanup(server.Close)
	env := &testEnv{server: server, reg: reg}

	read := func() string {
		resp := env.do(t, http.MethodGet, "/kv/k", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body getResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Value
	}

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/kv/k", `{"value":"first"}`).StatusCode)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/kv/k", `{"value":"same-instant"}`).StatusCode)
	assert.Equal(t, "same-instant", read())

	clk.step(-time.Hour)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/kv/k", `{"value":"after-step"}`).StatusCode)
	assert.Equal(t, "after-step", read())
}

func TestNextVersion_StrictlyIncreasing(t *testing.T) {
	h := &Handler{}
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	v1 := h.nextVersion(t0)
	v2 := h.nextVersion(t0)
	v3 := h.nextVersion(t0.Add(-time.Minute))
	v4 := h.nextVersion(t0.Add(time.Minute))

	assert.Equal(t, t0.UnixNano(), v1)
	assert.Greater(t, v2, v1)
	assert.Greater(t, v3, v2)
	assert.Equal(t, t0.Add(time.Minute).UnixNano(), v4)
}

/* ---------------- GET /kv ---------------- */

func TestGetKey(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	env.do(t, http.MethodPut, "/kv/active-key", `{"value":"found-me"}`)

	t.Run("ValidKey", func(t *testing.T) {
		env.clock.Advance(1500 * time.Millisecond)

		resp := env.do(t, http.MethodGet, "/kv/active-key", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var res getResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, "found-me", res.Value)
		assert.Equal(t, int64(1500), res.IdleMS)
	})

	t.Run("IdleResetByAccess", func(t *testing.T) {
		env.clock.Advance(200 * time.Millisecond)

		resp := env.do(t, http.MethodGet, "/kv/active-key", "")
		var res getResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, int64(200), res.IdleMS)
	})

	t.Run("KeyNotFound", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/kv/missing-key", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("EmptyKeyInPath", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/kv/", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

/* ---------------- DELETE /kv ---------------- */

func TestDeleteKey(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	t.Run("SuccessfulDelete", func(t *testing.T) {
		env.do(t, http.MethodPut, "/kv/to-delete", `{"value":"x"}`)

		resp := env.do(t, http.MethodDelete, "/kv/to-delete", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = env.do(t, http.MethodGet, "/kv/to-delete", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("EmptyKeyInPath", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/kv/", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

/* ---------------- GET /admin/keys ---------------- */

func TestListKeys(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	t.Run("EmptyStore", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/admin/keys", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var data []keyView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		assert.Len(t, data, 0)
	})

	t.Run("WithData", func(t *testing.T) {
		env.do(t, http.MethodPut, "/kv/a", `{"value":"1"}`)
		env.clock.Advance(3 * time.Second)

		resp := env.do(t, http.MethodGet, "/admin/keys", "")

		var data []keyView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
		require.Len(t, data, 1)
		assert.Equal(t, "a", data[0].Key)
		assert.Equal(t, "1", data[0].Value)
		assert.Equal(t, int64(3000), data[0].IdleMS)
	})
}

/* ---------------- GET /admin/logs ---------------- */

func TestGetLogs(t *testing.T) {
	env := setUpTestServer(t, store.Options{})
	env.logger.Info().Msg("one")
	env.logger.Info().Msg("two")

	t.Run("Limit", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/admin/logs?n=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var entries []logs.Entry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "two", entries[0].Message)
	})

	t.Run("BadLimit", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/admin/logs?n=lots", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

/* ---------------- GET /metrics ---------------- */

func TestGetMetrics(t *testing.T) {
	env := setUpTestServer(t, store.Options{})
	env.do(t, http.MethodPut, "/kv/a", `{"value":"1"}`)

	resp := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var data map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	assert.Equal(t, int64(1), data[string(metrics.CacheSetsTotal)])
}

func TestGetPrometheusMetrics(t *testing.T) {
	env := setUpTestServer(t, store.Options{})
	env.do(t, http.MethodPut, "/kv/a", `{"value":"1"}`)

	resp := env.do(t, http.MethodGet, "/metrics/prometheus", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "idlecache_cache_sets_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

/* ---------------- GET /health ---------------- */

func TestGetHealth(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))

	assert.Contains(t, report, "overall_status")
	assert.Contains(t, report, "summary")
	assert.Contains(t, report, "signals")
	assert.Contains(t, report, "recommendations")
}

/* ---------------- Route validation ---------------- */

func TestRouteValidation(t *testing.T) {
	env := setUpTestServer(t, store.Options{})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/kv/key1", "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("UnknownRoute", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/nope", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
