package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"idle-cache/internal/access"
	"idle-cache/internal/health"
	"idle-cache/internal/logs"
	"idle-cache/internal/metrics"
	"idle-cache/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const defaultLogLimit = 100

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	now      access.Now
	metrics  *metrics.Registry
	logger   *logs.Logger
	log      zerolog.Logger
	analyzer *health.Analyzer
	prom     http.Handler

	lastVersion atomic.Int64
}

// NewHandler creates a new API handler. now must be the clock the store
// uses, so TTLs and idle times agree.
func NewHandler(
	st *store.Store,
	now access.Now,
	reg *metrics.Registry,
	logger *logs.Logger,
) *Handler {
	return &Handler{
		store:    st,
		now:      now,
		metrics:  reg,
		logger:   logger,
		log:      logger.WithComponent("api"),
		analyzer: health.NewAnalyzer(reg, logger),
		prom:     promhttp.HandlerFor(metrics.NewPrometheusRegistry(reg), promhttp.HandlerOpts{}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

/* ---------------- PUT /kv/{key} ---------------- */

type setRequest struct {
	Value string `json:"value"`
	TTLms int64  `json:"ttl_ms,omitempty"`
}

func (h *Handler) SetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "missing key in URL", http.StatusBadRequest)
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.TTLms < 0 {
		http.Error(w, "ttl_ms must not be negative", http.StatusBadRequest)
		return
	}

	now := h.now.Now()
	entry := store.Entry{
		Value:   req.Value,
		Version: h.nextVersion(now),
	}
	if req.TTLms > 0 {
		entry.ExpiresAt = now.Add(time.Duration(req.TTLms) * time.Millisecond)
	}

	err := h.store.Set(key, entry)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNoCapacity):
		h.log.Warn().Str("key", key).Msg("set rejected: no capacity")
		http.Error(w, "cache full", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrEmptyKey):
		http.Error(w, "missing key in URL", http.StatusBadRequest)
	default:
		h.log.Error().Err(err).Str("key", key).Msg("set failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// nextVersion returns a write version based on now that is strictly greater
// than every version handed out before, so a clock stepping backwards cannot
// make a later PUT lose to an earlier one.
func (h *Handler) nextVersion(now time.Time) int64 {
	for {
		last := h.lastVersion.Load()
		v := now.UnixNano()
		if v <= last {
			v = last + 1
		}
		if h.lastVersion.CompareAndSwap(last, v) {
			return v
		}
	}
}

/* ---------------- GET /kv/{key} ---------------- */

type getResponse struct {
	Value  string `json:"value"`
	IdleMS int64  `json:"idle_ms"`
}

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	entry, idle, err := h.store.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("get failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, getResponse{
		Value:  entry.Value,
		IdleMS: idle.Milliseconds(),
	})
}

/* ---------------- DELETE /kv/{key} ---------------- */

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	h.store.Delete(key)
	w.WriteHeader(http.StatusNoContent)
}

// MissingKey answers /kv/ requests that carry no key.
func (h *Handler) MissingKey(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "missing key in URL", http.StatusBadRequest)
}

/* ---------------- GET /admin/keys ---------------- */

type keyView struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	LastAccess time.Time `json:"last_access"`
	IdleMS     int64     `json:"idle_ms"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	now := h.now.Now()
	items := h.store.List()

	resp := make([]keyView, 0, len(items))
	for _, it := range items {
		resp = append(resp, keyView{
			Key:        it.Key,
			Value:      it.Entry.Value,
			LastAccess: it.LastAccess,
			IdleMS:     now.Sub(it.LastAccess).Milliseconds(),
			ExpiresAt:  it.Entry.ExpiresAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

/* ---------------- GET /admin/logs ---------------- */

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}

	writeJSON(w, http.StatusOK, h.logger.GetLast(n))
}

/* ---------------- GET /metrics ---------------- */

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

/* ---------------- GET /metrics/prometheus ---------------- */

func (h *Handler) GetPrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	h.prom.ServeHTTP(w, r)
}

/* ---------------- GET /health ---------------- */

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.analyzer.Analyze())
}
