package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is a connectivity probe. *store.Store and *kv.Client implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the health endpoints.
//
// Liveness answers as long as the process serves HTTP; readiness also
// requires the database and the KV cache to respond.
type HealthHandler struct {
	db    Pinger
	cache Pinger
}

// NewHealthHandler creates a health handler. Either probe may be nil, in
// which case readiness reports unavailable.
func NewHealthHandler(db, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Liveness handles GET /health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /health/ready. Returns 503 until both backing
// stores answer a ping.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.db == nil || h.db.Ping(ctx) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failing": "database"})
		return
	}
	if h.cache == nil || h.cache.Ping(ctx) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "failing": "cache"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
