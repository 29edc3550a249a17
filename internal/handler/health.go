package handler

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/helpinghands/auth-service/internal/client"
)

var startTime = time.Now()

// HealthHandler reports liveness and dependency health against the
// already-open connections; it never dials new ones.
type HealthHandler struct {
	env     string
	version string
	db      *sql.DB
	redis   *client.RedisClient
}

func NewHealthHandler(env, version string, db *sql.DB, redis *client.RedisClient) *HealthHandler {
	return &HealthHandler{env: env, version: version, db: db, redis: redis}
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// ServeHTTP handles /health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult)
	overall := "healthy"

	if h.db != nil {
		checks["database"] = h.check(func() error { return h.db.PingContext(r.Context()) })
	}
	if h.redis != nil {
		checks["redis"] = h.check(func() error { return h.redis.HealthCheck(r.Context()) })
	}
	for _, c := range checks {
		if c.Status != "healthy" {
			overall = "degraded"
		}
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":      overall,
		"environment": h.env,
		"version":     h.version,
		"uptime":      time.Since(startTime).String(),
		"checks":      checks,
		"timestamp":   time.Now().UTC(),
	})
}

// Readiness handles /ready. The service is ready on memory alone; the
// durable layers are acceleration, not prerequisites.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ready")
}

func (h *HealthHandler) check(fn func() error) checkResult {
	start := time.Now()
	err := fn()
	res := checkResult{Status: "healthy", Latency: time.Since(start).String()}
	if err != nil {
		res.Status = "unhealthy"
		res.Error = err.Error()
	}
	return res
}
