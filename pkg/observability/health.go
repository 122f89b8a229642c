package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthChecker probes the dependencies a running OLD needs: the database,
// the artifact store root on disk, and (optionally) Redis.
type HealthChecker struct {
	db        *sql.DB
	redis     *redis.Client
	storeRoot string
}

// NewHealthChecker creates a checker. redis may be nil; storeRoot empty
// skips the filesystem probe.
func NewHealthChecker(db *sql.DB, redis *redis.Client, storeRoot string) *HealthChecker {
	return &HealthChecker{db: db, redis: redis, storeRoot: storeRoot}
}

// HealthStatus is the readiness report.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the health of a single dependency.
type DependencyStatus struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness answers 200 whenever the process is up.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness probes every dependency; 503 when any hard dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check runs every probe. The database and store root are hard
// dependencies; Redis only degrades, since the parse cache falls back to
// its local tier.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      moduleVersion(),
		Dependencies: make(map[string]DependencyStatus),
	}
	degrade := func(name string, dep DependencyStatus, hard bool) {
		status.Dependencies[name] = dep
		switch {
		case dep.Status == StatusUnhealthy && hard:
			status.Status = StatusUnhealthy
		case dep.Status != StatusHealthy && status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}

	if h.db != nil {
		degrade("database", h.checkDatabase(ctx), true)
	}
	if h.storeRoot != "" {
		degrade("store_root", h.checkStoreRoot(), true)
	}
	if h.redis != nil {
		degrade("redis", h.checkRedis(ctx), false)
	}
	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy}

	if err := h.db.PingContext(ctx); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		dep.Latency = time.Since(start)
		return dep
	}
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = "query failed: " + err.Error()
	}
	dep.Latency = time.Since(start)

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}
	return dep
}

// checkStoreRoot verifies the artifact directory is still a writable
// mount; compiled FSTs and corpus files land there.
func (h *HealthChecker) checkStoreRoot() DependencyStatus {
	dep := DependencyStatus{Status: StatusHealthy}
	info, err := os.Stat(h.storeRoot)
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		return dep
	}
	if !info.IsDir() {
		dep.Status = StatusUnhealthy
		dep.Message = h.storeRoot + " is not a directory"
	}
	return dep
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	dep.Latency = time.Since(start)
	return dep
}

func moduleVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return ""
}

// RegisterHealthRoutes mounts the probes on the health mux.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
