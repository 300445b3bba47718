package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	checks    map[string]CheckFunc
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler reporting mode and running checks
// on every request.
func NewHealthHandler(mode string, startedAt time.Time, checks map[string]CheckFunc, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: startedAt,
		checks:    checks,
		logger:    logHandler(logger, "health"),
	}
}

// HealthCheck responds 200 when every dependency check passes and 503 with
// the failing checks otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			h.logger.Warn("health check failed", slog.String("check", name), slog.String("error", err.Error()))
			continue
		}
		results[name] = "ok"
	}

	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"checks":         results,
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
