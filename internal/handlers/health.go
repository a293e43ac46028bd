package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/mwesox/menuvo-platform-sub005/internal/domain"
	"github.com/mwesox/menuvo-platform-sub005/internal/services"
)

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the system service used for readiness reports.
func WithHealthSystemService(system services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = system
	}
}

// WithHealthBuildInfo sets the build metadata included in liveness payloads.
func WithHealthBuildInfo(build services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthClock overrides the time source, primarily for testing.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health endpoint handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz reports process liveness without touching downstream dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()

	payload := map[string]any{
		"status":    domain.HealthStatusOK,
		"uptime":    now.Sub(h.build.StartedAt).String(),
		"timestamp": now.Format(time.RFC3339),
	}
	if v := strings.TrimSpace(h.build.Version); v != "" {
		payload["version"] = v
	}
	if v := strings.TrimSpace(h.build.CommitSHA); v != "" {
		payload["commitSha"] = v
	}
	if v := strings.TrimSpace(h.build.Environment); v != "" {
		payload["environment"] = v
	}

	writeHealthJSON(w, http.StatusOK, payload)
}

// Readyz probes downstream dependencies and reports 503 when any is unhealthy.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeHealthJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  domain.HealthStatusError,
			"details": []string{err.Error()},
		})
		return
	}

	checks := make(map[string]map[string]any, len(report.Checks))
	details := make([]string, 0)
	for name, check := range report.Checks {
		entry := map[string]any{
			"status": check.Status,
		}
		if check.Latency > 0 {
			entry["latency"] = check.Latency.String()
		}
		if check.Error != "" {
			entry["error"] = check.Error
			details = append(details, name+": "+check.Error)
		}
		checks[name] = entry
	}
	sort.Strings(details)

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}

	payload := map[string]any{
		"status":  report.Status,
		"checks":  checks,
		"details": details,
	}
	if report.Version != "" {
		payload["version"] = report.Version
	}
	if report.Uptime > 0 {
		payload["uptime"] = report.Uptime.String()
	}

	writeHealthJSON(w, status, payload)
}

func writeHealthJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
