package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check pings one dependency. Critical checks turn readiness into an error;
// the rest only degrade it.
type Check struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	env     string
	version string
}

func NewHealthHandler(checks []Check, env, version string) *HealthHandler {
	sorted := append([]Check(nil), checks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &HealthHandler{
		checks:  sorted,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	status := "ok"

	for _, c := range h.checks {
		checkCtx, checkCancel := context.WithTimeout(ctx, time.Second)
		err := c.Ping(checkCtx)
		checkCancel()

		if err == nil {
			deps[c.Name] = "ok"
			continue
		}
		deps[c.Name] = "down"
		switch {
		case c.Critical:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
