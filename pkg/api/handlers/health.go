// Package handlers implements the HTTP handlers of the status API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/marmos91/dicomgw/pkg/gateway"
)

// Gateway is the part of the engine the API reads from.
type Gateway interface {
	Snapshot(ctx context.Context) (gateway.Snapshot, error)
	Ready(ctx context.Context) error
}

// readyTimeout bounds backend checks made by the readiness probe.
const readyTimeout = 5 * time.Second

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	gw Gateway
}

// NewHealthHandler creates a health handler. gw may be nil, in which case
// the readiness probe always fails.
func NewHealthHandler(gw Gateway) *HealthHandler {
	return &HealthHandler{gw: gw}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dicomgw",
	}))
}

// Readiness handles GET /health/ready. It returns 503 until the engine is
// running and its blob store and ledger respond.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("gateway not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	start := time.Now()
	if err := h.gw.Ready(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	snap, err := h.gw.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"edge_id":        snap.EdgeID,
		"datastore":      snap.Datastore,
		"storage":        snap.Storage.Pressure,
		"uptime":         time.Since(snap.StartedAt).Round(time.Second).String(),
		"check_duration": time.Since(start).String(),
	}))
}
