package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dicomgw/internal/logger"
)

// StatusHandler serves engine snapshots.
type StatusHandler struct {
	gw Gateway
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(gw Gateway) *StatusHandler {
	return &StatusHandler{gw: gw}
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("gateway not initialized"))
		return
	}
	snap, err := h.gw.Snapshot(r.Context())
	if err != nil {
		// Worker and storage fields are still valid without state counts.
		logger.Warn("Snapshot without state counts", logger.Err(err))
	}
	writeJSON(w, http.StatusOK, okResponse(snap))
}

// WorkersResponse lists the state of every pool.
type WorkersResponse struct {
	Upload any `json:"upload"`
	Fetch  any `json:"fetch"`
	Send   any `json:"send"`
}

// Workers handles GET /api/v1/workers and GET /api/v1/workers/{pool}.
func (h *StatusHandler) Workers(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("gateway not initialized"))
		return
	}
	snap, _ := h.gw.Snapshot(r.Context())

	switch pool := chi.URLParam(r, "pool"); pool {
	case "":
		writeJSON(w, http.StatusOK, okResponse(WorkersResponse{
			Upload: snap.Upload,
			Fetch:  snap.Fetch,
			Send:   snap.Send,
		}))
	case "upload":
		writeJSON(w, http.StatusOK, okResponse(snap.Upload))
	case "fetch":
		writeJSON(w, http.StatusOK, okResponse(snap.Fetch))
	case "send":
		writeJSON(w, http.StatusOK, okResponse(snap.Send))
	default:
		NotFound(w, "unknown worker pool "+pool)
	}
}
