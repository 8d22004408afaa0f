package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// SnapshotProvider exposes the scheduler's last consistent export.
type SnapshotProvider interface {
	Snapshot() (domain.Snapshot, bool)
	LastReport() domain.PassReport
}

// SnapshotHandler serves the read-only pipeline snapshot for dashboards.
type SnapshotHandler struct {
	provider SnapshotProvider
	logger   *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(provider SnapshotProvider, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{provider: provider, logger: logHandler(logger, "snapshot")}
}

// GetSnapshot returns the last fully consistent snapshot. Until the first
// export pass succeeds there is nothing coherent to show, so it responds
// 503 rather than a half-empty view.
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.provider.Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no snapshot exported yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetStatus returns the most recent export pass report, including
// per-component outcomes and the degraded flag.
// GET /api/status
func (h *SnapshotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.LastReport())
}
