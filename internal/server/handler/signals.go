package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// SignalHandler serves signal listings.
type SignalHandler struct {
	signals domain.SignalStore
	logger  *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(signals domain.SignalStore, logger *slog.Logger) *SignalHandler {
	return &SignalHandler{signals: signals, logger: logHandler(logger, "signals")}
}

// ListActive returns every currently active signal.
// GET /api/signals
func (h *SignalHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	sigs, err := h.signals.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "signal query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load signals")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": sigs,
		"count":   len(sigs),
	})
}

// ListByMarket returns a market's signal history, retired rows included.
// GET /api/signals/market/{id}
func (h *SignalHandler) ListByMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	sigs, err := h.signals.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "signal history query failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load signal history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"signals": sigs,
		"count":   len(sigs),
	})
}
