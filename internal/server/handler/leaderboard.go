package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/whaletrack/internal/domain"
)

// LeaderboardHandler serves ranked trader profiles.
type LeaderboardHandler struct {
	profiles domain.TraderProfileStore
	logger   *slog.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(profiles domain.TraderProfileStore, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{profiles: profiles, logger: logHandler(logger, "leaderboard")}
}

// ListLeaderboard returns traders ranked by skill score.
// GET /api/leaderboard?limit=50
func (h *LeaderboardHandler) ListLeaderboard(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	profiles, err := h.profiles.Leaderboard(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "leaderboard query failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"traders": profiles,
		"count":   len(profiles),
	})
}

// GetTrader returns one trader's profile.
// GET /api/leaderboard/{id}
func (h *LeaderboardHandler) GetTrader(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing trader id")
		return
	}

	profile, err := h.profiles.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trader not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "trader query failed",
			slog.String("trader_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load trader")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
