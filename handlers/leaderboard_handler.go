package handlers

import (
	"net/http"

	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/middleware"
	"stepDuelAPI/services"
)

type LeaderboardHandler struct {
	leaderboardService *services.LeaderboardService
}

func NewLeaderboardHandler(leaderboardService *services.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{
		leaderboardService: leaderboardService,
	}
}

func periodFromQuery(r *http.Request) leaderboard.Period {
	period := leaderboard.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = leaderboard.PeriodWeekly
	}
	return period
}

func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	period := periodFromQuery(r)
	if !period.Valid() {
		respondWithError(w, http.StatusBadRequest, "period must be 'weekly' or 'monthly'")
		return
	}

	entries, err := h.leaderboardService.GetLeaderboard(ctx, period)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) GetRivalrySummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	period := periodFromQuery(r)
	if !period.Valid() {
		respondWithError(w, http.StatusBadRequest, "period must be 'weekly' or 'monthly'")
		return
	}

	summary, err := h.leaderboardService.GetRivalrySummary(ctx, userID, period)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}
