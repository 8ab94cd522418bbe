package handlers

import (
	"encoding/json"
	"net/http"

	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/middleware"
	"stepDuelAPI/services"
)

type RivalryHandler struct {
	rivalryService *services.RivalryService
}

func NewRivalryHandler(rivalryService *services.RivalryService) *RivalryHandler {
	return &RivalryHandler{
		rivalryService: rivalryService,
	}
}

// QuickMatch finds a compatible open lobby or creates one. Defaults mirror
// the mobile client: 6000 steps over 24 hours.
func (h *RivalryHandler) QuickMatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	req := challenge.QuickMatchRequest{
		ChallengeType: challenge.TypeSteps,
		TargetValue:   6000,
		DurationHours: 24,
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	match, err := h.rivalryService.FindOrCreateQuickMatch(ctx, userID, req.ChallengeType, req.TargetValue, req.DurationHours)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, match)
}

func (h *RivalryHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req challenge.CreateChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OpponentID == "" {
		respondWithError(w, http.StatusBadRequest, "opponent_id is required")
		return
	}

	created, err := h.rivalryService.CreateChallenge(ctx, userID, req.OpponentID, req.ChallengeType, req.TargetValue, req.DurationHours)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *RivalryHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	id, err := challengeIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	c, err := h.rivalryService.GetChallengeByID(ctx, id)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, c)
}

func (h *RivalryHandler) Surrender(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id, err := challengeIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	finished, err := h.rivalryService.SurrenderChallenge(ctx, id, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, finished)
}

func (h *RivalryHandler) Decline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id, err := challengeIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	if err := h.rivalryService.DeclineChallenge(ctx, id, userID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *RivalryHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id, err := challengeIDFromRequest(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid challenge id")
		return
	}

	var req challenge.UpdateProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Progress < 0 {
		respondWithError(w, http.StatusBadRequest, "Progress cannot be negative")
		return
	}

	if err := h.rivalryService.UpdateChallengeProgress(ctx, id, userID, req.Progress); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RivalryHandler) GetActiveChallenges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	challenges, err := h.rivalryService.GetActiveChallenges(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, challenges)
}

func (h *RivalryHandler) GetChallengeHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	history, err := h.rivalryService.GetChallengeHistory(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *RivalryHandler) GetOpenLobbies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	lobbies, err := h.rivalryService.GetOpenLobbies(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, lobbies)
}

