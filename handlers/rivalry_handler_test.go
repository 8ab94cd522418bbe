package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"stepDuelAPI/internal/store"
	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/internal/types/profile"
	"stepDuelAPI/middleware"
	"stepDuelAPI/services"
)

// newTestRouter builds the /api/v1 rivalry surface against in-memory stores,
// with authentication replaced by a header-driven identity.
func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	challengeStore := store.NewMemoryChallengeStore()
	profiles := store.NewMemoryProfileLookup()
	profiles.Put(&profile.Profile{ID: "user_a", FullName: "Alice A"})
	profiles.Put(&profile.Profile{ID: "user_b", FullName: "Bob B"})

	rivalryService := services.NewRivalryService(challengeStore, profiles)
	leaderboardService := services.NewLeaderboardService(challengeStore, profiles, nil)

	rivalryHandler := NewRivalryHandler(rivalryService)
	leaderboardHandler := NewLeaderboardHandler(leaderboardService)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := r.Header.Get("X-Test-User"); userID != "" {
				r = r.WithContext(middleware.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	})

	api.HandleFunc("/rivalry/quick-match", rivalryHandler.QuickMatch).Methods("POST")
	api.HandleFunc("/rivalry/challenges", rivalryHandler.CreateChallenge).Methods("POST")
	api.HandleFunc("/rivalry/challenges/active", rivalryHandler.GetActiveChallenges).Methods("GET")
	api.HandleFunc("/rivalry/challenges/history", rivalryHandler.GetChallengeHistory).Methods("GET")
	api.HandleFunc("/rivalry/challenges/{id}", rivalryHandler.GetChallenge).Methods("GET")
	api.HandleFunc("/rivalry/challenges/{id}/surrender", rivalryHandler.Surrender).Methods("POST")
	api.HandleFunc("/rivalry/challenges/{id}/decline", rivalryHandler.Decline).Methods("POST")
	api.HandleFunc("/rivalry/challenges/{id}/progress", rivalryHandler.UpdateProgress).Methods("PUT")
	api.HandleFunc("/rivalry/lobbies", rivalryHandler.GetOpenLobbies).Methods("GET")
	api.HandleFunc("/rivalry/leaderboard", leaderboardHandler.GetLeaderboard).Methods("GET")
	api.HandleFunc("/rivalry/summary", leaderboardHandler.GetRivalrySummary).Methods("GET")

	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeChallenge(t *testing.T, rec *httptest.ResponseRecorder) *challenge.Challenge {
	t.Helper()
	var c challenge.Challenge
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode challenge: %v (body: %s)", err, rec.Body.String())
	}
	return &c
}

func TestQuickMatchEndpointPairsTwoUsers(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/rivalry/quick-match", "user_a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user_a quick match: status %d, body %s", rec.Code, rec.Body.String())
	}
	lobby := decodeChallenge(t, rec)
	if lobby.Status != challenge.StatusPending {
		t.Fatalf("expected pending lobby, got %q", lobby.Status)
	}

	rec = doJSON(t, router, "POST", "/api/v1/rivalry/quick-match", "user_b",
		challenge.QuickMatchRequest{ChallengeType: challenge.TypeSteps, TargetValue: 6000, DurationHours: 24})
	if rec.Code != http.StatusOK {
		t.Fatalf("user_b quick match: status %d, body %s", rec.Code, rec.Body.String())
	}
	duel := decodeChallenge(t, rec)
	if duel.ID != lobby.ID || duel.Status != challenge.StatusActive {
		t.Fatalf("expected user_b to join lobby %s, got %s (%s)", lobby.ID, duel.ID, duel.Status)
	}

	// Both participants now see the duel in their active lists.
	for _, userID := range []string{"user_a", "user_b"} {
		rec = doJSON(t, router, "GET", "/api/v1/rivalry/challenges/active", userID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("active list for %s: status %d", userID, rec.Code)
		}
		var active []*challenge.Challenge
		if err := json.Unmarshal(rec.Body.Bytes(), &active); err != nil {
			t.Fatalf("decode active list: %v", err)
		}
		if len(active) != 1 || active[0].ID != duel.ID {
			t.Fatalf("active list for %s = %v, want [%s]", userID, active, duel.ID)
		}
	}
}

func TestQuickMatchEndpointRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/rivalry/quick-match", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestSurrenderEndpointLifecycle(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/rivalry/challenges", "user_a",
		challenge.CreateChallengeRequest{
			OpponentID:    "user_b",
			ChallengeType: challenge.TypeSteps,
			TargetValue:   6000,
			DurationHours: 24,
		})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create challenge: status %d, body %s", rec.Code, rec.Body.String())
	}
	duel := decodeChallenge(t, rec)

	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/rivalry/challenges/%s/surrender", duel.ID), "user_a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("surrender: status %d, body %s", rec.Code, rec.Body.String())
	}
	finished := decodeChallenge(t, rec)
	if finished.WinnerID == nil || *finished.WinnerID != "user_b" {
		t.Fatalf("expected winner user_b, got %v", finished.WinnerID)
	}

	// The duel is terminal; a second surrender finds nothing to finish.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/api/v1/rivalry/challenges/%s/surrender", duel.ID), "user_b", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second surrender: expected 404, got %d", rec.Code)
	}
}

func TestSurrenderEndpointUnknownChallenge(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", fmt.Sprintf("/api/v1/rivalry/challenges/%s/surrender", uuid.New()), "user_a", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "POST", "/api/v1/rivalry/challenges/not-a-uuid/surrender", "user_a", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestUpdateProgressEndpointRejectsNegative(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "POST", "/api/v1/rivalry/challenges", "user_a",
		challenge.CreateChallengeRequest{
			OpponentID:    "user_b",
			ChallengeType: challenge.TypeSteps,
			TargetValue:   6000,
			DurationHours: 24,
		})
	duel := decodeChallenge(t, rec)

	rec = doJSON(t, router, "PUT", fmt.Sprintf("/api/v1/rivalry/challenges/%s/progress", duel.ID), "user_a",
		challenge.UpdateProgressRequest{Progress: -5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative progress, got %d", rec.Code)
	}

	rec = doJSON(t, router, "PUT", fmt.Sprintf("/api/v1/rivalry/challenges/%s/progress", duel.ID), "user_a",
		challenge.UpdateProgressRequest{Progress: 1234})
	if rec.Code != http.StatusOK {
		t.Fatalf("progress update: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, "GET", fmt.Sprintf("/api/v1/rivalry/challenges/%s", duel.ID), "user_a", nil)
	stored := decodeChallenge(t, rec)
	if stored.ChallengerProgress != 1234 {
		t.Fatalf("stored progress = %d, want 1234", stored.ChallengerProgress)
	}
}

func TestLeaderboardEndpointValidatesPeriod(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/api/v1/rivalry/leaderboard?period=yearly", "user_a", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown period, got %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/api/v1/rivalry/leaderboard", "user_a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("default period: status %d, body %s", rec.Code, rec.Body.String())
	}
	var entries []*leaderboard.RivalrySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected an empty board, got %d entries", len(entries))
	}
}

func TestSummaryEndpointZeroedForNewcomer(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/api/v1/rivalry/summary?period=monthly", "user_a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: status %d, body %s", rec.Code, rec.Body.String())
	}
	var summary leaderboard.RivalrySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.UserID != "user_a" || summary.MatchesPlayed != 0 {
		t.Fatalf("expected a zeroed summary for user_a, got %+v", summary)
	}
}
