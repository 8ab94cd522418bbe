package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/types/challenge"
)

func pendingLobby(t *testing.T, m *MemoryChallengeStore, challengerID string, createdAgo time.Duration) *challenge.Challenge {
	t.Helper()
	c, err := m.Insert(context.Background(), &challenge.Challenge{
		ChallengerID:  challengerID,
		ChallengeType: challenge.TypeSteps,
		TargetValue:   6000,
		DurationHours: 24,
		Status:        challenge.StatusPending,
		StartTime:     time.Now().Add(-createdAgo),
	})
	if err != nil {
		t.Fatalf("insert lobby: %v", err)
	}
	return c
}

func TestFindOpenLobbyPrefersOldest(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	pendingLobby(t, m, "user_a", 1*time.Minute)
	oldest := pendingLobby(t, m, "user_b", 10*time.Minute)
	pendingLobby(t, m, "user_c", 5*time.Minute)

	found, err := m.FindOpenLobby(ctx, "user_z", challenge.TypeSteps, time.Now().Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("FindOpenLobby: %v", err)
	}
	if found.ID != oldest.ID {
		t.Fatalf("expected oldest lobby %s, got %s", oldest.ID, found.ID)
	}
}

func TestFindOpenLobbyExcludesOwnAndStale(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	pendingLobby(t, m, "user_a", time.Minute)       // own
	pendingLobby(t, m, "user_b", 20*time.Minute)    // stale
	cutoff := time.Now().Add(-15 * time.Minute)

	if _, err := m.FindOpenLobby(ctx, "user_a", challenge.TypeSteps, cutoff); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinLobbyIsCompareAndSwap(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	lobby := pendingLobby(t, m, "user_a", time.Minute)
	start := time.Now().Add(2 * time.Second)
	patch := JoinPatch{OpponentID: "user_b", StartTime: start, EndTime: start.Add(24 * time.Hour)}

	joined, err := m.JoinLobby(ctx, lobby.ID, patch)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if joined.Status != challenge.StatusActive || joined.OpponentID == nil || *joined.OpponentID != "user_b" {
		t.Fatalf("join result %+v", joined)
	}

	patch.OpponentID = "user_c"
	if _, err := m.JoinLobby(ctx, lobby.ID, patch); !errors.Is(err, ErrConflict) {
		t.Fatalf("second join: expected ErrConflict, got %v", err)
	}

	if _, err := m.JoinLobby(ctx, uuid.New(), patch); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join of unknown id: expected ErrNotFound, got %v", err)
	}
}

func TestFinishFromActiveOnlyOnce(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	lobby := pendingLobby(t, m, "user_a", time.Minute)
	start := time.Now()
	if _, err := m.JoinLobby(ctx, lobby.ID, JoinPatch{OpponentID: "user_b", StartTime: start, EndTime: start.Add(time.Hour)}); err != nil {
		t.Fatalf("join: %v", err)
	}

	winner := "user_b"
	finished, err := m.FinishFromActive(ctx, lobby.ID, &winner, time.Now())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != challenge.StatusFinished || finished.WinnerID == nil || *finished.WinnerID != "user_b" {
		t.Fatalf("finish result %+v", finished)
	}

	if _, err := m.FinishFromActive(ctx, lobby.ID, &winner, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double finish: expected ErrNotFound, got %v", err)
	}
}

func TestDeclinePendingGuardsStatus(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	lobby := pendingLobby(t, m, "user_a", time.Minute)
	if err := m.DeclinePending(ctx, lobby.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if err := m.DeclinePending(ctx, lobby.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("declining a declined challenge: expected ErrNotFound, got %v", err)
	}

	active := pendingLobby(t, m, "user_b", time.Minute)
	start := time.Now()
	if _, err := m.JoinLobby(ctx, active.ID, JoinPatch{OpponentID: "user_c", StartTime: start, EndTime: start.Add(time.Hour)}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := m.DeclinePending(ctx, active.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("declining an active duel: expected ErrNotFound, got %v", err)
	}
}

func TestSetProgressWritesOwnColumn(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	lobby := pendingLobby(t, m, "user_a", time.Minute)
	start := time.Now()
	if _, err := m.JoinLobby(ctx, lobby.ID, JoinPatch{OpponentID: "user_b", StartTime: start, EndTime: start.Add(time.Hour)}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := m.SetProgress(ctx, lobby.ID, challenge.RoleChallenger, 100); err != nil {
		t.Fatalf("challenger progress: %v", err)
	}
	if err := m.SetProgress(ctx, lobby.ID, challenge.RoleOpponent, 200); err != nil {
		t.Fatalf("opponent progress: %v", err)
	}
	if err := m.SetProgress(ctx, lobby.ID, challenge.RoleNone, 300); err == nil {
		t.Fatalf("expected error for a role-less progress write")
	}

	c, err := m.Get(ctx, lobby.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ChallengerProgress != 100 || c.OpponentProgress != 200 {
		t.Fatalf("progress = (%d, %d), want (100, 200)", c.ChallengerProgress, c.OpponentProgress)
	}
}

func TestLatestActiveEndSpansBothRoles(t *testing.T) {
	m := NewMemoryChallengeStore()
	ctx := context.Background()

	if end, err := m.LatestActiveEnd(ctx, "user_a"); err != nil || end != nil {
		t.Fatalf("idle user: end=%v err=%v, want nil/nil", end, err)
	}

	near := time.Now().Add(time.Hour)
	far := time.Now().Add(3 * time.Hour)
	opponent := "user_a"
	for _, end := range []time.Time{near, far} {
		e := end
		_, err := m.Insert(ctx, &challenge.Challenge{
			ChallengerID:  "user_x",
			OpponentID:    &opponent,
			ChallengeType: challenge.TypeSteps,
			TargetValue:   6000,
			DurationHours: 1,
			Status:        challenge.StatusActive,
			StartTime:     time.Now(),
			EndTime:       &e,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	latest, err := m.LatestActiveEnd(ctx, "user_a")
	if err != nil {
		t.Fatalf("LatestActiveEnd: %v", err)
	}
	if latest == nil || !latest.Equal(far) {
		t.Fatalf("latest = %v, want %v", latest, far)
	}
}
