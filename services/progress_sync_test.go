package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"stepDuelAPI/internal/store"
	"stepDuelAPI/internal/types/challenge"
)

// fakeOracle replays a scripted sequence of cumulative step totals.
type fakeOracle struct {
	mu        sync.Mutex
	totals    []int64
	idx       int
	available bool
	permitErr error
}

func (o *fakeOracle) IsAvailable(ctx context.Context) (bool, error) { return o.available, nil }
func (o *fakeOracle) RequestPermission(ctx context.Context) error   { return o.permitErr }

func (o *fakeOracle) CumulativeSteps(ctx context.Context, from, to time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.idx < len(o.totals)-1 {
		o.idx++
		return o.totals[o.idx-1], nil
	}
	return o.totals[len(o.totals)-1], nil
}

func activeStepsDuel(t *testing.T, challengeStore *store.MemoryChallengeStore) *challenge.Challenge {
	t.Helper()
	end := time.Now().Add(24 * time.Hour)
	opponent := "user_b"
	c, err := challengeStore.Insert(context.Background(), &challenge.Challenge{
		ChallengerID:  "user_a",
		OpponentID:    &opponent,
		ChallengeType: challenge.TypeSteps,
		TargetValue:   6000,
		DurationHours: 24,
		Status:        challenge.StatusActive,
		StartTime:     time.Now().Add(-time.Hour),
		EndTime:       &end,
	})
	if err != nil {
		t.Fatalf("insert duel: %v", err)
	}
	return c
}

func TestProgressSyncPushesMonotonically(t *testing.T) {
	svc, challengeStore, _ := newTestRivalryService()
	duel := activeStepsDuel(t, challengeStore)

	// The device briefly reports a lower total (80 after 100); that reading
	// must never reach the store.
	oracle := &fakeOracle{available: true, totals: []int64{100, 80, 120}}
	syncer := NewProgressSyncer(svc, oracle)
	syncer.SetInterval(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- syncer.Run(ctx, duel.ID, "user_a") }()

	deadline := time.After(time.Second)
	for {
		c, err := challengeStore.Get(context.Background(), duel.ID)
		if err != nil {
			t.Fatalf("get duel: %v", err)
		}
		if c.ChallengerProgress == 120 {
			break
		}
		if c.ChallengerProgress != 0 && c.ChallengerProgress != 100 {
			t.Fatalf("unexpected intermediate progress %d", c.ChallengerProgress)
		}
		select {
		case <-deadline:
			t.Fatalf("progress never reached 120, last seen %d", c.ChallengerProgress)
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Finishing the duel stops the loop cleanly.
	if _, err := svc.SurrenderChallenge(context.Background(), duel.ID, "user_a"); err != nil {
		t.Fatalf("surrender: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run should return nil after the duel finishes, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after the duel finished")
	}

	final, err := challengeStore.Get(context.Background(), duel.ID)
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.ChallengerProgress != 120 {
		t.Fatalf("final progress = %d, want 120", final.ChallengerProgress)
	}
}

func TestProgressSyncRejectsNonParticipants(t *testing.T) {
	svc, challengeStore, _ := newTestRivalryService()
	duel := activeStepsDuel(t, challengeStore)

	syncer := NewProgressSyncer(svc, &fakeOracle{available: true, totals: []int64{0}})
	err := syncer.Run(context.Background(), duel.ID, "user_z")
	if err == nil || !strings.Contains(err.Error(), "not a participant") {
		t.Fatalf("expected participant error, got %v", err)
	}
}

func TestProgressSyncRejectsNonStepDuels(t *testing.T) {
	svc, challengeStore, _ := newTestRivalryService()

	end := time.Now().Add(24 * time.Hour)
	opponent := "user_b"
	duel, err := challengeStore.Insert(context.Background(), &challenge.Challenge{
		ChallengerID:  "user_a",
		OpponentID:    &opponent,
		ChallengeType: challenge.TypeCalories,
		TargetValue:   500,
		DurationHours: 24,
		Status:        challenge.StatusActive,
		StartTime:     time.Now(),
		EndTime:       &end,
	})
	if err != nil {
		t.Fatalf("insert duel: %v", err)
	}

	syncer := NewProgressSyncer(svc, &fakeOracle{available: true, totals: []int64{0}})
	if err := syncer.Run(context.Background(), duel.ID, "user_a"); err == nil {
		t.Fatalf("expected type error for a calories duel")
	}
}

func TestProgressSyncRequiresOracle(t *testing.T) {
	svc, challengeStore, _ := newTestRivalryService()
	duel := activeStepsDuel(t, challengeStore)

	syncer := NewProgressSyncer(svc, &fakeOracle{available: false, totals: []int64{0}})
	if err := syncer.Run(context.Background(), duel.ID, "user_a"); err == nil {
		t.Fatalf("expected error when the step oracle is unavailable")
	}
}

func TestProgressSyncWaitsForScheduledStart(t *testing.T) {
	svc, challengeStore, _ := newTestRivalryService()

	start := time.Now().Add(50 * time.Millisecond)
	end := start.Add(24 * time.Hour)
	opponent := "user_b"
	duel, err := challengeStore.Insert(context.Background(), &challenge.Challenge{
		ChallengerID:  "user_a",
		OpponentID:    &opponent,
		ChallengeType: challenge.TypeSteps,
		TargetValue:   6000,
		DurationHours: 24,
		Status:        challenge.StatusActive,
		StartTime:     start,
		EndTime:       &end,
	})
	if err != nil {
		t.Fatalf("insert duel: %v", err)
	}

	oracle := &fakeOracle{available: true, totals: []int64{250}}
	syncer := NewProgressSyncer(svc, oracle)
	syncer.SetInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncer.Run(ctx, duel.ID, "user_a")

	// Nothing may be written before the scheduled start.
	time.Sleep(25 * time.Millisecond)
	c, err := challengeStore.Get(context.Background(), duel.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.ChallengerProgress != 0 {
		t.Fatalf("progress written before start: %d", c.ChallengerProgress)
	}

	deadline := time.After(time.Second)
	for {
		c, err := challengeStore.Get(context.Background(), duel.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if c.ChallengerProgress == 250 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("progress never arrived after start, last seen %d", c.ChallengerProgress)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
