package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/store"
	"stepDuelAPI/internal/types/challenge"
)

const (
	// Lobbies older than this are considered abandoned and never matched.
	lobbyRecencyWindow = 15 * time.Minute

	// Joined duels start this long after the latest conflicting end time so
	// neither participant is ever in two overlapping duels.
	scheduleBuffer = 2 * time.Second

	expirySweepBatch = 50
)

// DuelNotifier receives lifecycle events for push delivery. Implementations
// must not block matchmaking; failures are the notifier's problem.
type DuelNotifier interface {
	DuelStarted(ctx context.Context, c *challenge.Challenge)
	DuelFinished(ctx context.Context, c *challenge.Challenge)
}

type RivalryService struct {
	store    store.ChallengeStore
	profiles store.ProfileLookup
	notifier DuelNotifier
}

func NewRivalryService(challengeStore store.ChallengeStore, profiles store.ProfileLookup) *RivalryService {
	return &RivalryService{
		store:    challengeStore,
		profiles: profiles,
	}
}

// SetNotifier injects the push notifier from main.go, mirroring how the FCM
// provider reaches the dispatcher.
func (s *RivalryService) SetNotifier(notifier DuelNotifier) {
	s.notifier = notifier
}

// FindOrCreateQuickMatch pairs userID with any compatible open lobby, or
// opens a new one when no candidate survives the guards.
//
// At most one candidate is considered. When the duplicate-duel guard rejects
// it the engine falls through to lobby creation instead of searching again;
// two users who already duel each other end up with separate lobbies rather
// than a second duel.
func (s *RivalryService) FindOrCreateQuickMatch(ctx context.Context, userID string, challengeType challenge.Type, targetValue int64, durationHours int) (*challenge.Challenge, error) {
	if !challengeType.Valid() {
		return nil, fmt.Errorf("unknown challenge type %q", challengeType)
	}
	if targetValue <= 0 || durationHours <= 0 {
		return nil, fmt.Errorf("target value and duration must be positive")
	}

	candidate, err := s.store.FindOpenLobby(ctx, userID, challengeType, time.Now().Add(-lobbyRecencyWindow))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lobby search failed: %w", err)
	}

	if candidate != nil {
		dup, err := s.store.HasActiveDuelBetween(ctx, userID, candidate.ChallengerID)
		if err != nil {
			return nil, fmt.Errorf("duplicate duel check failed: %w", err)
		}
		if dup {
			log.Printf("QuickMatch: skipping lobby %s, active duel with %s already exists", candidate.ID, candidate.ChallengerID)
			candidate = nil
		}
	}

	if candidate != nil {
		joined, err := s.joinLobby(ctx, candidate, userID)
		if err != nil {
			return nil, err
		}
		quickMatchesTotal.WithLabelValues("joined").Inc()
		return joined, nil
	}

	created, err := s.createLobby(ctx, userID, challengeType, targetValue, durationHours)
	if err != nil {
		return nil, err
	}
	quickMatchesTotal.WithLabelValues("created").Inc()
	return created, nil
}

func (s *RivalryService) joinLobby(ctx context.Context, candidate *challenge.Challenge, userID string) (*challenge.Challenge, error) {
	startTime, err := s.scheduleStart(ctx, userID, candidate.ChallengerID)
	if err != nil {
		return nil, err
	}
	endTime := startTime.Add(time.Duration(candidate.DurationHours) * time.Hour)

	joined, err := s.store.JoinLobby(ctx, candidate.ID, store.JoinPatch{
		OpponentID: userID,
		StartTime:  startTime,
		EndTime:    endTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join lobby %s: %w", candidate.ID, err)
	}

	log.Printf("QuickMatch: %s joined lobby %s of %s, duel runs %s - %s",
		userID, joined.ID, joined.ChallengerID,
		startTime.Format(time.RFC3339), endTime.Format(time.RFC3339))

	if s.notifier != nil {
		s.notifier.DuelStarted(ctx, joined)
	}
	return s.decorate(ctx, joined)
}

// scheduleStart finds the earliest start that does not overlap any active
// duel of either participant.
func (s *RivalryService) scheduleStart(ctx context.Context, userID, opponentID string) (time.Time, error) {
	start := time.Now()

	myLatest, err := s.store.LatestActiveEnd(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve own schedule: %w", err)
	}
	theirLatest, err := s.store.LatestActiveEnd(ctx, opponentID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve opponent schedule: %w", err)
	}

	if myLatest != nil && myLatest.After(start) {
		start = *myLatest
	}
	if theirLatest != nil && theirLatest.After(start) {
		start = *theirLatest
	}
	return start.Add(scheduleBuffer), nil
}

func (s *RivalryService) createLobby(ctx context.Context, userID string, challengeType challenge.Type, targetValue int64, durationHours int) (*challenge.Challenge, error) {
	lobby := &challenge.Challenge{
		ChallengerID:  userID,
		ChallengeType: challengeType,
		TargetValue:   targetValue,
		DurationHours: durationHours,
		Status:        challenge.StatusPending,
		StartTime:     time.Now(),
	}

	created, err := s.store.Insert(ctx, lobby)
	if err != nil {
		return nil, fmt.Errorf("failed to create lobby: %w", err)
	}
	log.Printf("QuickMatch: no candidate for %s, opened lobby %s (%s)", userID, created.ID, challengeType)
	return s.decorate(ctx, created)
}

// CreateChallenge issues a direct challenge against a known opponent. It
// starts immediately; direct duels skip quick-match conflict scheduling.
func (s *RivalryService) CreateChallenge(ctx context.Context, challengerID, opponentID string, challengeType challenge.Type, targetValue int64, durationHours int) (*challenge.Challenge, error) {
	if !challengeType.Valid() {
		return nil, fmt.Errorf("unknown challenge type %q", challengeType)
	}
	if targetValue <= 0 || durationHours <= 0 {
		return nil, fmt.Errorf("target value and duration must be positive")
	}
	if challengerID == opponentID {
		return nil, fmt.Errorf("cannot challenge yourself")
	}

	now := time.Now()
	end := now.Add(time.Duration(durationHours) * time.Hour)
	c := &challenge.Challenge{
		ChallengerID:  challengerID,
		OpponentID:    &opponentID,
		ChallengeType: challengeType,
		TargetValue:   targetValue,
		DurationHours: durationHours,
		Status:        challenge.StatusActive,
		StartTime:     now,
		EndTime:       &end,
	}

	created, err := s.store.Insert(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	return s.decorate(ctx, created)
}

// SurrenderChallenge ends an active duel early. The other participant wins.
func (s *RivalryService) SurrenderChallenge(ctx context.Context, id uuid.UUID, userID string) (*challenge.Challenge, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	winnerID := c.OtherParticipant(userID)
	if winnerID == nil {
		return nil, store.ErrNotFound
	}

	finished, err := s.store.FinishFromActive(ctx, id, winnerID, time.Now())
	if err != nil {
		return nil, err
	}

	log.Printf("Duel %s surrendered by %s, winner %s", id, userID, *winnerID)
	if s.notifier != nil {
		s.notifier.DuelFinished(ctx, finished)
	}
	return s.decorate(ctx, finished)
}

// DeclineChallenge rejects a pending direct invite. Quick-match lobbies have
// no invitee, so this path is never reached by matchmaking.
func (s *RivalryService) DeclineChallenge(ctx context.Context, id uuid.UUID, userID string) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.RoleOf(userID) == challenge.RoleNone {
		return store.ErrNotFound
	}
	return s.store.DeclinePending(ctx, id)
}

// UpdateChallengeProgress writes a participant's progress into their own
// column. A caller who is neither participant is silently ignored: a stale
// client posting after a duel was reassigned is a benign race, not an error.
func (s *RivalryService) UpdateChallengeProgress(ctx context.Context, id uuid.UUID, userID string, progress int64) error {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	role := c.RoleOf(userID)
	if role == challenge.RoleNone {
		log.Printf("Progress update for duel %s from non-participant %s ignored", id, userID)
		return nil
	}

	if err := s.store.SetProgress(ctx, id, role, progress); err != nil {
		return fmt.Errorf("failed to store progress: %w", err)
	}
	return nil
}

func (s *RivalryService) GetChallengeByID(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, c)
}

func (s *RivalryService) GetActiveChallenges(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	challenges, err := s.store.ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.decorateAll(ctx, challenges)
}

func (s *RivalryService) GetChallengeHistory(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	challenges, err := s.store.ListHistory(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.decorateAll(ctx, challenges)
}

func (s *RivalryService) GetOpenLobbies(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	lobbies, err := s.store.ListOpenLobbies(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.decorateAll(ctx, lobbies)
}

// FinalizeExpired closes active duels whose scheduled end has passed. Higher
// progress wins; an exact tie is recorded as a draw with no winner.
func (s *RivalryService) FinalizeExpired(ctx context.Context) (int, error) {
	expired, err := s.store.ListExpiredActive(ctx, time.Now(), expirySweepBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired duels: %w", err)
	}

	finalized := 0
	for _, c := range expired {
		var winnerID *string
		switch {
		case c.ChallengerProgress > c.OpponentProgress:
			winnerID = &c.ChallengerID
		case c.OpponentProgress > c.ChallengerProgress:
			winnerID = c.OpponentID
		}

		finished, err := s.store.FinishFromActive(ctx, c.ID, winnerID, *c.EndTime)
		if errors.Is(err, store.ErrNotFound) {
			// Lost the race against a surrender. Nothing to do.
			continue
		}
		if err != nil {
			log.Printf("ExpirySweep: failed to finalize duel %s: %v", c.ID, err)
			continue
		}

		finalized++
		expiredDuelsFinalized.Inc()
		if s.notifier != nil {
			s.notifier.DuelFinished(ctx, finished)
		}
	}
	return finalized, nil
}

// RunExpirySweeper periodically finalizes expired duels until ctx ends.
// Start it from main.go with `go svc.RunExpirySweeper(ctx, interval)`.
func (s *RivalryService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := s.FinalizeExpired(sweepCtx)
			cancel()
			if err != nil {
				log.Printf("ExpirySweep: %v", err)
			} else if n > 0 {
				log.Printf("ExpirySweep: finalized %d expired duels", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *RivalryService) decorate(ctx context.Context, c *challenge.Challenge) (*challenge.Challenge, error) {
	decorated, err := s.decorateAll(ctx, []*challenge.Challenge{c})
	if err != nil {
		return nil, err
	}
	return decorated[0], nil
}

// decorateAll attaches display profiles. Profile resolution is best effort:
// a participant without a profile row is shown without one, never an error.
func (s *RivalryService) decorateAll(ctx context.Context, challenges []*challenge.Challenge) ([]*challenge.Challenge, error) {
	if len(challenges) == 0 {
		return challenges, nil
	}

	idSet := make(map[string]struct{})
	for _, c := range challenges {
		idSet[c.ChallengerID] = struct{}{}
		if c.OpponentID != nil {
			idSet[*c.OpponentID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}

	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		log.Printf("Profile lookup failed for %d users: %v", len(ids), err)
		return challenges, nil
	}

	for _, c := range challenges {
		c.Challenger = profiles[c.ChallengerID]
		if c.OpponentID != nil {
			c.Opponent = profiles[*c.OpponentID]
		}
	}
	return challenges, nil
}
