package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/internal/types/profile"
)

// MemoryChallengeStore is an in-memory ChallengeStore used by tests and
// local development without a database. All conditional semantics of the
// Postgres implementation hold under the store mutex.
type MemoryChallengeStore struct {
	mu         sync.RWMutex
	challenges map[uuid.UUID]*challenge.Challenge
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[uuid.UUID]*challenge.Challenge),
	}
}

func cloneChallenge(c *challenge.Challenge) *challenge.Challenge {
	cp := *c
	if c.OpponentID != nil {
		v := *c.OpponentID
		cp.OpponentID = &v
	}
	if c.EndTime != nil {
		v := *c.EndTime
		cp.EndTime = &v
	}
	if c.WinnerID != nil {
		v := *c.WinnerID
		cp.WinnerID = &v
	}
	cp.Challenger = nil
	cp.Opponent = nil
	return &cp
}

func (m *MemoryChallengeStore) Insert(ctx context.Context, c *challenge.Challenge) (*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneChallenge(c)
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.challenges[cp.ID] = cp
	return cloneChallenge(cp), nil
}

func (m *MemoryChallengeStore) Get(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChallenge(c), nil
}

func (m *MemoryChallengeStore) FindOpenLobby(ctx context.Context, userID string, challengeType challenge.Type, createdAfter time.Time) (*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *challenge.Challenge
	for _, c := range m.challenges {
		if c.Status != challenge.StatusPending || c.OpponentID != nil {
			continue
		}
		if c.ChallengerID == userID || c.ChallengeType != challengeType {
			continue
		}
		if !c.StartTime.After(createdAfter) {
			continue
		}
		if oldest == nil || c.StartTime.Before(oldest.StartTime) {
			oldest = c
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	return cloneChallenge(oldest), nil
}

func (m *MemoryChallengeStore) ListOpenLobbies(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lobbies []*challenge.Challenge
	for _, c := range m.challenges {
		if c.Status == challenge.StatusPending && c.OpponentID == nil && c.ChallengerID != userID {
			lobbies = append(lobbies, cloneChallenge(c))
		}
	}
	sort.Slice(lobbies, func(i, j int) bool {
		return lobbies[i].StartTime.After(lobbies[j].StartTime)
	})
	return lobbies, nil
}

func (m *MemoryChallengeStore) HasActiveDuelBetween(ctx context.Context, userA, userB string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.challenges {
		if c.Status != challenge.StatusActive || c.OpponentID == nil {
			continue
		}
		if (c.ChallengerID == userA && *c.OpponentID == userB) ||
			(c.ChallengerID == userB && *c.OpponentID == userA) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryChallengeStore) LatestActiveEnd(ctx context.Context, userID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *time.Time
	for _, c := range m.challenges {
		if c.Status != challenge.StatusActive || c.EndTime == nil {
			continue
		}
		if c.RoleOf(userID) == challenge.RoleNone {
			continue
		}
		if latest == nil || c.EndTime.After(*latest) {
			v := *c.EndTime
			latest = &v
		}
	}
	return latest, nil
}

func (m *MemoryChallengeStore) JoinLobby(ctx context.Context, id uuid.UUID, patch JoinPatch) (*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	if c.Status != challenge.StatusPending || c.OpponentID != nil {
		return nil, ErrConflict
	}

	opponent := patch.OpponentID
	end := patch.EndTime
	c.OpponentID = &opponent
	c.Status = challenge.StatusActive
	c.StartTime = patch.StartTime
	c.EndTime = &end
	return cloneChallenge(c), nil
}

func (m *MemoryChallengeStore) FinishFromActive(ctx context.Context, id uuid.UUID, winnerID *string, endedAt time.Time) (*challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok || c.Status != challenge.StatusActive {
		return nil, ErrNotFound
	}

	c.Status = challenge.StatusFinished
	if winnerID != nil {
		v := *winnerID
		c.WinnerID = &v
	} else {
		c.WinnerID = nil
	}
	end := endedAt
	c.EndTime = &end
	return cloneChallenge(c), nil
}

func (m *MemoryChallengeStore) DeclinePending(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok || c.Status != challenge.StatusPending {
		return ErrNotFound
	}
	c.Status = challenge.StatusDeclined
	return nil
}

func (m *MemoryChallengeStore) SetProgress(ctx context.Context, id uuid.UUID, role challenge.Role, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.challenges[id]
	if !ok {
		return ErrNotFound
	}
	switch role {
	case challenge.RoleChallenger:
		c.ChallengerProgress = value
	case challenge.RoleOpponent:
		c.OpponentProgress = value
	default:
		return fmt.Errorf("progress update requires a participant role")
	}
	return nil
}

func (m *MemoryChallengeStore) ListActive(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var active []*challenge.Challenge
	for _, c := range m.challenges {
		if c.Status == challenge.StatusActive && c.RoleOf(userID) != challenge.RoleNone {
			active = append(active, cloneChallenge(c))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartTime.Before(active[j].StartTime)
	})
	return active, nil
}

func (m *MemoryChallengeStore) ListHistory(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var history []*challenge.Challenge
	for _, c := range m.challenges {
		if c.Status != challenge.StatusFinished && c.Status != challenge.StatusDeclined {
			continue
		}
		if c.RoleOf(userID) == challenge.RoleNone {
			continue
		}
		history = append(history, cloneChallenge(c))
	}
	sort.Slice(history, func(i, j int) bool {
		ti, tj := history[i].EndTime, history[j].EndTime
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
	return history, nil
}

func (m *MemoryChallengeStore) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*challenge.Challenge
	for _, c := range m.challenges {
		if c.Status == challenge.StatusActive && c.EndTime != nil && !c.EndTime.After(asOf) {
			expired = append(expired, cloneChallenge(c))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].EndTime.Before(*expired[j].EndTime)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *MemoryChallengeStore) Rollup(ctx context.Context, since time.Time) ([]leaderboard.RollupRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byUser := make(map[string]*leaderboard.RollupRow)
	record := func(userID string, won bool) {
		row, ok := byUser[userID]
		if !ok {
			row = &leaderboard.RollupRow{UserID: userID}
			byUser[userID] = row
		}
		row.MatchesPlayed++
		if won {
			row.Wins++
		}
		row.Points = row.Wins*3 + row.MatchesPlayed
	}

	for _, c := range m.challenges {
		if c.Status != challenge.StatusFinished || c.EndTime == nil || c.EndTime.Before(since) {
			continue
		}
		record(c.ChallengerID, c.WinnerID != nil && *c.WinnerID == c.ChallengerID)
		if c.OpponentID != nil {
			record(*c.OpponentID, c.WinnerID != nil && *c.WinnerID == *c.OpponentID)
		}
	}

	rows := make([]leaderboard.RollupRow, 0, len(byUser))
	for _, row := range byUser {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Points > rows[j].Points })
	return rows, nil
}

func (m *MemoryChallengeStore) RollupForUser(ctx context.Context, userID string, since time.Time) (*leaderboard.RollupRow, error) {
	rows, err := m.Rollup(ctx, since)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].UserID == userID {
			return &rows[i], nil
		}
	}
	return &leaderboard.RollupRow{UserID: userID}, nil
}

// MemoryProfileLookup is a fixed profile map for tests.
type MemoryProfileLookup struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
}

func NewMemoryProfileLookup() *MemoryProfileLookup {
	return &MemoryProfileLookup{profiles: make(map[string]*profile.Profile)}
}

func (m *MemoryProfileLookup) Put(p *profile.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

func (m *MemoryProfileLookup) GetMany(ctx context.Context, ids []string) (map[string]*profile.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*profile.Profile, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}
