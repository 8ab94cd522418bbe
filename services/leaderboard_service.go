package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"stepDuelAPI/internal/store"
	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/utils"
)

const leaderboardCacheTTL = 30 * time.Second

// LeaderboardService derives period rankings from finished duels. The rollup
// runs store-side; this service joins profiles and caches the decorated
// result in Redis for a short window.
type LeaderboardService struct {
	store    store.ChallengeStore
	profiles store.ProfileLookup
	cache    *redis.Client
}

func NewLeaderboardService(challengeStore store.ChallengeStore, profiles store.ProfileLookup, cache *redis.Client) *LeaderboardService {
	return &LeaderboardService{
		store:    challengeStore,
		profiles: profiles,
		cache:    cache,
	}
}

func periodStart(period leaderboard.Period) time.Time {
	switch period {
	case leaderboard.PeriodMonthly:
		return time.Now().AddDate(0, 0, -30)
	default:
		return time.Now().AddDate(0, 0, -7)
	}
}

// GetLeaderboard returns the period ranking in rollup order (points
// descending from the store); no client-side re-sort by secondary keys.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, period leaderboard.Period) ([]*leaderboard.RivalrySummary, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}

	if cached := s.fromCache(ctx, period); cached != nil {
		return cached, nil
	}

	rows, err := s.store.Rollup(ctx, periodStart(period))
	if err != nil {
		return nil, fmt.Errorf("leaderboard rollup failed: %w", err)
	}

	summaries, err := s.decorate(ctx, rows)
	if err != nil {
		return nil, err
	}

	s.toCache(ctx, period, summaries)
	return summaries, nil
}

// GetRivalrySummary returns one user's rollup over the period window. Users
// with no finished duels get a zeroed summary, not an error.
func (s *LeaderboardService) GetRivalrySummary(ctx context.Context, userID string, period leaderboard.Period) (*leaderboard.RivalrySummary, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}

	row, err := s.store.RollupForUser(ctx, userID, periodStart(period))
	if err != nil {
		return nil, fmt.Errorf("rivalry summary rollup failed: %w", err)
	}

	summaries, err := s.decorate(ctx, []leaderboard.RollupRow{*row})
	if err != nil {
		return nil, err
	}
	return summaries[0], nil
}

func (s *LeaderboardService) decorate(ctx context.Context, rows []leaderboard.RollupRow) ([]*leaderboard.RivalrySummary, error) {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}

	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve leaderboard profiles: %w", err)
	}

	summaries := make([]*leaderboard.RivalrySummary, 0, len(rows))
	for _, row := range rows {
		p := profiles[row.UserID]
		rankScore := utils.CalculateRankScore(row.Wins, row.MatchesPlayed)

		summary := &leaderboard.RivalrySummary{
			UserID:        row.UserID,
			Points:        row.Points,
			Wins:          row.Wins,
			MatchesPlayed: row.MatchesPlayed,
			RankScore:     &rankScore,
			Username:      p.DisplayName(),
		}
		if p != nil {
			summary.AvatarURL = p.AvatarURL
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func cacheKey(period leaderboard.Period) string {
	return "leaderboard:" + string(period)
}

// fromCache returns nil on any miss or Redis failure; the rollup recomputes.
func (s *LeaderboardService) fromCache(ctx context.Context, period leaderboard.Period) []*leaderboard.RivalrySummary {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, cacheKey(period)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("Leaderboard cache read failed: %v", err)
		return nil
	}

	var summaries []*leaderboard.RivalrySummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		log.Printf("Leaderboard cache entry corrupt, ignoring: %v", err)
		return nil
	}
	return summaries
}

func (s *LeaderboardService) toCache(ctx context.Context, period leaderboard.Period, summaries []*leaderboard.RivalrySummary) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(summaries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(period), raw, leaderboardCacheTTL).Err(); err != nil {
		log.Printf("Leaderboard cache write failed: %v", err)
	}
}
