package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/internal/types/profile"
)

const challengeColumns = `id, challenger_id, opponent_id, challenge_type, target_value,
	duration_hours, status, start_time, end_time, challenger_progress,
	opponent_progress, winner_id, created_at`

// PostgresChallengeStore implements ChallengeStore on the rivalry_challenges
// table. The join precondition rides on the UPDATE's WHERE clause, so two
// concurrent joiners can never both succeed.
type PostgresChallengeStore struct {
	db *pgxpool.Pool
}

func NewPostgresChallengeStore(db *pgxpool.Pool) *PostgresChallengeStore {
	return &PostgresChallengeStore{db: db}
}

func scanChallenge(row pgx.Row) (*challenge.Challenge, error) {
	c := &challenge.Challenge{}
	err := row.Scan(
		&c.ID, &c.ChallengerID, &c.OpponentID, &c.ChallengeType, &c.TargetValue,
		&c.DurationHours, &c.Status, &c.StartTime, &c.EndTime, &c.ChallengerProgress,
		&c.OpponentProgress, &c.WinnerID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresChallengeStore) collectChallenges(rows pgx.Rows) ([]*challenge.Challenge, error) {
	defer rows.Close()

	var challenges []*challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge row: %w", err)
		}
		challenges = append(challenges, c)
	}
	return challenges, rows.Err()
}

func (s *PostgresChallengeStore) Insert(ctx context.Context, c *challenge.Challenge) (*challenge.Challenge, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO rivalry_challenges (
			id, challenger_id, opponent_id, challenge_type, target_value,
			duration_hours, status, start_time, end_time,
			challenger_progress, opponent_progress, winner_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + challengeColumns

	inserted, err := scanChallenge(s.db.QueryRow(ctx, query,
		c.ID, c.ChallengerID, c.OpponentID, c.ChallengeType, c.TargetValue,
		c.DurationHours, c.Status, c.StartTime, c.EndTime,
		c.ChallengerProgress, c.OpponentProgress, c.WinnerID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to insert challenge: %w", err)
	}
	return inserted, nil
}

func (s *PostgresChallengeStore) Get(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM rivalry_challenges WHERE id = $1`

	c, err := scanChallenge(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch challenge: %w", err)
	}
	return c, nil
}

func (s *PostgresChallengeStore) FindOpenLobby(ctx context.Context, userID string, challengeType challenge.Type, createdAfter time.Time) (*challenge.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM rivalry_challenges
		WHERE status = 'pending'
		  AND opponent_id IS NULL
		  AND challenger_id <> $1
		  AND challenge_type = $2
		  AND start_time > $3
		ORDER BY start_time ASC
		LIMIT 1`

	c, err := scanChallenge(s.db.QueryRow(ctx, query, userID, challengeType, createdAfter))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search open lobbies: %w", err)
	}
	return c, nil
}

func (s *PostgresChallengeStore) ListOpenLobbies(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM rivalry_challenges
		WHERE status = 'pending'
		  AND opponent_id IS NULL
		  AND challenger_id <> $1
		ORDER BY start_time DESC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open lobbies: %w", err)
	}
	return s.collectChallenges(rows)
}

func (s *PostgresChallengeStore) HasActiveDuelBetween(ctx context.Context, userA, userB string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM rivalry_challenges
			WHERE status = 'active'
			  AND ((challenger_id = $1 AND opponent_id = $2)
			    OR (challenger_id = $2 AND opponent_id = $1))
		)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, userA, userB).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check for active duel: %w", err)
	}
	return exists, nil
}

func (s *PostgresChallengeStore) LatestActiveEnd(ctx context.Context, userID string) (*time.Time, error) {
	query := `
		SELECT end_time FROM rivalry_challenges
		WHERE status = 'active'
		  AND (challenger_id = $1 OR opponent_id = $1)
		  AND end_time IS NOT NULL
		ORDER BY end_time DESC
		LIMIT 1`

	var end time.Time
	err := s.db.QueryRow(ctx, query, userID).Scan(&end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest end time: %w", err)
	}
	return &end, nil
}

func (s *PostgresChallengeStore) JoinLobby(ctx context.Context, id uuid.UUID, patch JoinPatch) (*challenge.Challenge, error) {
	query := `
		UPDATE rivalry_challenges
		SET opponent_id = $2, status = 'active', start_time = $3, end_time = $4
		WHERE id = $1 AND status = 'pending' AND opponent_id IS NULL
		RETURNING ` + challengeColumns

	c, err := scanChallenge(s.db.QueryRow(ctx, query, id, patch.OpponentID, patch.StartTime, patch.EndTime))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row never existed or someone joined first.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to join lobby: %w", err)
	}
	return c, nil
}

func (s *PostgresChallengeStore) FinishFromActive(ctx context.Context, id uuid.UUID, winnerID *string, endedAt time.Time) (*challenge.Challenge, error) {
	query := `
		UPDATE rivalry_challenges
		SET status = 'finished', winner_id = $2, end_time = $3
		WHERE id = $1 AND status = 'active'
		RETURNING ` + challengeColumns

	c, err := scanChallenge(s.db.QueryRow(ctx, query, id, winnerID, endedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish challenge: %w", err)
	}
	return c, nil
}

func (s *PostgresChallengeStore) DeclinePending(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE rivalry_challenges SET status = 'declined' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to decline challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresChallengeStore) SetProgress(ctx context.Context, id uuid.UUID, role challenge.Role, value int64) error {
	var column string
	switch role {
	case challenge.RoleChallenger:
		column = "challenger_progress"
	case challenge.RoleOpponent:
		column = "opponent_progress"
	default:
		return fmt.Errorf("progress update requires a participant role")
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE rivalry_challenges SET `+column+` = $2 WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresChallengeStore) ListActive(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM rivalry_challenges
		WHERE status = 'active'
		  AND (challenger_id = $1 OR opponent_id = $1)
		ORDER BY start_time ASC`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active challenges: %w", err)
	}
	return s.collectChallenges(rows)
}

func (s *PostgresChallengeStore) ListHistory(ctx context.Context, userID string) ([]*challenge.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM rivalry_challenges
		WHERE status IN ('finished', 'declined')
		  AND (challenger_id = $1 OR opponent_id = $1)
		ORDER BY end_time DESC NULLS LAST`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenge history: %w", err)
	}
	return s.collectChallenges(rows)
}

func (s *PostgresChallengeStore) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*challenge.Challenge, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM rivalry_challenges
		WHERE status = 'active'
		  AND end_time IS NOT NULL
		  AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired challenges: %w", err)
	}
	return s.collectChallenges(rows)
}

// Rollup aggregates finished challenges per participant since the window
// start. Points are 3 per win plus 1 per match played; the aggregation runs
// where the data lives so the API never pages whole histories into memory.
func (s *PostgresChallengeStore) Rollup(ctx context.Context, since time.Time) ([]leaderboard.RollupRow, error) {
	query := rollupBase + `
		GROUP BY user_id
		ORDER BY points DESC
		LIMIT 100`

	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard rollup: %w", err)
	}
	defer rows.Close()

	var results []leaderboard.RollupRow
	for rows.Next() {
		var row leaderboard.RollupRow
		if err := rows.Scan(&row.UserID, &row.MatchesPlayed, &row.Wins, &row.Points); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func (s *PostgresChallengeStore) RollupForUser(ctx context.Context, userID string, since time.Time) (*leaderboard.RollupRow, error) {
	query := rollupBase + `
		GROUP BY user_id
		HAVING user_id = $2`

	var row leaderboard.RollupRow
	err := s.db.QueryRow(ctx, query, since, userID).Scan(&row.UserID, &row.MatchesPlayed, &row.Wins, &row.Points)
	if errors.Is(err, pgx.ErrNoRows) {
		return &leaderboard.RollupRow{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user rollup: %w", err)
	}
	return &row, nil
}

const rollupBase = `
	SELECT
		user_id,
		COUNT(*) AS matches_played,
		COUNT(*) FILTER (WHERE won) AS wins,
		COUNT(*) FILTER (WHERE won) * 3 + COUNT(*) AS points
	FROM (
		SELECT challenger_id AS user_id, winner_id = challenger_id AS won
		FROM rivalry_challenges
		WHERE status = 'finished' AND end_time >= $1
		UNION ALL
		SELECT opponent_id, winner_id = opponent_id
		FROM rivalry_challenges
		WHERE status = 'finished' AND end_time >= $1 AND opponent_id IS NOT NULL
	) participations`

// PostgresProfileLookup reads display profiles from the profiles table kept
// in sync by the Clerk webhook.
type PostgresProfileLookup struct {
	db *pgxpool.Pool
}

func NewPostgresProfileLookup(db *pgxpool.Pool) *PostgresProfileLookup {
	return &PostgresProfileLookup{db: db}
}

func (s *PostgresProfileLookup) GetMany(ctx context.Context, ids []string) (map[string]*profile.Profile, error) {
	result := make(map[string]*profile.Profile, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT clerk_id, full_name, username, avatar_url
		FROM profiles
		WHERE clerk_id = ANY($1)`

	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &profile.Profile{}
		if err := rows.Scan(&p.ID, &p.FullName, &p.Username, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}
