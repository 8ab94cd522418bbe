package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/types/challenge"
	"stepDuelAPI/internal/types/leaderboard"
	"stepDuelAPI/internal/types/profile"
)

var (
	// ErrNotFound means the referenced challenge does not exist, or is no
	// longer in a state the operation accepts.
	ErrNotFound = errors.New("challenge not found")

	// ErrConflict means a conditional update lost the race: the lobby was
	// already taken by another joiner. Callers should re-run matchmaking,
	// not retry the same write.
	ErrConflict = errors.New("challenge was modified concurrently")
)

// JoinPatch is the atomic activation write applied to a pending lobby.
type JoinPatch struct {
	OpponentID string
	StartTime  time.Time
	EndTime    time.Time
}

// ChallengeStore is the durable challenge table. Implementations must make
// JoinLobby a single conditional update: it succeeds only while the row is
// still pending with a null opponent, otherwise it returns ErrConflict.
type ChallengeStore interface {
	Insert(ctx context.Context, c *challenge.Challenge) (*challenge.Challenge, error)
	Get(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error)

	// FindOpenLobby returns the oldest pending challenge of the given type
	// created after createdAfter by someone other than userID, or ErrNotFound.
	FindOpenLobby(ctx context.Context, userID string, challengeType challenge.Type, createdAfter time.Time) (*challenge.Challenge, error)
	ListOpenLobbies(ctx context.Context, userID string) ([]*challenge.Challenge, error)

	// HasActiveDuelBetween reports whether an active challenge exists with
	// userA and userB on opposite sides, in either orientation.
	HasActiveDuelBetween(ctx context.Context, userA, userB string) (bool, error)

	// LatestActiveEnd returns the latest end_time among userID's active
	// challenges, nil when the user has none.
	LatestActiveEnd(ctx context.Context, userID string) (*time.Time, error)

	JoinLobby(ctx context.Context, id uuid.UUID, patch JoinPatch) (*challenge.Challenge, error)

	// FinishFromActive terminates an active challenge. A nil winner records
	// a draw. Returns ErrNotFound when the row is absent or already terminal.
	FinishFromActive(ctx context.Context, id uuid.UUID, winnerID *string, endedAt time.Time) (*challenge.Challenge, error)

	// DeclinePending rejects a pending invite. ErrNotFound when the row is
	// absent or no longer pending.
	DeclinePending(ctx context.Context, id uuid.UUID) error

	SetProgress(ctx context.Context, id uuid.UUID, role challenge.Role, value int64) error

	ListActive(ctx context.Context, userID string) ([]*challenge.Challenge, error)
	ListHistory(ctx context.Context, userID string) ([]*challenge.Challenge, error)
	ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*challenge.Challenge, error)

	Rollup(ctx context.Context, since time.Time) ([]leaderboard.RollupRow, error)
	RollupForUser(ctx context.Context, userID string, since time.Time) (*leaderboard.RollupRow, error)
}

// ProfileLookup resolves user ids to display profiles. Missing ids are
// simply absent from the result map.
type ProfileLookup interface {
	GetMany(ctx context.Context, ids []string) (map[string]*profile.Profile, error)
}
