package leaderboard

type Period string

const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	return p == PeriodWeekly || p == PeriodMonthly
}

// RollupRow is one user's pre-aggregated stats over a period window, as
// returned by the store-side rollup query.
type RollupRow struct {
	UserID        string `json:"user_id" db:"user_id"`
	Points        int    `json:"points" db:"points"`
	Wins          int    `json:"wins" db:"wins"`
	MatchesPlayed int    `json:"matches_played" db:"matches_played"`
}

// RivalrySummary is a RollupRow decorated with profile data for display.
type RivalrySummary struct {
	UserID        string   `json:"user_id"`
	Points        int      `json:"points"`
	Wins          int      `json:"wins"`
	MatchesPlayed int      `json:"matches_played"`
	RankScore     *float64 `json:"rank_score,omitempty"`
	Username      string   `json:"username"`
	AvatarURL     *string  `json:"avatar_url,omitempty"`
}
