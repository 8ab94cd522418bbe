package challenge

import (
	"time"

	"github.com/google/uuid"

	"stepDuelAPI/internal/types/profile"
)

type Type string

const (
	TypeSteps    Type = "steps"
	TypeCalories Type = "calories"
	TypeDistance Type = "distance"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSteps, TypeCalories, TypeDistance:
		return true
	}
	return false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusDeclined Status = "declined"
)

// Role identifies which progress column belongs to a participant.
type Role int

const (
	RoleNone Role = iota
	RoleChallenger
	RoleOpponent
)

// Challenge is a head-to-head duel between two users. While Status is
// pending the row is an open lobby: OpponentID and EndTime are null and
// StartTime holds the creation time used for the recency window.
type Challenge struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	ChallengerID       string     `json:"challenger_id" db:"challenger_id"`
	OpponentID         *string    `json:"opponent_id" db:"opponent_id"`
	ChallengeType      Type       `json:"challenge_type" db:"challenge_type"`
	TargetValue        int64      `json:"target_value" db:"target_value"`
	DurationHours      int        `json:"duration_hours" db:"duration_hours"`
	Status             Status     `json:"status" db:"status"`
	StartTime          time.Time  `json:"start_time" db:"start_time"`
	EndTime            *time.Time `json:"end_time" db:"end_time"`
	ChallengerProgress int64      `json:"challenger_progress" db:"challenger_progress"`
	OpponentProgress   int64      `json:"opponent_progress" db:"opponent_progress"`
	WinnerID           *string    `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`

	// Joined from profiles for display, never stored.
	Challenger *profile.Profile `json:"challenger,omitempty"`
	Opponent   *profile.Profile `json:"opponent,omitempty"`
}

// RoleOf resolves which side of the duel userID is on.
func (c *Challenge) RoleOf(userID string) Role {
	if c.ChallengerID == userID {
		return RoleChallenger
	}
	if c.OpponentID != nil && *c.OpponentID == userID {
		return RoleOpponent
	}
	return RoleNone
}

// ProgressOf returns the stored progress for userID, 0 for non-participants.
func (c *Challenge) ProgressOf(userID string) int64 {
	switch c.RoleOf(userID) {
	case RoleChallenger:
		return c.ChallengerProgress
	case RoleOpponent:
		return c.OpponentProgress
	}
	return 0
}

// OtherParticipant returns the counterpart of userID, nil when the duel has
// no opponent yet or userID is not a participant.
func (c *Challenge) OtherParticipant(userID string) *string {
	switch c.RoleOf(userID) {
	case RoleChallenger:
		return c.OpponentID
	case RoleOpponent:
		return &c.ChallengerID
	}
	return nil
}

type QuickMatchRequest struct {
	ChallengeType Type  `json:"challenge_type"`
	TargetValue   int64 `json:"target_value"`
	DurationHours int   `json:"duration_hours"`
}

type CreateChallengeRequest struct {
	OpponentID    string `json:"opponent_id"`
	ChallengeType Type   `json:"challenge_type"`
	TargetValue   int64  `json:"target_value"`
	DurationHours int    `json:"duration_hours"`
}

type UpdateProgressRequest struct {
	Progress int64 `json:"progress"`
}
