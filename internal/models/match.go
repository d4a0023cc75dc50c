package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchResult is always expressed from the challenger's side.
type MatchResult string

const (
	ResultWin  MatchResult = "Win"
	ResultLose MatchResult = "Lose"
	ResultTie  MatchResult = "Tie"
)

func (r MatchResult) Valid() bool {
	return r == ResultWin || r == ResultLose || r == ResultTie
}

// Invert returns the result as seen by the opponent.
func (r MatchResult) Invert() MatchResult {
	switch r {
	case ResultWin:
		return ResultLose
	case ResultLose:
		return ResultWin
	default:
		return r
	}
}

type Match struct {
	ID                uuid.UUID   `json:"id" db:"id"`
	ChallengerID      uuid.UUID   `json:"challenger_id" db:"challenger_id"`
	OpponentID        uuid.UUID   `json:"opponent_id" db:"opponent_id"`
	ChallengerScoreID uuid.UUID   `json:"challenger_score_id" db:"challenger_score_id"`
	OpponentScoreID   uuid.UUID   `json:"opponent_score_id" db:"opponent_score_id"`
	ChallengerScore   float64     `json:"challenger_score" db:"challenger_score"`
	OpponentScore     float64     `json:"opponent_score" db:"opponent_score"`
	Result            MatchResult `json:"result" db:"result"`
	RatingDelta       int         `json:"rating_delta" db:"rating_delta"`
	RatingAfter       int         `json:"rating_after" db:"rating_after"` // challenger's rating once the delta was applied
	MatchedAt         time.Time   `json:"matched_at" db:"matched_at"`
}

// Perspective returns the result and delta as seen by userID. The opponent
// sees the inverted result and the negated delta; their rating is untouched.
func (m *Match) Perspective(userID uuid.UUID) (MatchResult, int) {
	if userID == m.OpponentID && userID != m.ChallengerID {
		return m.Result.Invert(), -m.RatingDelta
	}
	return m.Result, m.RatingDelta
}
