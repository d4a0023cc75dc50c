package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStats is the read-side projection maintained by the worker.
type UserStats struct {
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	MatchesTotal int       `json:"matches_total" db:"matches_total"`
	MatchesWon   int       `json:"matches_won" db:"matches_won"`
	MatchesLost  int       `json:"matches_lost" db:"matches_lost"`
	MatchesTied  int       `json:"matches_tied" db:"matches_tied"`
	Submissions  int       `json:"submissions" db:"submissions"`
	ScoreSum     float64   `json:"-" db:"score_sum"`
	HighestScore float64   `json:"highest_score" db:"highest_score"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

func (s *UserStats) AvgScore() float64 {
	if s.Submissions == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.Submissions)
}

// StatsDelta is an increment applied to one user's projection.
type StatsDelta struct {
	UserID      uuid.UUID
	Matches     int
	Won         int
	Lost        int
	Tied        int
	Submissions int
	ScoreSum    float64
	Highest     float64 // folded with max, not added
}

// Apply folds d into s.
func (s *UserStats) Apply(d StatsDelta) {
	s.MatchesTotal += d.Matches
	s.MatchesWon += d.Won
	s.MatchesLost += d.Lost
	s.MatchesTied += d.Tied
	s.Submissions += d.Submissions
	s.ScoreSum += d.ScoreSum
	if d.Highest > s.HighestScore {
		s.HighestScore = d.Highest
	}
}
