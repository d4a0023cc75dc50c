package dto

import "github.com/google/uuid"

type RatingResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Rating int       `json:"rating"`
}

type StatsResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	MatchesTotal int       `json:"matches_total"`
	MatchesWon   int       `json:"matches_won"`
	MatchesLost  int       `json:"matches_lost"`
	MatchesTied  int       `json:"matches_tied"`
	Submissions  int       `json:"submissions"`
	AvgScore     float64   `json:"avg_score"`
	HighestScore float64   `json:"highest_score"`
	UpdatedAt    string    `json:"updated_at,omitempty"`
}
