package dto

import (
	"github.com/google/uuid"
)

type CreateMatchRequest struct {
	OpponentID uuid.UUID `json:"opponent_id" binding:"required"`
	ScoreID    uuid.UUID `json:"score_id" binding:"required"`
}

type MatchSide struct {
	UserID   uuid.UUID `json:"user_id"`
	ScoreID  uuid.UUID `json:"score_id"`
	Score    float64   `json:"score"`
	ImageURL string    `json:"image_url"`
}

// MatchResponse is a match from the challenger's side.
type MatchResponse struct {
	ID          uuid.UUID `json:"id"`
	Challenger  MatchSide `json:"challenger"`
	Opponent    MatchSide `json:"opponent"`
	Result      string    `json:"result"`
	RatingDelta int       `json:"rating_delta"`
	RatingAfter int       `json:"rating_after"`
	MatchedAt   string    `json:"matched_at"`
}

// MatchHistoryItem is a match from one user's side. Result and delta are
// inverted and negated when the user was the opponent.
type MatchHistoryItem struct {
	ID          uuid.UUID `json:"id"`
	Role        string    `json:"role"` // challenger or opponent
	OtherUserID uuid.UUID `json:"other_user_id"`
	MyScore     float64   `json:"my_score"`
	TheirScore  float64   `json:"their_score"`
	Result      string    `json:"result"`
	RatingDelta int       `json:"rating_delta"`
	MatchedAt   string    `json:"matched_at"`
}

type MatchListResponse struct {
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
	Items []MatchHistoryItem `json:"items"`
}
