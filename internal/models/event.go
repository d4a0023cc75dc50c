package models

import (
	"time"

	"github.com/google/uuid"
)

// ScoreEvent is published to NATS after a submission commits.
type ScoreEvent struct {
	EventID         uuid.UUID  `json:"event_id"`
	Outcome         string     `json:"outcome"` // created, replaced or discarded
	ScoreID         uuid.UUID  `json:"score_id"`
	SubmitterID     uuid.UUID  `json:"submitter_id"`
	PreviousOwnerID *uuid.UUID `json:"previous_owner_id,omitempty"`
	SubmittedScore  float64    `json:"submitted_score"`
	CanonicalScore  float64    `json:"canonical_score"`
	Visibility      Visibility `json:"visibility"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// MatchEvent is published to NATS after a match commits.
type MatchEvent struct {
	EventID         uuid.UUID   `json:"event_id"`
	MatchID         uuid.UUID   `json:"match_id"`
	ChallengerID    uuid.UUID   `json:"challenger_id"`
	OpponentID      uuid.UUID   `json:"opponent_id"`
	ChallengerScore float64     `json:"challenger_score"`
	OpponentScore   float64     `json:"opponent_score"`
	Result          MatchResult `json:"result"`
	RatingDelta     int         `json:"rating_delta"`
	RatingAfter     int         `json:"rating_after"`
	OccurredAt      time.Time   `json:"occurred_at"`
}
