package models

import (
	"time"

	"github.com/google/uuid"
)

const DefaultRating = 1500

type RatingState struct {
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Rating    int       `json:"rating" db:"rating"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
