// Package rating maintains each user's match rating.
package rating

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/models"
)

// Floor is the lowest rating a user can hold. There is no ceiling.
const Floor = 0

// Store is the slice of a storage transaction the ledger needs.
type Store interface {
	LockRating(ctx context.Context, userID uuid.UUID, defaultRating int) (int, error)
	SetRating(ctx context.Context, userID uuid.UUID, rating int) error
}

type Change struct {
	Before int
	After  int
}

type Ledger struct {
	defaultRating int
}

func NewLedger(defaultRating int) *Ledger {
	if defaultRating <= 0 {
		defaultRating = models.DefaultRating
	}
	return &Ledger{defaultRating: defaultRating}
}

func (l *Ledger) DefaultRating() int {
	return l.defaultRating
}

// Apply adds delta to the user's rating, creating it at the default first,
// and clamps the result at Floor. It must run inside the caller's
// transaction so the read and write are not interleaved with another match.
func (l *Ledger) Apply(ctx context.Context, tx Store, userID uuid.UUID, delta int) (Change, error) {
	before, err := tx.LockRating(ctx, userID, l.defaultRating)
	if err != nil {
		return Change{}, fmt.Errorf("load rating: %w", err)
	}
	after := Clamp(before + delta)
	if err := tx.SetRating(ctx, userID, after); err != nil {
		return Change{}, fmt.Errorf("store rating: %w", err)
	}
	return Change{Before: before, After: after}, nil
}

func Clamp(r int) int {
	if r < Floor {
		return Floor
	}
	return r
}
