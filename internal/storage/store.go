package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/models"
)

const MaxPageSize = 100

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage validates a client supplied page request.
func NewPage(number, size int) (Page, error) {
	if number < 1 {
		return Page{}, apperr.Validation("page must be >= 1, got %d", number)
	}
	if size < 1 || size > MaxPageSize {
		return Page{}, apperr.Validation("page size must be within 1..%d, got %d", MaxPageSize, size)
	}
	return Page{Number: number, Size: size}, nil
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Scope selects which records a duplicate lookup may return: every public
// record, plus the private records of PrivateOwner when it is set.
type Scope struct {
	PrivateOwner uuid.UUID
}

// SimilarityProbe asks for records whose grid lies within MaxDistance of
// Grid. Records stored without a grid are always returned so the caller can
// compare them from source. MaxHamming < 0 disables the fingerprint prefilter.
type SimilarityProbe struct {
	Scope       Scope
	Grid        []uint8
	MaxDistance float64
	Fingerprint *uint64
	MaxHamming  int
	Limit       int
}

// MatchFilter narrows a user's match history. Result is read from the
// user's side.
type MatchFilter struct {
	Result *models.MatchResult
}

type ScoreReader interface {
	GetScore(ctx context.Context, id uuid.UUID) (*models.ScoreRecord, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, page Page, publicOnly bool) ([]models.ScoreRecord, int, error)
	RankGlobal(ctx context.Context, page Page) ([]models.RankedScore, int, error)
	LatestPublicFor(ctx context.Context, userID uuid.UUID) (*models.ScoreRecord, error)
}

// Tx is the unit of work handed to WithTx. Every write made through it
// commits or rolls back together.
type Tx interface {
	ScoreReader

	// FindByHash returns the record carrying hash within scope. It does not
	// see a record committed by a concurrent transaction; a later write of
	// the same public hash then fails with ErrConflict, or with a
	// serialization failure that WithTx retries.
	FindByHash(ctx context.Context, hash string, scope Scope) (*models.ScoreRecord, error)
	SimilarCandidates(ctx context.Context, probe SimilarityProbe) ([]models.ScoreRecord, error)
	InsertScore(ctx context.Context, rec *models.ScoreRecord) error
	UpdateScore(ctx context.Context, rec *models.ScoreRecord) error

	// LockRating returns the user's rating, creating it at defaultRating,
	// and holds the row until the transaction ends.
	LockRating(ctx context.Context, userID uuid.UUID, defaultRating int) (int, error)
	SetRating(ctx context.Context, userID uuid.UUID, rating int) error
	InsertMatch(ctx context.Context, m *models.Match) error
}

type Store interface {
	ScoreReader

	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListMatchesForUser(ctx context.Context, userID uuid.UUID, filter MatchFilter, page Page) ([]models.Match, int, error)
	GetRating(ctx context.Context, userID uuid.UUID, defaultRating int) (*models.RatingState, error)

	Ping(ctx context.Context) error
	Close()
}

// StatsStore persists the user stats projection.
type StatsStore interface {
	// ApplyStats folds deltas into the projection once per eventID. It
	// reports false when the event was already applied.
	ApplyStats(ctx context.Context, eventID uuid.UUID, deltas []models.StatsDelta) (bool, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error)
}

// Blob is a stored source image.
type Blob struct {
	Data        []byte
	ContentType string
}

type BlobStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) (*Blob, error)
	DeleteObject(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
