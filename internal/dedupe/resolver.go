// Package dedupe folds a new submission into the existing records so that
// each photo, byte-identical or visually near-identical, is ranked once and
// carries the best score it has received.
package dedupe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
	"github.com/your-org/facepk/internal/storage"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeDiscarded Outcome = "discarded"
)

// Submission is a scored upload that has not been persisted yet.
type Submission struct {
	OwnerID     uuid.UUID
	Identity    fingerprint.Result
	Score       float64
	FeatureBlob json.RawMessage
	Visibility  models.Visibility
	Provider    models.ProviderKind
	ImageKey    string
}

type Resolution struct {
	Record  models.ScoreRecord
	Outcome Outcome
	// Similarity to the matched record; 1 for an exact duplicate, 0 when
	// nothing matched.
	Similarity float64
	// Set when Outcome is OutcomeReplaced.
	PreviousOwner    uuid.UUID
	ReplacedImageKey string
}

// SourceLoader fetches the stored image of a record that predates grids.
type SourceLoader interface {
	GetObject(ctx context.Context, key string) (*storage.Blob, error)
}

type Resolver struct {
	threshold      float64
	maxHamming     int
	candidateLimit int
	sources        SourceLoader
	now            func() time.Time
}

type Option func(*Resolver)

func WithThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// WithMaxHamming prefilters candidates by fingerprint distance. Negative
// disables the prefilter.
func WithMaxHamming(n int) Option {
	return func(r *Resolver) { r.maxHamming = n }
}

func WithCandidateLimit(n int) Option {
	return func(r *Resolver) { r.candidateLimit = n }
}

func WithSourceLoader(l SourceLoader) Option {
	return func(r *Resolver) { r.sources = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		threshold:      fingerprint.DefaultSimilarityThreshold,
		maxHamming:     -1,
		candidateLimit: 50,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve finds the record sub duplicates, if any, and either creates a new
// record, replaces the duplicate in place when sub scores strictly higher,
// or discards sub. It must run inside tx so the lookup and the write are
// one atomic step.
func (r *Resolver) Resolve(ctx context.Context, tx storage.Tx, sub Submission) (*Resolution, error) {
	scope := storage.Scope{}
	if sub.Visibility == models.VisibilityPrivate {
		scope.PrivateOwner = sub.OwnerID
	}

	existing, similarity, err := r.findDuplicate(ctx, tx, sub, scope)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if existing == nil {
		rec := models.ScoreRecord{
			ID:          uuid.Must(uuid.NewV7()),
			OwnerID:     sub.OwnerID,
			ContentHash: sub.Identity.ContentHash,
			Fingerprint: sub.Identity.Fingerprint,
			Grid:        sub.Identity.Grid,
			Score:       sub.Score,
			FeatureBlob: sub.FeatureBlob,
			Visibility:  sub.Visibility,
			Provider:    sub.Provider,
			ImageKey:    sub.ImageKey,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertScore(ctx, &rec); err != nil {
			return nil, fmt.Errorf("insert score: %w", err)
		}
		return &Resolution{Record: rec, Outcome: OutcomeCreated}, nil
	}

	if sub.Score <= existing.Score {
		return &Resolution{Record: *existing, Outcome: OutcomeDiscarded, Similarity: similarity}, nil
	}

	res := &Resolution{
		Outcome:          OutcomeReplaced,
		Similarity:       similarity,
		PreviousOwner:    existing.OwnerID,
		ReplacedImageKey: existing.ImageKey,
	}
	// id, visibility and createdAt survive the replacement
	rec := *existing
	rec.OwnerID = sub.OwnerID
	rec.ContentHash = sub.Identity.ContentHash
	rec.Fingerprint = sub.Identity.Fingerprint
	rec.Grid = sub.Identity.Grid
	rec.Score = sub.Score
	rec.FeatureBlob = sub.FeatureBlob
	rec.Provider = sub.Provider
	rec.ImageKey = sub.ImageKey
	rec.UpdatedAt = now
	if err := tx.UpdateScore(ctx, &rec); err != nil {
		return nil, fmt.Errorf("replace score: %w", err)
	}
	if res.ReplacedImageKey == rec.ImageKey {
		res.ReplacedImageKey = ""
	}
	res.Record = rec
	return res, nil
}

func (r *Resolver) findDuplicate(ctx context.Context, tx storage.Tx, sub Submission, scope storage.Scope) (*models.ScoreRecord, float64, error) {
	exact, err := tx.FindByHash(ctx, sub.Identity.ContentHash, scope)
	switch {
	case err == nil:
		return exact, 1, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, 0, fmt.Errorf("find by hash: %w", err)
	}

	if !sub.Identity.Decoded() {
		return nil, 0, nil
	}

	n := len(sub.Identity.Grid)
	candidates, err := tx.SimilarCandidates(ctx, storage.SimilarityProbe{
		Scope:       scope,
		Grid:        sub.Identity.Grid,
		MaxDistance: fingerprint.DistanceBound(r.threshold, n),
		Fingerprint: sub.Identity.Fingerprint,
		MaxHamming:  r.maxHamming,
		Limit:       r.candidateLimit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("similar candidates: %w", err)
	}

	var (
		best    *models.ScoreRecord
		bestSim float64
	)
	for i := range candidates {
		c := &candidates[i]
		grid := c.Grid
		if len(grid) == 0 {
			grid = r.loadGrid(ctx, c)
			if grid == nil {
				continue
			}
		}

		observability.DedupeComparisons.Inc()
		sim, err := fingerprint.Similarity(sub.Identity.Grid, grid)
		if err != nil {
			slog.Debug("skip candidate", "score_id", c.ID, "error", err)
			continue
		}
		if sim <= r.threshold {
			continue
		}
		if best == nil || sim > bestSim || (sim == bestSim && bytes.Compare(c.ID[:], best.ID[:]) < 0) {
			best, bestSim = c, sim
		}
	}
	return best, bestSim, nil
}

// loadGrid rebuilds the grid of a record stored without one. Any failure
// takes the candidate out of consideration.
func (r *Resolver) loadGrid(ctx context.Context, rec *models.ScoreRecord) []uint8 {
	if r.sources == nil || rec.ImageKey == "" {
		return nil
	}
	blob, err := r.sources.GetObject(ctx, rec.ImageKey)
	if err != nil {
		slog.Debug("load candidate source", "score_id", rec.ID, "error", err)
		return nil
	}
	img, err := fingerprint.Decode(blob.Data)
	if err != nil {
		slog.Debug("decode candidate source", "score_id", rec.ID, "error", err)
		return nil
	}
	return fingerprint.GreyGrid(img, fingerprint.GridSize)
}
