// Package scoring turns an uploaded photo into a ranked score: it asks the
// provider for a score, stores the image, and folds the result into the
// existing records through the duplicate resolver.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/dedupe"
	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
	"github.com/your-org/facepk/internal/provider"
	"github.com/your-org/facepk/internal/storage"
)

type Publisher interface {
	PublishScore(ctx context.Context, ev models.ScoreEvent) error
}

type SubmitRequest struct {
	OwnerID    uuid.UUID
	Image      []byte
	Visibility models.Visibility
}

// Result is the canonical record a submission ended up in, together with
// what the submission itself scored.
type Result struct {
	Record         models.ScoreRecord
	Outcome        dedupe.Outcome
	Similarity     float64
	SubmittedScore float64
	FeatureBlob    json.RawMessage
}

type Service struct {
	store     storage.Store
	blobs     storage.BlobStore
	provider  provider.Provider
	resolver  *dedupe.Resolver
	publisher Publisher
	maxBytes  int64
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMaxBytes caps the accepted image size. Zero means no cap.
func WithMaxBytes(n int64) Option {
	return func(s *Service) { s.maxBytes = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.Store, blobs storage.BlobStore, p provider.Provider, resolver *dedupe.Resolver, opts ...Option) *Service {
	s := &Service{
		store:    store,
		blobs:    blobs,
		provider: provider.Instrumented(p),
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit scores req.Image and records it. The provider runs before any
// transaction is opened; the duplicate check and the write run in one.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	analysis, err := s.provider.Analyze(ctx, req.Image)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}

	identity := fingerprint.Compute(req.Image)
	if !identity.Decoded() {
		slog.Warn("image not decodable, exact dedupe only", "owner_id", req.OwnerID, "hash", identity.ContentHash)
	}

	contentType := http.DetectContentType(req.Image)
	key := imageKey(req.OwnerID, contentType)
	if err := s.blobs.PutObject(ctx, key, req.Image, contentType); err != nil {
		return nil, apperr.Internal("store image", err)
	}

	sub := dedupe.Submission{
		OwnerID:     req.OwnerID,
		Identity:    identity,
		Score:       analysis.Score,
		FeatureBlob: analysis.FeatureBlob,
		Visibility:  req.Visibility,
		Provider:    s.provider.Kind(),
		ImageKey:    key,
	}

	res, err := s.resolve(ctx, sub)
	if err != nil {
		s.deleteBlob(ctx, key)
		return nil, fmt.Errorf("submit score: %w", err)
	}

	switch {
	case res.Outcome == dedupe.OutcomeDiscarded:
		s.deleteBlob(ctx, key)
	case res.ReplacedImageKey != "":
		s.deleteBlob(ctx, res.ReplacedImageKey)
	}

	observability.Submissions.WithLabelValues(string(res.Outcome)).Inc()
	slog.Info("score submitted",
		"score_id", res.Record.ID,
		"owner_id", req.OwnerID,
		"outcome", res.Outcome,
		"score", analysis.Score,
		"canonical_score", res.Record.Score,
		"similarity", res.Similarity,
	)
	s.publish(ctx, req, analysis.Score, res)

	return &Result{
		Record:         res.Record,
		Outcome:        res.Outcome,
		Similarity:     res.Similarity,
		SubmittedScore: analysis.Score,
		FeatureBlob:    analysis.FeatureBlob,
	}, nil
}

// resolve runs the resolver in a transaction. A conflict means a concurrent
// submission committed the same photo first; one more pass folds this one
// into the winner.
func (s *Service) resolve(ctx context.Context, sub dedupe.Submission) (*dedupe.Resolution, error) {
	var res *dedupe.Resolution
	run := func() error {
		return s.store.WithTx(ctx, func(tx storage.Tx) error {
			r, err := s.resolver.Resolve(ctx, tx, sub)
			if err != nil {
				return err
			}
			res = r
			return nil
		})
	}

	err := run()
	if errors.Is(err, apperr.ErrConflict) {
		slog.Info("submission conflicted, resolving again", "owner_id", sub.OwnerID, "hash", sub.Identity.ContentHash)
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) validate(req SubmitRequest) error {
	if req.OwnerID == uuid.Nil {
		return apperr.Validation("owner id is required")
	}
	if len(req.Image) == 0 {
		return apperr.Validation("image is empty")
	}
	if s.maxBytes > 0 && int64(len(req.Image)) > s.maxBytes {
		return apperr.Validation("image exceeds %d bytes", s.maxBytes)
	}
	if !req.Visibility.Valid() {
		return apperr.Validation("invalid visibility %q", req.Visibility)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, req SubmitRequest, submitted float64, res *dedupe.Resolution) {
	if s.publisher == nil {
		return
	}
	ev := models.ScoreEvent{
		EventID:        uuid.Must(uuid.NewV7()),
		Outcome:        string(res.Outcome),
		ScoreID:        res.Record.ID,
		SubmitterID:    req.OwnerID,
		SubmittedScore: submitted,
		CanonicalScore: res.Record.Score,
		Visibility:     res.Record.Visibility,
		OccurredAt:     s.now(),
	}
	if res.Outcome == dedupe.OutcomeReplaced {
		prev := res.PreviousOwner
		ev.PreviousOwnerID = &prev
	}
	if err := s.publisher.PublishScore(ctx, ev); err != nil {
		slog.Warn("publish score event", "score_id", res.Record.ID, "error", err)
	}
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.DeleteObject(ctx, key); err != nil {
		slog.Warn("delete image", "key", key, "error", err)
	}
}

// Get returns a score visible to viewer. Private scores are only visible to
// their owner and look absent to everyone else.
func (s *Service) Get(ctx context.Context, id, viewer uuid.UUID) (*models.ScoreRecord, error) {
	rec, err := s.store.GetScore(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsPublic() && rec.OwnerID != viewer {
		return nil, apperr.NotFound("score %s", id)
	}
	return rec, nil
}

// Image returns the stored photo behind a score visible to viewer.
func (s *Service) Image(ctx context.Context, id, viewer uuid.UUID) (*storage.Blob, error) {
	rec, err := s.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	if rec.ImageKey == "" {
		return nil, apperr.NotFound("image for score %s", id)
	}
	blob, err := s.blobs.GetObject(ctx, rec.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	return blob, nil
}

// ListByOwner lists owner's scores newest first. Anyone but the owner only
// sees public scores.
func (s *Service) ListByOwner(ctx context.Context, owner, viewer uuid.UUID, page storage.Page, publicOnly bool) ([]models.ScoreRecord, int, error) {
	if viewer != owner {
		publicOnly = true
	}
	return s.store.ListByOwner(ctx, owner, page, publicOnly)
}

func imageKey(owner uuid.UUID, contentType string) string {
	return fmt.Sprintf("scores/%s/%s.%s", owner, uuid.Must(uuid.NewV7()), extension(contentType))
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	case "image/bmp":
		return "bmp"
	default:
		return "bin"
	}
}
