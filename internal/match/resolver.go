// Package match runs a challenge between two users' photos and records the
// outcome.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
	"github.com/your-org/facepk/internal/rating"
	"github.com/your-org/facepk/internal/storage"
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx storage.Tx) error) error
}

type Publisher interface {
	PublishMatch(ctx context.Context, ev models.MatchEvent) error
}

type Request struct {
	ChallengerID      uuid.UUID
	OpponentID        uuid.UUID
	ChallengerScoreID uuid.UUID
}

// Side is one participant as shown in a match payload.
type Side struct {
	UserID   uuid.UUID
	ScoreID  uuid.UUID
	Score    float64
	ImageKey string
}

type Outcome struct {
	Match      models.Match
	Challenger Side
	Opponent   Side
	NewRating  int
}

type Resolver struct {
	store     TxRunner
	ledger    *rating.Ledger
	rules     Rules
	publisher Publisher
	now       func() time.Time
}

type Option func(*Resolver)

func WithRules(r Rules) Option {
	return func(res *Resolver) { res.rules = r }
}

func WithPublisher(p Publisher) Option {
	return func(res *Resolver) { res.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(res *Resolver) { res.now = now }
}

func NewResolver(store TxRunner, ledger *rating.Ledger, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		ledger: ledger,
		rules:  DefaultRules(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create resolves a challenge. Only the challenger's rating moves; the
// opponent is matched against their most recent public score.
func (r *Resolver) Create(ctx context.Context, req Request) (*Outcome, error) {
	if req.ChallengerID == uuid.Nil || req.OpponentID == uuid.Nil || req.ChallengerScoreID == uuid.Nil {
		return nil, apperr.Validation("challenger, opponent and score id are required")
	}
	if req.ChallengerID == req.OpponentID {
		return nil, apperr.Validation("cannot challenge yourself")
	}

	var out *Outcome
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		own, err := tx.GetScore(ctx, req.ChallengerScoreID)
		if err != nil {
			return err
		}
		if own.OwnerID != req.ChallengerID {
			return apperr.Validation("score %s does not belong to the challenger", own.ID)
		}

		opp, err := tx.LatestPublicFor(ctx, req.OpponentID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.NotFound("opponent %s has no public score", req.OpponentID)
			}
			return err
		}

		result, delta := r.rules.Decide(own.Score, opp.Score)

		change, err := r.ledger.Apply(ctx, tx, req.ChallengerID, delta)
		if err != nil {
			return err
		}

		m := models.Match{
			ID:                uuid.Must(uuid.NewV7()),
			ChallengerID:      req.ChallengerID,
			OpponentID:        req.OpponentID,
			ChallengerScoreID: own.ID,
			OpponentScoreID:   opp.ID,
			ChallengerScore:   own.Score,
			OpponentScore:     opp.Score,
			Result:            result,
			RatingDelta:       delta,
			RatingAfter:       change.After,
			MatchedAt:         r.now(),
		}
		if err := tx.InsertMatch(ctx, &m); err != nil {
			return err
		}

		out = &Outcome{
			Match:      m,
			Challenger: Side{UserID: own.OwnerID, ScoreID: own.ID, Score: own.Score, ImageKey: own.ImageKey},
			Opponent:   Side{UserID: opp.OwnerID, ScoreID: opp.ID, Score: opp.Score, ImageKey: opp.ImageKey},
			NewRating:  change.After,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	observability.Matches.WithLabelValues(string(out.Match.Result)).Inc()
	slog.Info("match resolved",
		"match_id", out.Match.ID,
		"challenger_id", out.Match.ChallengerID,
		"opponent_id", out.Match.OpponentID,
		"result", out.Match.Result,
		"rating", out.NewRating,
	)
	r.publish(ctx, &out.Match)
	return out, nil
}

// publish runs after commit. A lost event only delays the stats projection.
func (r *Resolver) publish(ctx context.Context, m *models.Match) {
	if r.publisher == nil {
		return
	}
	ev := models.MatchEvent{
		EventID:         m.ID,
		MatchID:         m.ID,
		ChallengerID:    m.ChallengerID,
		OpponentID:      m.OpponentID,
		ChallengerScore: m.ChallengerScore,
		OpponentScore:   m.OpponentScore,
		Result:          m.Result,
		RatingDelta:     m.RatingDelta,
		RatingAfter:     m.RatingAfter,
		OccurredAt:      m.MatchedAt,
	}
	if err := r.publisher.PublishMatch(ctx, ev); err != nil {
		slog.Warn("publish match event", "match_id", m.ID, "error", err)
	}
}
