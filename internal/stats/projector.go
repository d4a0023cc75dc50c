// Package stats maintains the per-user stats projection from the score and
// match events published by the API.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
	"github.com/your-org/facepk/internal/queue"
	"github.com/your-org/facepk/internal/storage"
)

type Projector struct {
	store storage.StatsStore
}

func NewProjector(store storage.StatsStore) *Projector {
	return &Projector{store: store}
}

// HandleMessage is a queue.Handler. Events are applied at most once per
// event id, so redelivery is harmless.
func (p *Projector) HandleMessage(ctx context.Context, subject string, data []byte) error {
	kind, eventID, deltas, err := decode(subject, data)
	if err != nil {
		observability.EventsProjected.WithLabelValues(kind, "malformed").Inc()
		return err
	}

	return p.project(ctx, kind, eventID, deltas)
}

func (p *Projector) project(ctx context.Context, kind string, eventID uuid.UUID, deltas []models.StatsDelta) error {
	applied, err := p.store.ApplyStats(ctx, eventID, deltas)
	if err != nil {
		observability.EventsProjected.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("apply %s event %s: %w", kind, eventID, err)
	}
	if !applied {
		observability.EventsProjected.WithLabelValues(kind, "duplicate").Inc()
		slog.Debug("event already projected", "kind", kind, "event_id", eventID)
		return nil
	}
	observability.EventsProjected.WithLabelValues(kind, "applied").Inc()
	return nil
}

func decode(subject string, data []byte) (string, uuid.UUID, []models.StatsDelta, error) {
	switch {
	case strings.HasPrefix(subject, queue.ScoresSubjectBase+"."):
		var ev models.ScoreEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "score", uuid.Nil, nil, fmt.Errorf("decode score event: %w: %w", queue.ErrMalformed, err)
		}
		if ev.EventID == uuid.Nil || ev.SubmitterID == uuid.Nil {
			return "score", uuid.Nil, nil, fmt.Errorf("score event missing ids: %w", queue.ErrMalformed)
		}
		return "score", ev.EventID, ScoreDeltas(ev), nil

	case strings.HasPrefix(subject, queue.MatchesSubjectBase+"."):
		var ev models.MatchEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "match", uuid.Nil, nil, fmt.Errorf("decode match event: %w: %w", queue.ErrMalformed, err)
		}
		if ev.EventID == uuid.Nil || !ev.Result.Valid() {
			return "match", uuid.Nil, nil, fmt.Errorf("match event %s invalid: %w", ev.EventID, queue.ErrMalformed)
		}
		return "match", ev.EventID, MatchDeltas(ev), nil

	default:
		return "unknown", uuid.Nil, nil, fmt.Errorf("unexpected subject %q: %w", subject, queue.ErrMalformed)
	}
}

// ScoreDeltas counts every scored submission for the submitter, including
// ones folded into an existing record.
func ScoreDeltas(ev models.ScoreEvent) []models.StatsDelta {
	return []models.StatsDelta{{
		UserID:      ev.SubmitterID,
		Submissions: 1,
		ScoreSum:    ev.SubmittedScore,
		Highest:     ev.SubmittedScore,
	}}
}

// MatchDeltas records the match for both sides, each from their own view.
func MatchDeltas(ev models.MatchEvent) []models.StatsDelta {
	return []models.StatsDelta{
		resultDelta(ev.ChallengerID, ev.Result),
		resultDelta(ev.OpponentID, ev.Result.Invert()),
	}
}

func resultDelta(user uuid.UUID, r models.MatchResult) models.StatsDelta {
	d := models.StatsDelta{UserID: user, Matches: 1}
	switch r {
	case models.ResultWin:
		d.Won = 1
	case models.ResultLose:
		d.Lost = 1
	case models.ResultTie:
		d.Tied = 1
	}
	return d
}

// PublishScore applies ev in process. The API uses the projector as its
// publisher when no NATS URL is configured.
func (p *Projector) PublishScore(ctx context.Context, ev models.ScoreEvent) error {
	return p.project(ctx, "score", ev.EventID, ScoreDeltas(ev))
}

func (p *Projector) PublishMatch(ctx context.Context, ev models.MatchEvent) error {
	return p.project(ctx, "match", ev.EventID, MatchDeltas(ev))
}
