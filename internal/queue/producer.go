package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facepk/internal/models"
)

const (
	ScoresStreamName   = "SCORES"
	ScoresSubjectBase  = "scores"
	MatchesStreamName  = "MATCHES"
	MatchesSubjectBase = "matches"
)

// Streams lists the JetStream streams the services publish to.
func Streams() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        ScoresStreamName,
			Subjects:    []string{ScoresSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Committed score submissions",
		},
		{
			Name:        MatchesStreamName,
			Subjects:    []string{MatchesSubjectBase + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
			Description: "Resolved matches",
		},
	}
}

func ScoreSubject(ev models.ScoreEvent) string {
	return fmt.Sprintf("%s.%s", ScoresSubjectBase, ev.Outcome)
}

func MatchSubject(ev models.MatchEvent) string {
	return fmt.Sprintf("%s.%s", MatchesSubjectBase, strings.ToLower(string(ev.Result)))
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

// Producer publishes domain events after their transaction commits.
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the streams if they don't exist, retrying while
// NATS is still starting.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		err := ensureAll(ctx, p.js)
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w (after %d attempts)", err, maxAttempts)
		}
		slog.Warn("ensure nats streams, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func ensureAll(ctx context.Context, js jetstream.JetStream) error {
	for _, cfg := range Streams() {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		slog.Info("ensured nats stream", "name", cfg.Name)
	}
	return nil
}

// PublishScore implements scoring.Publisher. The event id doubles as the
// JetStream message id so redelivered publishes are dropped.
func (p *Producer) PublishScore(ctx context.Context, ev models.ScoreEvent) error {
	return p.publish(ctx, ScoreSubject(ev), ev.EventID.String(), ev)
}

// PublishMatch implements match.Publisher.
func (p *Producer) PublishMatch(ctx context.Context, ev models.MatchEvent) error {
	return p.publish(ctx, MatchSubject(ev), ev.EventID.String(), ev)
}

func (p *Producer) publish(ctx context.Context, subject, msgID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *Producer) Ping(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
