package queue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/facepk/internal/models"
)

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	acked   bool
	naked   bool
	termed  bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }
func (m *fakeMsg) Term() error     { m.termed = true; return nil }

func TestDispatch(t *testing.T) {
	tests := []struct {
		name               string
		err                error
		acked, naked, term bool
	}{
		{name: "ok", acked: true},
		{name: "transient", err: errors.New("db down"), naked: true},
		{name: "malformed", err: fmt.Errorf("decode: %w", ErrMalformed), term: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMsg{subject: "scores.created", data: []byte(`{}`)}
			var gotSubject string
			dispatch(context.Background(), func(ctx context.Context, subject string, data []byte) error {
				gotSubject = subject
				return tt.err
			}, msg, 0)

			assert.Equal(t, "scores.created", gotSubject)
			assert.Equal(t, tt.acked, msg.acked)
			assert.Equal(t, tt.naked, msg.naked)
			assert.Equal(t, tt.term, msg.termed)
		})
	}
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "scores.replaced", ScoreSubject(models.ScoreEvent{EventID: uuid.New(), Outcome: "replaced"}))
	assert.Equal(t, "matches.win", MatchSubject(models.MatchEvent{Result: models.ResultWin}))
}

func TestStreamsCoverSubjects(t *testing.T) {
	streams := Streams()
	assert.Len(t, streams, 2)
	for _, s := range streams {
		assert.NotEmpty(t, s.Duplicates, s.Name)
	}
	assert.Equal(t, []string{"scores.>"}, streams[0].Subjects)
	assert.Equal(t, []string{"matches.>"}, streams[1].Subjects)
}

type fakeBatch struct {
	msgs chan jetstream.Msg
	err  error
}

func newFakeBatch(err error, msgs ...jetstream.Msg) *fakeBatch {
	b := &fakeBatch{msgs: make(chan jetstream.Msg, len(msgs)), err: err}
	for _, m := range msgs {
		b.msgs <- m
	}
	close(b.msgs)
	return b
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.msgs }
func (b *fakeBatch) Error() error                   { return b.err }

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestDrainBatchLogsBatchError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		logged bool
	}{
		{name: "clean", err: nil},
		{name: "expired", err: nats.ErrTimeout},
		{name: "cut short", err: errors.New("connection closed"), logged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			out := make(chan jetstream.Msg, 2)
			batch := newFakeBatch(tt.err, &fakeMsg{subject: "scores.created"}, &fakeMsg{subject: "matches.tie"})

			assert.True(t, drainBatch(context.Background(), batch, out))
			assert.Len(t, out, 2)
			assert.Equal(t, tt.logged, bytes.Contains(logs.Bytes(), []byte("fetch batch ended early")))
		})
	}
}

func TestDrainBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan jetstream.Msg)
	batch := newFakeBatch(errors.New("connection closed"), &fakeMsg{subject: "scores.created"})
	logs := captureLogs(t)

	assert.False(t, drainBatch(ctx, batch, out))
	assert.NotContains(t, logs.String(), "fetch batch ended early")
}
