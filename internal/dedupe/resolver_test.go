package dedupe

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/internal/testutil"
)

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	store *storage.MemoryStore
	blobs *storage.MemoryBlobStore
	res   *Resolver
	tick  int
}

func newHarness(opts ...Option) *harness {
	h := &harness{store: storage.NewMemoryStore(), blobs: storage.NewMemoryBlobStore()}
	opts = append([]Option{
		WithSourceLoader(h.blobs),
		WithClock(func() time.Time {
			h.tick++
			return t0.Add(time.Duration(h.tick) * time.Second)
		}),
	}, opts...)
	h.res = NewResolver(opts...)
	return h
}

func (h *harness) submit(t *testing.T, owner uuid.UUID, raw []byte, score float64, vis models.Visibility) *Resolution {
	t.Helper()
	var out *Resolution
	err := h.store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = h.res.Resolve(context.Background(), tx, Submission{
			OwnerID:     owner,
			Identity:    fingerprint.Compute(raw),
			Score:       score,
			FeatureBlob: json.RawMessage(`{"score":` + jsonNumber(score) + `}`),
			Visibility:  vis,
			Provider:    models.ProviderLocal,
			ImageKey:    uuid.NewString(),
		})
		return err
	})
	require.NoError(t, err)
	return out
}

func (h *harness) publicCount(t *testing.T) int {
	t.Helper()
	_, total, err := h.store.RankGlobal(context.Background(), storage.Page{Number: 1, Size: 100})
	require.NoError(t, err)
	return total
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestCreateWhenNothingMatches(t *testing.T) {
	h := newHarness()
	owner := uuid.New()

	res := h.submit(t, owner, testutil.SolidPNG(t, 32, 32, 10), 70, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, owner, res.Record.OwnerID)
	assert.Equal(t, 70.0, res.Record.Score)
	assert.NotNil(t, res.Record.Fingerprint)
	assert.Len(t, res.Record.Grid, fingerprint.GridSize*fingerprint.GridSize)

	res = h.submit(t, owner, testutil.SolidPNG(t, 32, 32, 200), 60, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, h.publicCount(t))
}

func TestExactDuplicate(t *testing.T) {
	raw := testutil.SolidPNG(t, 32, 32, 50)
	tests := []struct {
		name    string
		second  float64
		outcome Outcome
		score   float64
	}{
		{"lower score discarded", 60, OutcomeDiscarded, 75},
		{"equal score discarded", 75, OutcomeDiscarded, 75},
		{"higher score replaces", 90, OutcomeReplaced, 90},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			first, second := uuid.New(), uuid.New()

			orig := h.submit(t, first, raw, 75, models.VisibilityPublic)
			res := h.submit(t, second, raw, tc.second, models.VisibilityPublic)

			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, orig.Record.ID, res.Record.ID)
			assert.Equal(t, 1.0, res.Similarity)
			assert.Equal(t, 1, h.publicCount(t))

			stored, err := h.store.GetScore(context.Background(), orig.Record.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.score, stored.Score)
			if tc.outcome == OutcomeReplaced {
				assert.Equal(t, second, stored.OwnerID)
				assert.Equal(t, first, res.PreviousOwner)
				assert.Equal(t, orig.Record.ImageKey, res.ReplacedImageKey)
				assert.True(t, stored.UpdatedAt.After(orig.Record.UpdatedAt))
				assert.Equal(t, orig.Record.CreatedAt, stored.CreatedAt)
				assert.JSONEq(t, `{"score":90}`, string(stored.FeatureBlob))
			} else {
				assert.Equal(t, first, stored.OwnerID)
				assert.Equal(t, orig.Record.UpdatedAt, stored.UpdatedAt)
			}
		})
	}
}

func TestNearDuplicateReplacesInPlace(t *testing.T) {
	h := newHarness()
	orig := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 100), 50, models.VisibilityPublic)

	// different bytes and size, visually the same
	near := testutil.SolidPNG(t, 64, 48, 110)
	res := h.submit(t, uuid.New(), near, 80, models.VisibilityPublic)

	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, orig.Record.ID, res.Record.ID)
	assert.Greater(t, res.Similarity, fingerprint.DefaultSimilarityThreshold)
	assert.Less(t, res.Similarity, 1.0)
	assert.Equal(t, fingerprint.ContentHash(near), res.Record.ContentHash)
	assert.Equal(t, 1, h.publicCount(t))
}

func TestNearDuplicateLowerDiscarded(t *testing.T) {
	h := newHarness()
	orig := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 100), 50, models.VisibilityPublic)
	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 105), 40, models.VisibilityPublic)

	assert.Equal(t, OutcomeDiscarded, res.Outcome)
	assert.Equal(t, orig.Record, res.Record)
}

func TestBelowThresholdIsDistinct(t *testing.T) {
	h := newHarness()
	h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 0), 50, models.VisibilityPublic)
	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 60), 80, models.VisibilityPublic)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 2, h.publicCount(t))
}

func TestMostSimilarCandidateWins(t *testing.T) {
	h := newHarness()
	a := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 100), 30, models.VisibilityPublic)
	// seed a second record directly so both sit inside the threshold
	b := models.ScoreRecord{
		ID: uuid.Must(uuid.NewV7()), OwnerID: uuid.New(), ContentHash: "other",
		Grid: fingerprint.Compute(testutil.SolidPNG(t, 40, 40, 120)).Grid,
		Score: 30, Visibility: models.VisibilityPublic, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, h.store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertScore(context.Background(), &b)
	}))

	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 104), 60, models.VisibilityPublic)
	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, a.Record.ID, res.Record.ID)
}

func TestUndecodableFallsBackToExactMatch(t *testing.T) {
	h := newHarness()
	owner := uuid.New()
	junk := []byte("not an image at all")

	first := h.submit(t, owner, junk, 40, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, first.Outcome)
	assert.Nil(t, first.Record.Fingerprint)
	assert.Nil(t, first.Record.Grid)

	again := h.submit(t, owner, junk, 45, models.VisibilityPublic)
	assert.Equal(t, OutcomeReplaced, again.Outcome)
	assert.Equal(t, first.Record.ID, again.Record.ID)

	other := h.submit(t, owner, []byte("different junk"), 45, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, other.Outcome)
}

func TestLegacyRecordComparedFromSource(t *testing.T) {
	h := newHarness()
	src := testutil.SolidPNG(t, 40, 40, 100)
	require.NoError(t, h.blobs.PutObject(context.Background(), "legacy.png", src, "image/png"))

	legacy := models.ScoreRecord{
		ID: uuid.Must(uuid.NewV7()), OwnerID: uuid.New(), ContentHash: "legacy-md5",
		Score: 50, Visibility: models.VisibilityPublic, ImageKey: "legacy.png",
		CreatedAt: t0, UpdatedAt: t0,
	}
	broken := models.ScoreRecord{
		ID: uuid.Must(uuid.NewV7()), OwnerID: uuid.New(), ContentHash: "broken-md5",
		Score: 50, Visibility: models.VisibilityPublic, ImageKey: "missing.png",
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, h.store.WithTx(context.Background(), func(tx storage.Tx) error {
		if err := tx.InsertScore(context.Background(), &legacy); err != nil {
			return err
		}
		return tx.InsertScore(context.Background(), &broken)
	}))

	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 50, 50, 102), 70, models.VisibilityPublic)
	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, legacy.ID, res.Record.ID)
	// the replacement carries a grid from now on
	assert.NotEmpty(t, res.Record.Grid)
}

func TestLegacyRecordWithoutSourceIsSkipped(t *testing.T) {
	h := newHarness()
	broken := models.ScoreRecord{
		ID: uuid.Must(uuid.NewV7()), OwnerID: uuid.New(), ContentHash: "broken-md5",
		Score: 50, Visibility: models.VisibilityPublic, ImageKey: "missing.png",
		CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, h.store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertScore(context.Background(), &broken)
	}))

	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 50, 50, 102), 70, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestPrivateSubmissions(t *testing.T) {
	h := newHarness()
	alice, bob := uuid.New(), uuid.New()
	raw := testutil.SolidPNG(t, 32, 32, 33)

	first := h.submit(t, alice, raw, 60, models.VisibilityPrivate)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	// same owner, same bytes: folded into the existing private record
	again := h.submit(t, alice, raw, 50, models.VisibilityPrivate)
	assert.Equal(t, OutcomeDiscarded, again.Outcome)
	assert.Equal(t, first.Record.ID, again.Record.ID)

	// another user's private copy is never merged into alice's
	other := h.submit(t, bob, raw, 70, models.VisibilityPrivate)
	assert.Equal(t, OutcomeCreated, other.Outcome)

	// a public submission ignores private records
	pub := h.submit(t, bob, raw, 40, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, pub.Outcome)
	assert.Equal(t, 1, h.publicCount(t))
}

func TestPrivateSubmissionFoldsIntoPublicRecord(t *testing.T) {
	h := newHarness()
	raw := testutil.SolidPNG(t, 32, 32, 200)
	pub := h.submit(t, uuid.New(), raw, 60, models.VisibilityPublic)

	res := h.submit(t, uuid.New(), raw, 80, models.VisibilityPrivate)
	assert.Equal(t, OutcomeReplaced, res.Outcome)
	assert.Equal(t, pub.Record.ID, res.Record.ID)
	assert.Equal(t, models.VisibilityPublic, res.Record.Visibility)
}

func TestMaxHammingPrefilter(t *testing.T) {
	h := newHarness(WithMaxHamming(0))
	h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 100), 50, models.VisibilityPublic)

	// uniform images share the all-ones fingerprint, so the prefilter passes
	res := h.submit(t, uuid.New(), testutil.SolidPNG(t, 40, 40, 110), 60, models.VisibilityPublic)
	assert.Equal(t, OutcomeReplaced, res.Outcome)

	// the split image has a different fingerprint and is never compared
	res = h.submit(t, uuid.New(), testutil.SplitPNG(t, 40, 40, 100, 115), 70, models.VisibilityPublic)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestDuplicateInvariantHolds(t *testing.T) {
	h := newHarness()
	raw := testutil.SolidPNG(t, 32, 32, 77)
	scores := []float64{40, 90, 10, 55, 90, 89.9}

	var id uuid.UUID
	for i, s := range scores {
		res := h.submit(t, uuid.New(), raw, s, models.VisibilityPublic)
		if i == 0 {
			id = res.Record.ID
		}
		assert.Equal(t, id, res.Record.ID)
	}

	rec, err := h.store.GetScore(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 90.0, rec.Score)
	assert.Equal(t, 1, h.publicCount(t))
}
