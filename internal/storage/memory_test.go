package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/models"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func record(owner uuid.UUID, hash string, score float64, vis models.Visibility, at time.Time) *models.ScoreRecord {
	return &models.ScoreRecord{
		ID:          uuid.Must(uuid.NewV7()),
		OwnerID:     owner,
		ContentHash: hash,
		Score:       score,
		Visibility:  vis,
		Provider:    models.ProviderLocal,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func insert(t *testing.T, s *MemoryStore, recs ...*models.ScoreRecord) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		for _, r := range recs {
			if err := tx.InsertScore(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRankGlobalOrdering(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()

	first := record(owner, "a", 80, models.VisibilityPublic, base)
	second := record(owner, "b", 80, models.VisibilityPublic, base)
	top := record(owner, "c", 95, models.VisibilityPublic, base)
	hidden := record(owner, "d", 99, models.VisibilityPrivate, base)
	insert(t, s, first, second, top, hidden)

	items, total, err := s.RankGlobal(context.Background(), Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)

	assert.Equal(t, top.ID, items[0].ID)
	// equal scores fall back to id order, which is insertion order for v7 ids
	assert.Equal(t, first.ID, items[1].ID)
	assert.Equal(t, second.ID, items[2].ID)
	for i, it := range items {
		assert.Equal(t, i+1, it.Rank)
	}
}

func TestRankGlobalPaging(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()
	for i := 0; i < 5; i++ {
		insert(t, s, record(owner, uuid.NewString(), float64(90-i), models.VisibilityPublic, base))
	}

	items, total, err := s.RankGlobal(context.Background(), Page{Number: 2, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Rank)
	assert.Equal(t, 88.0, items[0].Score)
	assert.Equal(t, 4, items[1].Rank)

	items, _, err = s.RankGlobal(context.Background(), Page{Number: 4, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestListByOwner(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()
	other := uuid.New()

	old := record(owner, "a", 50, models.VisibilityPublic, base)
	newer := record(owner, "b", 60, models.VisibilityPrivate, base.Add(time.Minute))
	insert(t, s, old, newer, record(other, "c", 70, models.VisibilityPublic, base))

	items, total, err := s.ListByOwner(context.Background(), owner, Page{Number: 1, Size: 10}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, newer.ID, items[0].ID)
	assert.Equal(t, old.ID, items[1].ID)

	items, total, err = s.ListByOwner(context.Background(), owner, Page{Number: 1, Size: 10}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, old.ID, items[0].ID)
}

func TestLatestPublicFor(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()

	_, err := s.LatestPublicFor(context.Background(), owner)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	insert(t, s,
		record(owner, "a", 50, models.VisibilityPublic, base),
		record(owner, "b", 60, models.VisibilityPublic, base.Add(time.Hour)),
		record(owner, "c", 70, models.VisibilityPrivate, base.Add(2*time.Hour)),
	)
	rec, err := s.LatestPublicFor(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.ContentHash)
}

func TestWithTxRollback(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()
	rec := record(owner, "a", 50, models.VisibilityPublic, base)

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(tx Tx) error {
		require.NoError(t, tx.InsertScore(context.Background(), rec))
		_, err := tx.LockRating(context.Background(), owner, 1500)
		require.NoError(t, err)
		require.NoError(t, tx.SetRating(context.Background(), owner, 1515))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetScore(context.Background(), rec.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rating, err := s.GetRating(context.Background(), owner, 1500)
	require.NoError(t, err)
	assert.Equal(t, 1500, rating.Rating)
}

func TestPublicHashUnique(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, record(uuid.New(), "same", 50, models.VisibilityPublic, base))

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.InsertScore(context.Background(), record(uuid.New(), "same", 60, models.VisibilityPublic, base))
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// private copies are not constrained
	insert(t, s, record(uuid.New(), "same", 60, models.VisibilityPrivate, base))
}

func TestFindByHashScope(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()
	stranger := uuid.New()
	private := record(owner, "p", 40, models.VisibilityPrivate, base)
	insert(t, s, private)

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.FindByHash(context.Background(), "p", Scope{})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		_, err = tx.FindByHash(context.Background(), "p", Scope{PrivateOwner: stranger})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		got, err := tx.FindByHash(context.Background(), "p", Scope{PrivateOwner: owner})
		require.NoError(t, err)
		assert.Equal(t, private.ID, got.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestSimilarCandidates(t *testing.T) {
	s := NewMemoryStore()
	owner := uuid.New()

	grid := func(v uint8) []uint8 {
		g := make([]uint8, 4)
		for i := range g {
			g[i] = v
		}
		return g
	}
	near := record(owner, "near", 50, models.VisibilityPublic, base)
	near.Grid = grid(12)
	nearer := record(owner, "nearer", 50, models.VisibilityPublic, base)
	nearer.Grid = grid(11)
	far := record(owner, "far", 50, models.VisibilityPublic, base)
	far.Grid = grid(200)
	legacy := record(owner, "legacy", 50, models.VisibilityPublic, base)
	insert(t, s, near, nearer, far, legacy)

	err := s.WithTx(context.Background(), func(tx Tx) error {
		got, err := tx.SimilarCandidates(context.Background(), SimilarityProbe{
			Grid:        grid(10),
			MaxDistance: 10,
			MaxHamming:  -1,
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "nearer", got[0].ContentHash)
		assert.Equal(t, "near", got[1].ContentHash)
		assert.Equal(t, "legacy", got[2].ContentHash)
		return nil
	})
	require.NoError(t, err)
}

func TestSimilarCandidatesHammingPrefilter(t *testing.T) {
	s := NewMemoryStore()
	fpA, fpB := uint64(0x0), uint64(0xFF)
	a := record(uuid.New(), "a", 50, models.VisibilityPublic, base)
	a.Grid, a.Fingerprint = []uint8{10}, &fpA
	b := record(uuid.New(), "b", 50, models.VisibilityPublic, base)
	b.Grid, b.Fingerprint = []uint8{10}, &fpB
	insert(t, s, a, b)

	probe := uint64(0x1)
	err := s.WithTx(context.Background(), func(tx Tx) error {
		got, err := tx.SimilarCandidates(context.Background(), SimilarityProbe{
			Grid: []uint8{10}, MaxDistance: 1, Fingerprint: &probe, MaxHamming: 2,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].ContentHash)
		return nil
	})
	require.NoError(t, err)
}

func TestMatchesForUserPerspective(t *testing.T) {
	s := NewMemoryStore()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()

	win := &models.Match{ID: uuid.Must(uuid.NewV7()), ChallengerID: alice, OpponentID: bob,
		Result: models.ResultWin, RatingDelta: 15, MatchedAt: base}
	lose := &models.Match{ID: uuid.Must(uuid.NewV7()), ChallengerID: bob, OpponentID: alice,
		Result: models.ResultLose, RatingDelta: -10, MatchedAt: base.Add(time.Minute)}
	unrelated := &models.Match{ID: uuid.Must(uuid.NewV7()), ChallengerID: bob, OpponentID: carol,
		Result: models.ResultTie, RatingDelta: 3, MatchedAt: base}

	err := s.WithTx(context.Background(), func(tx Tx) error {
		for _, m := range []*models.Match{win, lose, unrelated} {
			if err := tx.InsertMatch(context.Background(), m); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, total, err := s.ListMatchesForUser(context.Background(), alice, MatchFilter{}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, lose.ID, all[0].ID)

	// bob lost as challenger, so alice won both
	wins := models.ResultWin
	got, total, err := s.ListMatchesForUser(context.Background(), alice, MatchFilter{Result: &wins}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)

	got, total, err = s.ListMatchesForUser(context.Background(), bob, MatchFilter{Result: &wins}, Page{Number: 1, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, got)
}

func TestApplyStatsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	user := uuid.New()
	ev := uuid.New()
	deltas := []models.StatsDelta{{UserID: user, Submissions: 1, ScoreSum: 80, Highest: 80}}

	applied, err := s.ApplyStats(context.Background(), ev, deltas)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.ApplyStats(context.Background(), ev, deltas)
	require.NoError(t, err)
	assert.False(t, applied)

	st, err := s.GetStats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Submissions)
	assert.Equal(t, 80.0, st.AvgScore())
}

func TestNewPage(t *testing.T) {
	p, err := NewPage(3, 20)
	require.NoError(t, err)
	assert.Equal(t, 40, p.Offset())

	for _, c := range [][2]int{{0, 10}, {1, 0}, {1, MaxPageSize + 1}} {
		_, err := NewPage(c[0], c[1])
		assert.ErrorIs(t, err, apperr.ErrValidation, "page %v", c)
	}
}
