package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
)

// MemoryStore keeps everything in process. Transactions are serialised by a
// single writer lock and roll back by restoring a snapshot.
type MemoryStore struct {
	mu sync.RWMutex
	st *memState

	statsMu   sync.Mutex
	stats     map[uuid.UUID]models.UserStats
	processed map[uuid.UUID]struct{}
}

type memState struct {
	scores  map[uuid.UUID]models.ScoreRecord
	ratings map[uuid.UUID]models.RatingState
	matches map[uuid.UUID]models.Match
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		st: &memState{
			scores:  make(map[uuid.UUID]models.ScoreRecord),
			ratings: make(map[uuid.UUID]models.RatingState),
			matches: make(map[uuid.UUID]models.Match),
		},
		stats:     make(map[uuid.UUID]models.UserStats),
		processed: make(map[uuid.UUID]struct{}),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		scores:  make(map[uuid.UUID]models.ScoreRecord, len(st.scores)),
		ratings: make(map[uuid.UUID]models.RatingState, len(st.ratings)),
		matches: make(map[uuid.UUID]models.Match, len(st.matches)),
	}
	for k, v := range st.scores {
		c.scores[k] = v
	}
	for k, v := range st.ratings {
		c.ratings[k] = v
	}
	for k, v := range st.matches {
		c.matches[k] = v
	}
	return c
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) GetScore(ctx context.Context, id uuid.UUID) (*models.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.getScore(id)
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner uuid.UUID, page Page, publicOnly bool) ([]models.ScoreRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.listByOwner(owner, page, publicOnly)
}

func (s *MemoryStore) RankGlobal(ctx context.Context, page Page) ([]models.RankedScore, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.rankGlobal(page)
}

func (s *MemoryStore) LatestPublicFor(ctx context.Context, userID uuid.UUID) (*models.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.latestPublicFor(userID)
}

func (s *MemoryStore) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.st.matches[id]
	if !ok {
		return nil, apperr.NotFound("match %s", id)
	}
	return &m, nil
}

func (s *MemoryStore) ListMatchesForUser(ctx context.Context, userID uuid.UUID, filter MatchFilter, page Page) ([]models.Match, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []models.Match
	for _, m := range s.st.matches {
		if m.ChallengerID != userID && m.OpponentID != userID {
			continue
		}
		if filter.Result != nil {
			if res, _ := m.Perspective(userID); res != *filter.Result {
				continue
			}
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].MatchedAt.Equal(all[j].MatchedAt) {
			return all[i].MatchedAt.After(all[j].MatchedAt)
		}
		return bytes.Compare(all[i].ID[:], all[j].ID[:]) > 0
	})
	return paginate(all, page), len(all), nil
}

func (s *MemoryStore) GetRating(ctx context.Context, userID uuid.UUID, defaultRating int) (*models.RatingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.st.ratings[userID]; ok {
		return &r, nil
	}
	return &models.RatingState{UserID: userID, Rating: defaultRating}, nil
}

func (s *MemoryStore) ApplyStats(ctx context.Context, eventID uuid.UUID, deltas []models.StatsDelta) (bool, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if _, seen := s.processed[eventID]; seen {
		return false, nil
	}
	now := time.Now().UTC()
	for _, d := range deltas {
		cur := s.stats[d.UserID]
		cur.UserID = d.UserID
		cur.Apply(d)
		cur.UpdatedAt = now
		s.stats[d.UserID] = cur
	}
	s.processed[eventID] = struct{}{}
	return true, nil
}

func (s *MemoryStore) GetStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats[userID]
	st.UserID = userID
	return &st, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

type memTx struct {
	st *memState
}

func (t *memTx) GetScore(ctx context.Context, id uuid.UUID) (*models.ScoreRecord, error) {
	return t.st.getScore(id)
}

func (t *memTx) ListByOwner(ctx context.Context, owner uuid.UUID, page Page, publicOnly bool) ([]models.ScoreRecord, int, error) {
	return t.st.listByOwner(owner, page, publicOnly)
}

func (t *memTx) RankGlobal(ctx context.Context, page Page) ([]models.RankedScore, int, error) {
	return t.st.rankGlobal(page)
}

func (t *memTx) LatestPublicFor(ctx context.Context, userID uuid.UUID) (*models.ScoreRecord, error) {
	return t.st.latestPublicFor(userID)
}

func (t *memTx) FindByHash(ctx context.Context, hash string, scope Scope) (*models.ScoreRecord, error) {
	var found *models.ScoreRecord
	for _, r := range t.st.scores {
		if r.ContentHash != hash || !scope.covers(&r) {
			continue
		}
		// public wins over the submitter's own private copy
		if found == nil || (r.IsPublic() && !found.IsPublic()) {
			rec := r
			found = &rec
		}
	}
	if found == nil {
		return nil, apperr.NotFound("score with hash %s", hash)
	}
	return found, nil
}

func (t *memTx) SimilarCandidates(ctx context.Context, probe SimilarityProbe) ([]models.ScoreRecord, error) {
	type candidate struct {
		rec  models.ScoreRecord
		dist float64
	}
	var out []candidate
	for _, r := range t.st.scores {
		if !probe.Scope.covers(&r) {
			continue
		}
		if probe.MaxHamming >= 0 && probe.Fingerprint != nil && r.Fingerprint != nil &&
			fingerprint.HammingDistance(*probe.Fingerprint, *r.Fingerprint) > probe.MaxHamming {
			continue
		}
		if len(r.Grid) == 0 {
			out = append(out, candidate{rec: r, dist: -1})
			continue
		}
		dist, err := fingerprint.Distance(probe.Grid, r.Grid)
		if err != nil || dist >= probe.MaxDistance {
			continue
		}
		out = append(out, candidate{rec: r, dist: dist})
	}
	sort.Slice(out, func(i, j int) bool {
		// records without a grid go last
		di, dj := out[i].dist, out[j].dist
		if (di < 0) != (dj < 0) {
			return dj < 0
		}
		if di != dj {
			return di < dj
		}
		return bytes.Compare(out[i].rec.ID[:], out[j].rec.ID[:]) < 0
	})

	recs := make([]models.ScoreRecord, 0, len(out))
	for _, c := range out {
		if probe.Limit > 0 && len(recs) == probe.Limit {
			break
		}
		recs = append(recs, c.rec)
	}
	return recs, nil
}

func (t *memTx) InsertScore(ctx context.Context, rec *models.ScoreRecord) error {
	if _, exists := t.st.scores[rec.ID]; exists {
		return apperr.Conflict("score %s already exists", rec.ID)
	}
	if err := t.checkPublicHash(rec); err != nil {
		return err
	}
	t.st.scores[rec.ID] = *rec
	return nil
}

func (t *memTx) UpdateScore(ctx context.Context, rec *models.ScoreRecord) error {
	if _, exists := t.st.scores[rec.ID]; !exists {
		return apperr.NotFound("score %s", rec.ID)
	}
	if err := t.checkPublicHash(rec); err != nil {
		return err
	}
	t.st.scores[rec.ID] = *rec
	return nil
}

func (t *memTx) checkPublicHash(rec *models.ScoreRecord) error {
	if !rec.IsPublic() {
		return nil
	}
	for id, r := range t.st.scores {
		if id != rec.ID && r.IsPublic() && r.ContentHash == rec.ContentHash {
			return apperr.Conflict("public score with hash %s exists", rec.ContentHash)
		}
	}
	return nil
}

func (t *memTx) LockRating(ctx context.Context, userID uuid.UUID, defaultRating int) (int, error) {
	r, ok := t.st.ratings[userID]
	if !ok {
		r = models.RatingState{UserID: userID, Rating: defaultRating, UpdatedAt: time.Now().UTC()}
		t.st.ratings[userID] = r
	}
	return r.Rating, nil
}

func (t *memTx) SetRating(ctx context.Context, userID uuid.UUID, rating int) error {
	t.st.ratings[userID] = models.RatingState{UserID: userID, Rating: rating, UpdatedAt: time.Now().UTC()}
	return nil
}

func (t *memTx) InsertMatch(ctx context.Context, m *models.Match) error {
	if _, exists := t.st.matches[m.ID]; exists {
		return apperr.Conflict("match %s already exists", m.ID)
	}
	t.st.matches[m.ID] = *m
	return nil
}

func (sc Scope) covers(r *models.ScoreRecord) bool {
	if r.IsPublic() {
		return true
	}
	return sc.PrivateOwner != uuid.Nil && r.OwnerID == sc.PrivateOwner
}

func (st *memState) getScore(id uuid.UUID) (*models.ScoreRecord, error) {
	r, ok := st.scores[id]
	if !ok {
		return nil, apperr.NotFound("score %s", id)
	}
	return &r, nil
}

func (st *memState) listByOwner(owner uuid.UUID, page Page, publicOnly bool) ([]models.ScoreRecord, int, error) {
	var all []models.ScoreRecord
	for _, r := range st.scores {
		if r.OwnerID != owner || (publicOnly && !r.IsPublic()) {
			continue
		}
		all = append(all, r)
	}
	sortNewestFirst(all)
	return paginate(all, page), len(all), nil
}

func (st *memState) rankGlobal(page Page) ([]models.RankedScore, int, error) {
	var public []models.ScoreRecord
	for _, r := range st.scores {
		if r.IsPublic() {
			public = append(public, r)
		}
	}
	sort.Slice(public, func(i, j int) bool {
		if public[i].Score != public[j].Score {
			return public[i].Score > public[j].Score
		}
		return bytes.Compare(public[i].ID[:], public[j].ID[:]) < 0
	})

	items := paginate(public, page)
	ranked := make([]models.RankedScore, len(items))
	for i, r := range items {
		ranked[i] = models.RankedScore{Rank: page.Offset() + i + 1, ScoreRecord: r}
	}
	return ranked, len(public), nil
}

func (st *memState) latestPublicFor(userID uuid.UUID) (*models.ScoreRecord, error) {
	var mine []models.ScoreRecord
	for _, r := range st.scores {
		if r.OwnerID == userID && r.IsPublic() {
			mine = append(mine, r)
		}
	}
	if len(mine) == 0 {
		return nil, apperr.NotFound("public score for user %s", userID)
	}
	sortNewestFirst(mine)
	return &mine[0], nil
}

func sortNewestFirst(recs []models.ScoreRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return bytes.Compare(recs[i].ID[:], recs[j].ID[:]) > 0
	})
}

func paginate[T any](all []T, page Page) []T {
	start := page.Offset()
	if start < 0 || start >= len(all) {
		return []T{}
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
