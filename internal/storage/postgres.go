package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/config"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
)

//go:embed schema.sql
var schemaSQL string

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"

	defaultCandidateLimit = 50
)

// scoreColumns leaves out the grid; only the similarity probe reads it.
const scoreColumns = `id, owner_id, content_hash, fingerprint, score, feature_blob,
	visibility, provider, image_key, created_at, updated_at`

const scoreColumnsWithGrid = scoreColumns + `, grid::text`

const matchColumns = `id, challenger_id, opponent_id, challenger_score_id, opponent_score_id,
	challenger_score, opponent_score, result, rating_delta, rating_after, matched_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool    *pgxpool.Pool
	retries int
	pgReader
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, retries: cfg.TxRetries, pgReader: pgReader{q: pool}}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction and retries it when Postgres
// reports a serialization failure or deadlock. fn must be safe to rerun.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= s.retries {
			return err
		}
		observability.TxRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return apperr.Internal("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal("commit tx", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// --- Reads shared by the pool and transactions ---

type pgReader struct {
	q querier
}

func (r pgReader) GetScore(ctx context.Context, id uuid.UUID) (*models.ScoreRecord, error) {
	rec, err := scanScore(r.q.QueryRow(ctx, `SELECT `+scoreColumns+` FROM scores WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("score %s", id)
		}
		return nil, apperr.Internal("get score", err)
	}
	return rec, nil
}

func (r pgReader) ListByOwner(ctx context.Context, owner uuid.UUID, page Page, publicOnly bool) ([]models.ScoreRecord, int, error) {
	where := "WHERE owner_id = $1"
	if publicOnly {
		where += " AND visibility = 'public'"
	}

	var total int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM scores "+where, owner).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count scores", err)
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+scoreColumns+` FROM scores `+where+` ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		owner, page.Size, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("list scores", err)
	}
	recs, err := collectScores(rows, scanScore)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (r pgReader) RankGlobal(ctx context.Context, page Page) ([]models.RankedScore, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM scores WHERE visibility = 'public'`).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count ranking", err)
	}

	rows, err := r.q.Query(ctx,
		`SELECT `+scoreColumns+` FROM scores WHERE visibility = 'public'
		 ORDER BY score DESC, id ASC LIMIT $1 OFFSET $2`,
		page.Size, page.Offset())
	if err != nil {
		return nil, 0, apperr.Internal("rank scores", err)
	}
	recs, err := collectScores(rows, scanScore)
	if err != nil {
		return nil, 0, err
	}

	ranked := make([]models.RankedScore, len(recs))
	for i, rec := range recs {
		ranked[i] = models.RankedScore{Rank: page.Offset() + i + 1, ScoreRecord: rec}
	}
	return ranked, total, nil
}

func (r pgReader) LatestPublicFor(ctx context.Context, userID uuid.UUID) (*models.ScoreRecord, error) {
	rec, err := scanScore(r.q.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM scores WHERE owner_id = $1 AND visibility = 'public'
		 ORDER BY created_at DESC, id DESC LIMIT 1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("public score for user %s", userID)
		}
		return nil, apperr.Internal("latest public score", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("match %s", id)
		}
		return nil, apperr.Internal("get match", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMatchesForUser(ctx context.Context, userID uuid.UUID, filter MatchFilter, page Page) ([]models.Match, int, error) {
	where := "WHERE (challenger_id = $1 OR opponent_id = $1)"
	args := []interface{}{userID}
	argIdx := 2

	if filter.Result != nil {
		// the stored result is the challenger's; the opponent sees it inverted
		where += fmt.Sprintf(" AND ((challenger_id = $1 AND result = $%d) OR (opponent_id = $1 AND result = $%d))",
			argIdx, argIdx+1)
		args = append(args, string(*filter.Result), string(filter.Result.Invert()))
		argIdx += 2
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM matches "+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count matches", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM matches %s ORDER BY matched_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		matchColumns, where, argIdx, argIdx+1)
	args = append(args, page.Size, page.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list matches", err)
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan match", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal("list matches", err)
	}
	return matches, total, nil
}

func (s *PostgresStore) GetRating(ctx context.Context, userID uuid.UUID, defaultRating int) (*models.RatingState, error) {
	st := models.RatingState{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT rating, updated_at FROM ratings WHERE user_id = $1`, userID).
		Scan(&st.Rating, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			st.Rating = defaultRating
			return &st, nil
		}
		return nil, apperr.Internal("get rating", err)
	}
	return &st, nil
}

// --- Stats projection ---

func (s *PostgresStore) ApplyStats(ctx context.Context, eventID uuid.UUID, deltas []models.StatsDelta) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, apperr.Internal("begin stats tx", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO processed_events (event_id) VALUES ($1) ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return false, apperr.Internal("record event", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for _, d := range deltas {
		_, err := tx.Exec(ctx,
			`INSERT INTO user_stats (user_id, matches_total, matches_won, matches_lost, matches_tied, submissions, score_sum, highest_score, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			 ON CONFLICT (user_id) DO UPDATE SET
			   matches_total = user_stats.matches_total + EXCLUDED.matches_total,
			   matches_won   = user_stats.matches_won + EXCLUDED.matches_won,
			   matches_lost  = user_stats.matches_lost + EXCLUDED.matches_lost,
			   matches_tied  = user_stats.matches_tied + EXCLUDED.matches_tied,
			   submissions   = user_stats.submissions + EXCLUDED.submissions,
			   score_sum     = user_stats.score_sum + EXCLUDED.score_sum,
			   highest_score = GREATEST(user_stats.highest_score, EXCLUDED.highest_score),
			   updated_at    = now()`,
			d.UserID, d.Matches, d.Won, d.Lost, d.Tied, d.Submissions, d.ScoreSum, d.Highest)
		if err != nil {
			return false, apperr.Internal("upsert stats", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, apperr.Internal("commit stats", err)
	}
	return true, nil
}

func (s *PostgresStore) GetStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	st := models.UserStats{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT matches_total, matches_won, matches_lost, matches_tied, submissions, score_sum, highest_score, updated_at
		 FROM user_stats WHERE user_id = $1`, userID).
		Scan(&st.MatchesTotal, &st.MatchesWon, &st.MatchesLost, &st.MatchesTied,
			&st.Submissions, &st.ScoreSum, &st.HighestScore, &st.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Internal("get stats", err)
	}
	return &st, nil
}

// --- Transaction ---

type pgTx struct {
	pgReader
}

func (t *pgTx) FindByHash(ctx context.Context, hash string, scope Scope) (*models.ScoreRecord, error) {
	// The advisory lock only queues writers of one hash. The snapshot is
	// already fixed by this statement, so a waiter released by a commit
	// still misses that row; scores_public_hash_uq and SSI catch it.
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, hash); err != nil {
		return nil, fmt.Errorf("lock content hash: %w", err)
	}

	rec, err := scanScore(t.q.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM scores
		 WHERE content_hash = $1 AND (visibility = 'public' OR (visibility = 'private' AND owner_id = $2))
		 ORDER BY (visibility = 'public') DESC, id ASC LIMIT 1`,
		hash, scope.PrivateOwner))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("score with hash %s", hash)
		}
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return rec, nil
}

func (t *pgTx) SimilarCandidates(ctx context.Context, probe SimilarityProbe) ([]models.ScoreRecord, error) {
	limit := probe.Limit
	if limit <= 0 {
		limit = defaultCandidateLimit
	}

	var fp *int64
	if probe.Fingerprint != nil {
		v := int64(*probe.Fingerprint)
		fp = &v
	}

	// The distance bound only prefilters; the caller re-checks similarity.
	rows, err := t.q.Query(ctx,
		`SELECT `+scoreColumnsWithGrid+` FROM scores
		 WHERE (visibility = 'public' OR (visibility = 'private' AND owner_id = $1))
		   AND (grid IS NULL OR grid <-> $2 < $3)
		   AND ($4::int < 0 OR fingerprint IS NULL OR $5::bigint IS NULL
		        OR bit_count((fingerprint # $5::bigint)::bit(64)) <= $4::int)
		 ORDER BY grid <-> $2 NULLS LAST, id ASC
		 LIMIT $6`,
		probe.Scope.PrivateOwner, gridVector(probe.Grid), probe.MaxDistance+1, probe.MaxHamming, fp, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar scores: %w", err)
	}
	return collectScores(rows, scanScoreWithGrid)
}

func (t *pgTx) InsertScore(ctx context.Context, rec *models.ScoreRecord) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO scores (id, owner_id, content_hash, fingerprint, grid, score, feature_blob, visibility, provider, image_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OwnerID, rec.ContentHash, fingerprintParam(rec.Fingerprint), gridVector(rec.Grid),
		rec.Score, blobParam(rec.FeatureBlob), string(rec.Visibility), string(rec.Provider), rec.ImageKey,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("public score with hash %s exists", rec.ContentHash)
		}
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateScore(ctx context.Context, rec *models.ScoreRecord) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE scores SET owner_id = $2, content_hash = $3, fingerprint = $4, grid = $5, score = $6,
		   feature_blob = $7, provider = $8, image_key = $9, updated_at = $10
		 WHERE id = $1`,
		rec.ID, rec.OwnerID, rec.ContentHash, fingerprintParam(rec.Fingerprint), gridVector(rec.Grid),
		rec.Score, blobParam(rec.FeatureBlob), string(rec.Provider), rec.ImageKey, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("public score with hash %s exists", rec.ContentHash)
		}
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("score %s", rec.ID)
	}
	return nil
}

func (t *pgTx) LockRating(ctx context.Context, userID uuid.UUID, defaultRating int) (int, error) {
	if _, err := t.q.Exec(ctx,
		`INSERT INTO ratings (user_id, rating) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, defaultRating); err != nil {
		return 0, fmt.Errorf("init rating: %w", err)
	}

	var rating int
	if err := t.q.QueryRow(ctx,
		`SELECT rating FROM ratings WHERE user_id = $1 FOR UPDATE`, userID).Scan(&rating); err != nil {
		return 0, fmt.Errorf("lock rating: %w", err)
	}
	return rating, nil
}

func (t *pgTx) SetRating(ctx context.Context, userID uuid.UUID, rating int) error {
	_, err := t.q.Exec(ctx,
		`UPDATE ratings SET rating = $2, updated_at = now() WHERE user_id = $1`, userID, rating)
	if err != nil {
		return fmt.Errorf("set rating: %w", err)
	}
	return nil
}

func (t *pgTx) InsertMatch(ctx context.Context, m *models.Match) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO matches (`+matchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.ChallengerID, m.OpponentID, m.ChallengerScoreID, m.OpponentScoreID,
		m.ChallengerScore, m.OpponentScore, string(m.Result), m.RatingDelta, m.RatingAfter, m.MatchedAt)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// --- Scanning helpers ---

func scanScore(row pgx.Row) (*models.ScoreRecord, error) {
	return scanScoreRow(row, false)
}

func scanScoreWithGrid(row pgx.Row) (*models.ScoreRecord, error) {
	return scanScoreRow(row, true)
}

func scanScoreRow(row pgx.Row, withGrid bool) (*models.ScoreRecord, error) {
	var (
		rec  models.ScoreRecord
		fp   *int64
		grid *string
		vis  string
		prov string
	)
	dest := []any{&rec.ID, &rec.OwnerID, &rec.ContentHash, &fp, &rec.Score, &rec.FeatureBlob,
		&vis, &prov, &rec.ImageKey, &rec.CreatedAt, &rec.UpdatedAt}
	if withGrid {
		dest = append(dest, &grid)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Visibility = models.Visibility(vis)
	rec.Provider = models.ProviderKind(prov)
	if fp != nil {
		v := uint64(*fp)
		rec.Fingerprint = &v
	}
	if grid != nil {
		g, err := parseGrid(*grid)
		if err != nil {
			return nil, err
		}
		rec.Grid = g
	}
	return &rec, nil
}

func collectScores(rows pgx.Rows, scan func(pgx.Row) (*models.ScoreRecord, error)) ([]models.ScoreRecord, error) {
	defer rows.Close()
	var recs []models.ScoreRecord
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return recs, nil
}

func scanMatch(row pgx.Row) (*models.Match, error) {
	var (
		m      models.Match
		result string
	)
	err := row.Scan(&m.ID, &m.ChallengerID, &m.OpponentID, &m.ChallengerScoreID, &m.OpponentScoreID,
		&m.ChallengerScore, &m.OpponentScore, &result, &m.RatingDelta, &m.RatingAfter, &m.MatchedAt)
	if err != nil {
		return nil, err
	}
	m.Result = models.MatchResult(result)
	return &m, nil
}

func gridVector(grid []uint8) *pgvector.Vector {
	if len(grid) == 0 {
		return nil
	}
	vals := make([]float32, len(grid))
	for i, v := range grid {
		vals[i] = float32(v)
	}
	vec := pgvector.NewVector(vals)
	return &vec
}

func parseGrid(text string) ([]uint8, error) {
	var vec pgvector.Vector
	if err := vec.Scan(strings.TrimSpace(text)); err != nil {
		return nil, fmt.Errorf("parse grid: %w", err)
	}
	vals := vec.Slice()
	grid := make([]uint8, len(vals))
	for i, v := range vals {
		grid[i] = uint8(v + 0.5)
	}
	return grid, nil
}

func fingerprintParam(fp *uint64) *int64 {
	if fp == nil {
		return nil
	}
	v := int64(*fp)
	return &v
}

func blobParam(blob json.RawMessage) json.RawMessage {
	if len(blob) == 0 {
		return json.RawMessage("{}")
	}
	return blob
}
