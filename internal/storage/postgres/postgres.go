package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure Store implements both storage contracts
var (
	_ storage.Repository       = (*Store)(nil)
	_ storage.TranslationCache = (*Store)(nil)
)

const uniqueViolation = "23505"

// Store is the Postgres-backed repository and translation cache.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS search_sessions (
	id TEXT PRIMARY KEY,
	original_query TEXT NOT NULL,
	criteria TEXT NOT NULL DEFAULT '',
	languages TEXT[] NOT NULL,
	status TEXT NOT NULL,
	total_results INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS search_results (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	session_id TEXT NOT NULL REFERENCES search_sessions(id) ON DELETE CASCADE,
	language TEXT NOT NULL,
	translated_query TEXT NOT NULL,
	search_engine TEXT NOT NULL,
	rank INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	dedupe_key TEXT NOT NULL,
	download_status TEXT NOT NULL,
	failure_reason TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	file_type TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	relevance_score DOUBLE PRECISION,
	relevance_summary TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, dedupe_key)
);

CREATE TABLE IF NOT EXISTS translation_cache (
	source_text TEXT NOT NULL,
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_text, source_language, target_language)
);
`

// New connects to Postgres and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) CreateSession(ctx context.Context, query, criteria string, languages []string) (*storage.Session, error) {
	now := time.Now().UTC()
	sess := &storage.Session{
		ID:        uuid.New().String(),
		Query:     query,
		Criteria:  criteria,
		Languages: append([]string(nil), languages...),
		Status:    storage.SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.pool.Exec(ctx, `
	INSERT INTO search_sessions (id, original_query, criteria, languages, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.Query, sess.Criteria, sess.Languages, string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, update storage.SessionUpdate) error {
	tag, err := s.pool.Exec(ctx, `
	UPDATE search_sessions SET
		status = COALESCE(NULLIF($1, ''), status),
		total_results = $2,
		storage_path = COALESCE(NULLIF($3, ''), storage_path),
		error = COALESCE(NULLIF($4, ''), error),
		updated_at = $5
	WHERE id = $6`,
		string(update.Status), update.TotalResults, update.StoragePath, update.Error, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveResult(ctx context.Context, r *storage.Result) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = storage.StatusPending
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
	INSERT INTO search_results (
		id, session_id, language, translated_query, search_engine, rank, url, title, snippet,
		dedupe_key, download_status, failure_reason, file_path, file_type, file_size, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.ID, r.SessionID, r.Language, r.TranslatedQuery, r.Engine, r.Rank, r.URL, r.Title, r.Snippet,
		r.DedupeKey, string(r.Status), r.FailureReason, r.FilePath, r.FileType, r.FileSize, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", r.DedupeKey, storage.ErrDuplicateResult)
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) UpdateResultStatus(ctx context.Context, resultID string, status storage.DownloadStatus, update storage.ResultUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `SELECT download_status FROM search_results WHERE id = $1 FOR UPDATE`, resultID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("result %s: %w", resultID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load result status: %w", err)
	}
	if err := storage.CheckTransition(storage.DownloadStatus(current), status); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
	UPDATE search_results SET
		download_status = $1,
		failure_reason = COALESCE(NULLIF($2, ''), failure_reason),
		file_path = COALESCE(NULLIF($3, ''), file_path),
		file_type = COALESCE(NULLIF($4, ''), file_type),
		file_size = COALESCE(NULLIF($5::BIGINT, 0), file_size),
		updated_at = $6
	WHERE id = $7`,
		string(status), update.FailureReason, update.FilePath, update.FileType, update.FileSize, time.Now().UTC(), resultID,
	)
	if err != nil {
		return fmt.Errorf("update result status: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) SetResultScore(ctx context.Context, resultID string, score float64, summary string) error {
	tag, err := s.pool.Exec(ctx, `
	UPDATE search_results SET relevance_score = $1, relevance_summary = $2, updated_at = $3 WHERE id = $4`,
		score, summary, time.Now().UTC(), resultID,
	)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("result %s: %w", resultID, storage.ErrNotFound)
	}
	return nil
}

const sessionColumns = `id, original_query, criteria, languages, status, total_results, storage_path, error, created_at, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM search_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
	SELECT id, session_id, language, translated_query, search_engine, rank, url, title, snippet, dedupe_key,
		download_status, failure_reason, file_path, file_type, file_size, relevance_score, relevance_summary,
		created_at, updated_at
	FROM search_results WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r storage.Result
		var status string
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Language, &r.TranslatedQuery, &r.Engine, &r.Rank, &r.URL, &r.Title, &r.Snippet,
			&r.DedupeKey, &status, &r.FailureReason, &r.FilePath, &r.FileType, &r.FileSize, &r.Score, &r.Summary,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = storage.DownloadStatus(status)
		sess.Results = append(sess.Results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*storage.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM search_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*storage.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) GetTranslation(ctx context.Context, key storage.TranslationKey) (*storage.TranslationCacheEntry, error) {
	entry := storage.TranslationCacheEntry{TranslationKey: key}
	err := s.pool.QueryRow(ctx, `
	SELECT translated_text, created_at FROM translation_cache
	WHERE source_text = $1 AND source_language = $2 AND target_language = $3`,
		key.SourceText, key.SourceLanguage, key.TargetLanguage,
	).Scan(&entry.TranslatedText, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup translation: %w", err)
	}
	return &entry, nil
}

func (s *Store) PutTranslation(ctx context.Context, entry storage.TranslationCacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
	INSERT INTO translation_cache (source_text, source_language, target_language, translated_text, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (source_text, source_language, target_language)
	DO UPDATE SET translated_text = EXCLUDED.translated_text, created_at = EXCLUDED.created_at`,
		entry.SourceText, entry.SourceLanguage, entry.TargetLanguage, entry.TranslatedText, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store translation: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSession(row pgx.Row) (*storage.Session, error) {
	var sess storage.Session
	var status string
	err := row.Scan(
		&sess.ID, &sess.Query, &sess.Criteria, &sess.Languages, &status, &sess.TotalResults,
		&sess.StoragePath, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = storage.SessionStatus(status)
	return &sess, nil
}
