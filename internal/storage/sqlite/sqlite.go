package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ensure Store implements both storage contracts
var (
	_ storage.Repository       = (*Store)(nil)
	_ storage.TranslationCache = (*Store)(nil)
)

// Store is the SQLite-backed repository and translation cache.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_sessions (
	id TEXT PRIMARY KEY,
	original_query TEXT NOT NULL,
	criteria TEXT NOT NULL DEFAULT '',
	languages TEXT NOT NULL,
	status TEXT NOT NULL,
	total_results INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS search_results (
	id TEXT PRIMARY KEY,
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
	file_size INTEGER NOT NULL DEFAULT 0,
	relevance_score REAL,
	relevance_summary TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (session_id, dedupe_key)
);

CREATE TABLE IF NOT EXISTS translation_cache (
	source_text TEXT NOT NULL,
	source_language TEXT NOT NULL,
	target_language TEXT NOT NULL,
	translated_text TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (source_text, source_language, target_language)
);
`

// New opens (or creates) the SQLite database at dsn and applies the schema.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent result updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, query, criteria string, languages []string) (*storage.Session, error) {
	langsJSON, err := json.Marshal(languages)
	if err != nil {
		return nil, fmt.Errorf("marshal languages: %w", err)
	}

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

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO search_sessions (id, original_query, criteria, languages, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Query, sess.Criteria, string(langsJSON), string(sess.Status), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, id string, update storage.SessionUpdate) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE search_sessions SET
		status = CASE WHEN ? = '' THEN status ELSE ? END,
		total_results = ?,
		storage_path = CASE WHEN ? = '' THEN storage_path ELSE ? END,
		error = CASE WHEN ? = '' THEN error ELSE ? END,
		updated_at = ?
	WHERE id = ?`,
		string(update.Status), string(update.Status),
		update.TotalResults,
		update.StoragePath, update.StoragePath,
		update.Error, update.Error,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRow(res, "session", id)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM search_results WHERE session_id = ? AND dedupe_key = ?`, r.SessionID, r.DedupeKey).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check dedupe key: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%s: %w", r.DedupeKey, storage.ErrDuplicateResult)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO search_results (
		id, session_id, language, translated_query, search_engine, rank, url, title, snippet,
		dedupe_key, download_status, failure_reason, file_path, file_type, file_size, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Language, r.TranslatedQuery, r.Engine, r.Rank, r.URL, r.Title, r.Snippet,
		r.DedupeKey, string(r.Status), r.FailureReason, r.FilePath, r.FileType, r.FileSize, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return tx.Commit()
}

func (s *Store) UpdateResultStatus(ctx context.Context, resultID string, status storage.DownloadStatus, update storage.ResultUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT download_status FROM search_results WHERE id = ?`, resultID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("result %s: %w", resultID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load result status: %w", err)
	}
	if err := storage.CheckTransition(storage.DownloadStatus(current), status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	UPDATE search_results SET
		download_status = ?,
		failure_reason = CASE WHEN ? = '' THEN failure_reason ELSE ? END,
		file_path = CASE WHEN ? = '' THEN file_path ELSE ? END,
		file_type = CASE WHEN ? = '' THEN file_type ELSE ? END,
		file_size = CASE WHEN ? = 0 THEN file_size ELSE ? END,
		updated_at = ?
	WHERE id = ?`,
		string(status),
		update.FailureReason, update.FailureReason,
		update.FilePath, update.FilePath,
		update.FileType, update.FileType,
		update.FileSize, update.FileSize,
		time.Now().UTC(), resultID,
	)
	if err != nil {
		return fmt.Errorf("update result status: %w", err)
	}
	return tx.Commit()
}

func (s *Store) SetResultScore(ctx context.Context, resultID string, score float64, summary string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE search_results SET relevance_score = ?, relevance_summary = ?, updated_at = ? WHERE id = ?`,
		score, summary, time.Now().UTC(), resultID,
	)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return requireRow(res, "result", resultID)
}

const sessionColumns = `id, original_query, criteria, languages, status, total_results, storage_path, error, created_at, updated_at`

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM search_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, session_id, language, translated_query, search_engine, rank, url, title, snippet, dedupe_key,
		download_status, failure_reason, file_path, file_type, file_size, relevance_score, relevance_summary,
		created_at, updated_at
	FROM search_results WHERE session_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r storage.Result
		var status string
		var score sql.NullFloat64
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Language, &r.TranslatedQuery, &r.Engine, &r.Rank, &r.URL, &r.Title, &r.Snippet,
			&r.DedupeKey, &status, &r.FailureReason, &r.FilePath, &r.FileType, &r.FileSize, &score, &r.Summary,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = storage.DownloadStatus(status)
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		sess.Results = append(sess.Results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*storage.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM search_sessions ORDER BY created_at DESC`)
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
	err := s.db.QueryRowContext(ctx, `
	SELECT translated_text, created_at FROM translation_cache
	WHERE source_text = ? AND source_language = ? AND target_language = ?`,
		key.SourceText, key.SourceLanguage, key.TargetLanguage,
	).Scan(&entry.TranslatedText, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO translation_cache (source_text, source_language, target_language, translated_text, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (source_text, source_language, target_language)
	DO UPDATE SET translated_text = excluded.translated_text, created_at = excluded.created_at`,
		entry.SourceText, entry.SourceLanguage, entry.TargetLanguage, entry.TranslatedText, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store translation: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*storage.Session, error) {
	var sess storage.Session
	var langsJSON, status string
	err := row.Scan(
		&sess.ID, &sess.Query, &sess.Criteria, &langsJSON, &status, &sess.TotalResults,
		&sess.StoragePath, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.Status = storage.SessionStatus(status)
	if err := json.Unmarshal([]byte(langsJSON), &sess.Languages); err != nil {
		return nil, fmt.Errorf("decode languages: %w", err)
	}
	return &sess, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
	}
	return nil
}
