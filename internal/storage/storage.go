package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a search session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// DownloadStatus tracks a single Result through acquisition.
type DownloadStatus string

const (
	StatusPending     DownloadStatus = "pending"
	StatusDownloading DownloadStatus = "downloading"
	StatusDownloaded  DownloadStatus = "downloaded"
	StatusFailed      DownloadStatus = "failed"
	StatusSkipped     DownloadStatus = "skipped"
)

// Terminal reports whether the status is downloaded, failed or skipped.
func (s DownloadStatus) Terminal() bool {
	return s == StatusDownloaded || s == StatusFailed || s == StatusSkipped
}

// Failure and skip reasons recorded on a Result.
const (
	ReasonTimeout          = "timeout"
	ReasonTooLarge         = "too_large"
	ReasonHTTPError        = "http_error"
	ReasonConnectionError  = "connection_error"
	ReasonCancelled        = "cancelled"
	ReasonBlocked          = "blocked"
	ReasonStorageError     = "storage_error"
	ReasonUnsupportedType  = "unsupported_type"
	ReasonRobotsDisallowed = "robots_disallowed"
)

// ErrInvalidTransition is returned when a status update would move a Result backwards.
var ErrInvalidTransition = errors.New("invalid download status transition")

// ErrNotFound is returned when a session or result does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateResult is returned when a result with the same dedupe key already exists in the session.
var ErrDuplicateResult = errors.New("duplicate result for session")

// CanTransition reports whether a Result may move from one download status to another.
// Statuses only advance: pending -> downloading -> {downloaded|failed|skipped}, and
// pending may resolve directly to failed or skipped.
func CanTransition(from, to DownloadStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusDownloading || to == StatusFailed || to == StatusSkipped
	case StatusDownloading:
		return to == StatusDownloaded || to == StatusFailed || to == StatusSkipped
	default:
		return false
	}
}

// CheckTransition wraps ErrInvalidTransition with the offending statuses.
func CheckTransition(from, to DownloadStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Session identifies one orchestration run.
type Session struct {
	ID           string
	Query        string
	Criteria     string
	Languages    []string
	Status       SessionStatus
	TotalResults int
	StoragePath  string
	Error        string // non-empty when the session failed
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Results is populated by GetSession only.
	Results []*Result
}

// Result is one candidate document discovered by a provider.
type Result struct {
	ID              string
	SessionID       string
	Language        string
	// TranslatedQuery is the query text the engine was sent when it was not
	// the original: a translation or an optimizer variant.
	TranslatedQuery string
	Engine          string
	Rank            int
	URL             string
	Title           string
	Snippet         string
	DedupeKey       string

	Status        DownloadStatus
	FailureReason string
	FilePath      string
	FileType      string
	FileSize      int64

	// Score is nil until relevance scoring succeeded.
	Score   *float64
	Summary string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResultUpdate carries the optional fields written together with a status change.
// Zero values leave the stored field untouched.
type ResultUpdate struct {
	FailureReason string
	FilePath      string
	FileType      string
	FileSize      int64
}

// SessionUpdate carries the mutable session fields.
type SessionUpdate struct {
	Status       SessionStatus
	TotalResults int
	StoragePath  string
	Error        string
}

// TranslationKey identifies a cached translation.
type TranslationKey struct {
	SourceText     string
	SourceLanguage string
	TargetLanguage string
}

// TranslationCacheEntry is an append-only cached translation.
type TranslationCacheEntry struct {
	TranslationKey
	TranslatedText string
	CreatedAt      time.Time
}

// Repository persists sessions and their results.
type Repository interface {
	CreateSession(ctx context.Context, query, criteria string, languages []string) (*Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	SaveResult(ctx context.Context, result *Result) error
	UpdateResultStatus(ctx context.Context, resultID string, status DownloadStatus, update ResultUpdate) error
	SetResultScore(ctx context.Context, resultID string, score float64, summary string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	Close() error
}

// TranslationCache stores translations keyed by source text and language pair.
// Reads return the latest committed value; writes are atomic per key.
type TranslationCache interface {
	GetTranslation(ctx context.Context, key TranslationKey) (*TranslationCacheEntry, error)
	PutTranslation(ctx context.Context, entry TranslationCacheEntry) error
}
