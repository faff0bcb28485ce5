// Package memory provides an in-process storage.Repository, used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/google/uuid"
)

// ensure memoryRepository implements storage.Repository
var _ storage.Repository = (*memoryRepository)(nil)

type memoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*storage.Session
	results  map[string]*storage.Result
	order    map[string][]string        // session id -> result ids in save order
	keys     map[string]map[string]bool // session id -> dedupe keys
}

// New creates an empty in-memory repository.
func New() storage.Repository {
	return &memoryRepository{
		sessions: make(map[string]*storage.Session),
		results:  make(map[string]*storage.Result),
		order:    make(map[string][]string),
		keys:     make(map[string]map[string]bool),
	}
}

func (m *memoryRepository) CreateSession(ctx context.Context, query, criteria string, languages []string) (*storage.Session, error) {
	now := time.Now().UTC()
	s := &storage.Session{
		ID:        uuid.New().String(),
		Query:     query,
		Criteria:  criteria,
		Languages: append([]string(nil), languages...),
		Status:    storage.SessionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.keys[s.ID] = make(map[string]bool)

	cp := *s
	return &cp, nil
}

func (m *memoryRepository) UpdateSession(ctx context.Context, id string, update storage.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if update.Status != "" {
		s.Status = update.Status
	}
	s.TotalResults = update.TotalResults
	if update.StoragePath != "" {
		s.StoragePath = update.StoragePath
	}
	if update.Error != "" {
		s.Error = update.Error
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryRepository) SaveResult(ctx context.Context, result *storage.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.keys[result.SessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", result.SessionID, storage.ErrNotFound)
	}
	if keys[result.DedupeKey] {
		return fmt.Errorf("%s: %w", result.DedupeKey, storage.ErrDuplicateResult)
	}
	keys[result.DedupeKey] = true

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.Status == "" {
		result.Status = storage.StatusPending
	}
	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now

	cp := *result
	m.results[cp.ID] = &cp
	m.order[cp.SessionID] = append(m.order[cp.SessionID], cp.ID)
	return nil
}

func (m *memoryRepository) UpdateResultStatus(ctx context.Context, resultID string, status storage.DownloadStatus, update storage.ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[resultID]
	if !ok {
		return fmt.Errorf("result %s: %w", resultID, storage.ErrNotFound)
	}
	if err := storage.CheckTransition(r.Status, status); err != nil {
		return err
	}
	r.Status = status
	if update.FailureReason != "" {
		r.FailureReason = update.FailureReason
	}
	if update.FilePath != "" {
		r.FilePath = update.FilePath
	}
	if update.FileType != "" {
		r.FileType = update.FileType
	}
	if update.FileSize != 0 {
		r.FileSize = update.FileSize
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryRepository) SetResultScore(ctx context.Context, resultID string, score float64, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[resultID]
	if !ok {
		return fmt.Errorf("result %s: %w", resultID, storage.ErrNotFound)
	}
	r.Score = &score
	r.Summary = summary
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryRepository) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	cp := *s
	cp.Languages = append([]string(nil), s.Languages...)
	for _, rid := range m.order[id] {
		r := *m.results[rid]
		if r.Score != nil {
			score := *r.Score
			r.Score = &score
		}
		cp.Results = append(cp.Results, &r)
	}
	return &cp, nil
}

func (m *memoryRepository) ListSessions(ctx context.Context) ([]*storage.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*storage.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		cp.Languages = append([]string(nil), s.Languages...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryRepository) Close() error {
	return nil
}
