// Package filestore owns the on-disk layout of downloaded documents:
// <root>/<YYYY-MM-DD>/<session-id>/<file>.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/FranksOps/docsweep/internal/storage"
)

const dateLayout = "2006-01-02"

const maxNameLen = 80

// Manager allocates file paths and exports session data.
type Manager struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	reserved map[string]bool
}

// New creates a Manager rooted at root. The directory is created lazily.
func New(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:     root,
		logger:   logger,
		now:      time.Now,
		reserved: make(map[string]bool),
	}
}

// Root returns the storage root.
func (m *Manager) Root() string {
	return m.root
}

// SessionDir returns the directory holding a session's files.
func (m *Manager) SessionDir(session *storage.Session) string {
	created := session.CreatedAt
	if created.IsZero() {
		created = m.now()
	}
	return filepath.Join(m.root, created.UTC().Format(dateLayout), session.ID)
}

// EnsureSessionDir creates the session directory and returns its path.
func (m *Manager) EnsureSessionDir(session *storage.Session) (string, error) {
	dir := m.SessionDir(session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// AllocatePath returns a path inside the session directory that no other call
// has returned and that does not exist yet. The name comes from the URL's last
// path segment, then the title, then "document", with the extension of fileType.
// A reservation is dropped once its file shows up on disk or the session is released.
func (m *Manager) AllocatePath(session *storage.Session, result *storage.Result, fileType string) (string, error) {
	dir, err := m.EnsureSessionDir(session)
	if err != nil {
		return "", err
	}

	base := baseName(result)
	ext := ""
	if fileType != "" {
		ext = "." + fileType
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; ; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s_%d%s", base, i, ext)
		}
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			delete(m.reserved, p)
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		if m.reserved[p] {
			continue
		}
		m.reserved[p] = true
		return p, nil
	}
}

// Release forgets every path reserved for session. Call it once the session
// has no downloads in flight.
func (m *Manager) Release(session *storage.Session) {
	prefix := m.SessionDir(session) + string(filepath.Separator)
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.reserved {
		if strings.HasPrefix(p, prefix) {
			delete(m.reserved, p)
		}
	}
}

// reservations reports how many paths are currently held.
func (m *Manager) reservations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reserved)
}

func baseName(result *storage.Result) string {
	if u, err := url.Parse(result.URL); err == nil {
		seg := path.Base(u.Path)
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		if name := sanitize(seg); name != "" {
			return name
		}
	}
	if name := sanitize(result.Title); name != "" {
		return name
	}
	return "document"
}

// sanitize keeps letters, digits, '-', '_' and '.', turning spaces into '_'.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if runes := []rune(out); len(runes) > maxNameLen {
		out = string(runes[:maxNameLen])
	}
	return out
}

// Stats summarizes the storage root.
type Stats struct {
	DateDirectories int   `json:"date_directories" yaml:"date_directories"`
	Sessions        int   `json:"sessions" yaml:"sessions"`
	Files           int   `json:"files" yaml:"files"`
	Bytes           int64 `json:"bytes" yaml:"bytes"`
}

// StorageStats walks the storage root. A missing root yields zero stats.
func (m *Manager) StorageStats() (Stats, error) {
	var st Stats
	dates, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read storage root: %w", err)
	}

	for _, d := range dates {
		if !d.IsDir() {
			continue
		}
		st.DateDirectories++
		datePath := filepath.Join(m.root, d.Name())
		sessions, err := os.ReadDir(datePath)
		if err != nil {
			return st, fmt.Errorf("read %s: %w", datePath, err)
		}
		for _, s := range sessions {
			if !s.IsDir() {
				continue
			}
			st.Sessions++
			err := filepath.WalkDir(filepath.Join(datePath, s.Name()), func(p string, e fs.DirEntry, err error) error {
				if err != nil || e.IsDir() {
					return err
				}
				info, err := e.Info()
				if err != nil {
					return err
				}
				st.Files++
				st.Bytes += info.Size()
				return nil
			})
			if err != nil {
				return st, fmt.Errorf("walk session dir: %w", err)
			}
		}
	}
	return st, nil
}

// Cleanup removes date directories whose date is older than olderThan, and
// session directories not modified within olderThan. It returns the number of
// directories removed.
func (m *Manager) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)
	dates, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read storage root: %w", err)
	}

	removed := 0
	for _, d := range dates {
		if !d.IsDir() {
			continue
		}
		datePath := filepath.Join(m.root, d.Name())
		day, err := time.Parse(dateLayout, d.Name())
		if err == nil && day.Add(24*time.Hour).Before(cutoff) {
			if err := os.RemoveAll(datePath); err != nil {
				return removed, fmt.Errorf("remove %s: %w", datePath, err)
			}
			m.logger.Info("removed old date directory", "path", datePath)
			removed++
			continue
		}

		sessions, err := os.ReadDir(datePath)
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", datePath, err)
		}
		for _, s := range sessions {
			if !s.IsDir() {
				continue
			}
			info, err := s.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				p := filepath.Join(datePath, s.Name())
				if err := os.RemoveAll(p); err != nil {
					return removed, fmt.Errorf("remove %s: %w", p, err)
				}
				m.logger.Info("removed old session directory", "path", p)
				removed++
			}
		}
	}
	return removed, nil
}
