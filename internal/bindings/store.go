package bindings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Store persists bindings keyed by URL pattern. Semantics are key-value,
// last-write-wins; freshness is computed by callers from UpdatedAt, the
// store applies no TTL.
type Store interface {
	Load(urlPattern string) (*PageBindings, error)
	Save(b *PageBindings) error
	List() ([]*PageBindings, error)
	Close() error
}

// ErrInvalid is returned by Save when the bindings fail structural
// validation. Invalid bindings are never persisted.
var ErrInvalid = errors.New("bindings failed validation")

// SQLiteStore keeps bindings in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and if needed creates) the bindings database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open bindings db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS page_bindings (
		url_pattern TEXT PRIMARY KEY,
		id          TEXT NOT NULL,
		version     INTEGER NOT NULL,
		updated_at  DATETIME NOT NULL,
		payload     TEXT NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("create page_bindings table: %w", err)
	}
	return nil
}

// Load returns the bindings for a URL pattern, or nil when none exist.
func (s *SQLiteStore) Load(urlPattern string) (*PageBindings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM page_bindings WHERE url_pattern = ?`, urlPattern,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	var b PageBindings
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, fmt.Errorf("decode bindings for %q: %w", urlPattern, err)
	}
	return &b, nil
}

// Save upserts the bindings record. Structurally invalid bindings are
// rejected with ErrInvalid.
func (s *SQLiteStore) Save(b *PageBindings) error {
	if report := Validate(b); !report.Valid {
		return fmt.Errorf("%w: %v", ErrInvalid, report.Errors)
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`
		INSERT INTO page_bindings (url_pattern, id, version, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url_pattern) DO UPDATE SET
			id = excluded.id,
			version = excluded.version,
			updated_at = excluded.updated_at,
			payload = excluded.payload`,
		b.URLPattern, b.ID, b.Version, b.UpdatedAt, string(payload),
	)
	if err != nil {
		return fmt.Errorf("save bindings: %w", err)
	}
	return nil
}

// List returns every stored binding set.
func (s *SQLiteStore) List() ([]*PageBindings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT payload FROM page_bindings ORDER BY url_pattern`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []*PageBindings
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var b PageBindings
		if err := json.Unmarshal([]byte(payload), &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is an in-process Store used by tests and offline runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*PageBindings
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*PageBindings)}
}

func (m *MemoryStore) Load(urlPattern string) (*PageBindings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[urlPattern]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (m *MemoryStore) Save(b *PageBindings) error {
	if report := Validate(b); !report.Valid {
		return fmt.Errorf("%w: %v", ErrInvalid, report.Errors)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[b.URLPattern] = b.Clone()
	return nil
}

func (m *MemoryStore) List() ([]*PageBindings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*PageBindings, 0, len(m.data))
	for _, b := range m.data {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
