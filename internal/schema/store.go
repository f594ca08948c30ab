package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by a Store when no schema exists for a reference.
var ErrNotFound = errors.New("schema: not found")

// Store resolves a schema reference to a JSON Schema document.
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns a Memory store seeded with docs.
func NewMemory(docs map[string][]byte) *Memory {
	m := &Memory{docs: make(map[string][]byte, len(docs))}
	for ref, doc := range docs {
		m.docs[ref] = append([]byte(nil), doc...)
	}
	return m
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Put stores or replaces a schema document.
func (m *Memory) Put(ref string, doc []byte) {
	m.mu.Lock()
	m.docs[ref] = append([]byte(nil), doc...)
	m.mu.Unlock()
}

// Replace swaps the whole document set, e.g. after a policy reload.
func (m *Memory) Replace(docs map[string][]byte) {
	next := make(map[string][]byte, len(docs))
	for ref, doc := range docs {
		next[ref] = append([]byte(nil), doc...)
	}
	m.mu.Lock()
	m.docs = next
	m.mu.Unlock()
}

// SQLStore reads schemas from the tool_schema table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a Store over a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM tool_schema WHERE ref = ?`, ref).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schema: query %q: %w", ref, err)
	}
	return []byte(doc), nil
}

// Put upserts a schema document. Used by import tooling, not at runtime.
func (s *SQLStore) Put(ctx context.Context, ref string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_schema (ref, document) VALUES (?, ?)
		ON CONFLICT(ref) DO UPDATE SET document = excluded.document, updated_at = datetime('now')`,
		ref, string(doc))
	if err != nil {
		return fmt.Errorf("schema: put %q: %w", ref, err)
	}
	return nil
}
