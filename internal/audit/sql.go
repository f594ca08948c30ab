package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/callguard/internal/model"
)

// SQLStore records violations in the append-only violation table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore returns a Recorder over a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Record inserts one violation in its own transaction.
func (s *SQLStore) Record(ctx context.Context, taskID string, kind model.Kind, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO violation (id, task_id, kind, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), taskID, string(kind), string(raw), s.now().UTC().Format(TimestampFormat))
	if err != nil {
		return fmt.Errorf("audit: insert violation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit: %w", err)
	}
	return nil
}

// Replay returns the violations of one task in recording order.
func (s *SQLStore) Replay(ctx context.Context, filter ReplayFilter) (*ReplayResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, kind, detail, recorded_at FROM violation WHERE task_id = ? ORDER BY recorded_at, rowid`,
		filter.TaskID)
	if err != nil {
		return nil, fmt.Errorf("audit: query violations: %w", err)
	}
	defer rows.Close()

	result := newReplayResult(filter.TaskID)
	for rows.Next() {
		var (
			e      Entry
			kind   string
			detail string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &kind, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("audit: scan violation: %w", err)
		}
		e.Kind = model.Kind(kind)
		if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: decode detail of %s: %w", e.ID, err)
		}
		result.add(e, filter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate violations: %w", err)
	}
	return result, nil
}
