package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ppiankov/callguard/internal/model"
)

// DefaultTimeout bounds one catalog query.
const DefaultTimeout = 2 * time.Second

// SQLCatalog reads tools from the tool_catalog table.
type SQLCatalog struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLCatalog returns an Adapter over a migrated database.
// A non-positive timeout selects DefaultTimeout.
func NewSQLCatalog(db *sql.DB, timeout time.Duration) *SQLCatalog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SQLCatalog{db: db, timeout: timeout}
}

func (c *SQLCatalog) ListTools(ctx context.Context) ([]model.CatalogTool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `SELECT id, is_numeric, name, ring FROM tool_catalog ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query tools: %w", err)
	}
	defer rows.Close()

	var tools []model.CatalogTool
	for rows.Next() {
		var (
			id      string
			numeric bool
			t       model.CatalogTool
		)
		if err := rows.Scan(&id, &numeric, &t.Name, &t.Ring); err != nil {
			return nil, fmt.Errorf("catalog: scan tool: %w", err)
		}
		t.ID, err = restoreID(id, numeric)
		if err != nil {
			return nil, fmt.Errorf("catalog: tool %q: %w", id, err)
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate tools: %w", err)
	}
	return tools, nil
}

// Import upserts tools in a single transaction.
func (c *SQLCatalog) Import(ctx context.Context, tools []model.CatalogTool) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tool_catalog (id, is_numeric, name, ring) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET is_numeric = excluded.is_numeric, name = excluded.name, ring = excluded.ring`)
	if err != nil {
		return fmt.Errorf("catalog: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range tools {
		if t.ID.IsZero() {
			return fmt.Errorf("catalog: tool %q has no id", t.Name)
		}
		if _, err := stmt.ExecContext(ctx, t.ID.String(), t.ID.Numeric(), t.Name, t.Ring); err != nil {
			return fmt.Errorf("catalog: upsert %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

func restoreID(text string, numeric bool) (model.ToolID, error) {
	if !numeric {
		return model.StringID(text), nil
	}
	var n int64
	if _, err := fmt.Sscan(text, &n); err != nil {
		return model.ToolID{}, err
	}
	return model.IntID(n), nil
}
