// Package sqlitemigrate applies embedded, versioned *.sql files to a SQLite
// database. Each file runs at most once, inside its own transaction, and is
// recorded in schema_migrations by name.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const table = "schema_migrations"

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Apply runs every not-yet-recorded *.sql file under root (lexical order).
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS, root string) error {
	if db == nil {
		return fmt.Errorf("sqlitemigrate: db is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}

	files, err := sqlFiles(fsys, root)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
    name       TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("sqlitemigrate: ensure %s: %w", table, err)
	}

	for _, name := range files {
		done, err := applied(ctx, db, name)
		if err != nil {
			return fmt.Errorf("sqlitemigrate: check %s: %w", name, err)
		}
		if done {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return fmt.Errorf("sqlitemigrate: read %s: %w", name, err)
		}
		up := UpSection(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		if err := applyOne(ctx, db, name, up); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, name, up string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitemigrate: begin %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, up); err != nil && !alreadyExists(err) {
		_ = tx.Rollback()
		return fmt.Errorf("sqlitemigrate: exec %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO `+table+` (name, applied_at) VALUES (?, ?)`,
		name, time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlitemigrate: record %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitemigrate: commit %s: %w", name, err)
	}
	return nil
}

func sqlFiles(fsys fs.FS, root string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("sqlitemigrate: read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// UpSection returns the SQL between the Up and Down markers. A file without
// markers is all Up.
func UpSection(content string) string {
	i := strings.Index(content, upMarker)
	if i < 0 {
		return content
	}
	body := content[i+len(upMarker):]
	if j := strings.Index(body, downMarker); j >= 0 {
		body = body[:j]
	}
	return body
}

// idempotent DDL replayed against an existing schema
func alreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}

func applied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
