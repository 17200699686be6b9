//go:build !nosqlite

package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writers serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &sqliteStore{db: db, log: log.With(logx.String("comp", "storage.sqlite"))}, nil
}

func (s *sqliteStore) Read(ctx context.Context, id string) (*Document, error) {
	var (
		rev  uint64
		body string
	)
	err := s.db.QueryRowContext(ctx, `SELECT revision, body FROM users WHERE id = ?`, id).Scan(&rev, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	// The column is authoritative.
	doc.Revision = rev
	return &doc, nil
}

func (s *sqliteStore) Write(ctx context.Context, doc *Document, expected uint64) (uint64, error) {
	out := *doc
	out.Schema = schemaVersion
	out.Revision = expected + 1
	body, err := json.Marshal(&out)
	if err != nil {
		return 0, err
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO users(id, revision, body) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`,
			out.ID, out.Revision, string(body))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE users SET revision = ?, body = ? WHERE id = ? AND revision = ?`,
			out.Revision, string(body), out.ID, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("write user %s: %w", out.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("write user %s: %w", out.ID, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: user %s, expected revision %d", ErrConflict, out.ID, expected)
	}
	s.log.Debug("user record written", logx.String("id", out.ID), logx.Uint64("revision", out.Revision))
	return out.Revision, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
