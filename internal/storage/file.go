package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"remindbot/pkg/logx"
)

// fileStore keeps one JSON document per user:
//
//	<dir>/<id>.json
//
// Writes go to <id>.json.tmp first and are renamed over the target, so a
// reader never observes a half-written record.
type fileStore struct {
	log logx.Logger
	dir string

	// Serializes the revision check with the rename inside this process.
	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{log: log.With(logx.String("comp", "storage.file")), dir: filepath.Clean(dir)}, nil
}

// Dir is the data directory; the watcher observes it.
func (s *fileStore) Dir() string { return s.dir }

func (s *fileStore) path(id string) string { return filepath.Join(s.dir, id+".json") }

func (s *fileStore) Read(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.readLocked(id)
}

func (s *fileStore) readLocked(id string) (*Document, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &doc, nil
}

func (s *fileStore) Write(ctx context.Context, doc *Document, expected uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	var current uint64
	cur, err := s.readLocked(doc.ID)
	switch {
	case errors.Is(err, ErrNoRecord):
	case err != nil:
		return 0, err
	default:
		current = cur.Revision
	}
	if current != expected {
		return 0, fmt.Errorf("%w: user %s at revision %d, expected %d", ErrConflict, doc.ID, current, expected)
	}

	out := *doc
	out.Schema = schemaVersion
	out.Revision = expected + 1
	b, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := s.writeAtomic(s.path(doc.ID), b); err != nil {
		return 0, err
	}
	return out.Revision, nil
}

func (s *fileStore) writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write user record: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write user record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write user record: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write user record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace user record: %w", err)
	}
	s.log.Debug("user record written", logx.String("path", path), logx.Int("bytes", len(b)))
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := idFromFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// idFromFileName accepts "<digits>.json".
func idFromFileName(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, ".json")
	if !ok || id == "" {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return "", false
		}
	}
	return id, true
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
