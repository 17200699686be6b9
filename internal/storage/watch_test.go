package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/calendar"
	"remindbot/pkg/logx"
)

func TestWatcherReportsChangedRecord(t *testing.T) {
	dir := t.TempDir()
	be, err := Open(Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	got := make(chan calendar.Identifier, 4)
	w, err := NewWatcher(be, logx.Nop(), func(id calendar.Identifier) { got <- id })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := NewUserStore(be)
	if _, err := s.Register(context.Background(), mustID(t, 31), "+00:00"); err != nil {
		t.Fatalf("register: %v", err)
	}

	select {
	case id := <-got:
		if id.Uint64() != 31 {
			t.Fatalf("unexpected id %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}

func TestWatcherNeedsDirectory(t *testing.T) {
	be, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer be.Close()
	if _, err := NewWatcher(be, logx.Nop(), nil); err != ErrNotWatchable {
		t.Fatalf("expected ErrNotWatchable, got %v", err)
	}
}
