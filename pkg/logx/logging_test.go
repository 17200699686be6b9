package logx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"remindbot/internal/transport"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromZerolog(zerolog.New(&buf)).With(String("comp", "test"))
	l.Info("hello", Int("n", 3), Err(nil))

	out := buf.String()
	for _, want := range []string{`"comp":"test"`, `"n":3`, `"message":"hello"`, `"caller":"logging_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, `"err"`) {
		t.Fatalf("nil error should be omitted: %s", out)
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	defer svc.Close()

	log.Debug("hidden")
	log.Info("visible")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, `"hidden"`) {
		t.Fatalf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, `"visible"`) || !strings.Contains(out, `"now visible"`) {
		t.Fatalf("expected both lines: %s", out)
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []string
	to   []int64
}

func (c *captureSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	c.to = append(c.to, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestChatSinkSendsWarnings(t *testing.T) {
	cs := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")},
		Chat:  ChatConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 50},
	}, cs)
	defer svc.Close()

	log.Info("not mirrored")
	log.Warn("disk almost full", String("dir", "/data"))

	deadline := time.Now().Add(2 * time.Second)
	for cs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.sent) != 1 {
		t.Fatalf("expected one mirrored line, got %d: %v", len(cs.sent), cs.sent)
	}
	if cs.to[0] != -100 {
		t.Fatalf("wrong chat: %d", cs.to[0])
	}
	if !strings.HasPrefix(cs.sent[0], "[WARN] disk almost full") || !strings.Contains(cs.sent[0], "- dir=/data") {
		t.Fatalf("unexpected text: %q", cs.sent[0])
	}
}

func TestFormatChatLineFallback(t *testing.T) {
	if got := formatChatLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("x", chatTextLimit+10)
	if got := formatChatLine([]byte(long)); len(got) != chatTextLimit || !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncation, got len %d", len(got))
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning"} {
		if !ValidLevel(s) {
			t.Fatalf("%q should be valid", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatalf("loud should be invalid")
	}
}
