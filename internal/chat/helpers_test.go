package chat

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/zulandar/warren/internal/config"
	"github.com/zulandar/warren/internal/history"
)

// safeBuffer is a bytes.Buffer that tolerates the Listener writing while the
// test reads.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, user, queue, target string) *config.Config {
	t.Helper()
	return &config.Config{
		User:        user,
		Queue:       queue,
		TargetQueue: target,
		Broker: config.BrokerConfig{
			Host:     "rabbitmq",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
			Retry:    config.RetryConfig{MaxAttempts: 5, BackoffSec: 2},
		},
		History: config.HistoryConfig{Path: filepath.Join(t.TempDir(), "data", "history.txt")},
	}
}

func testStore(t *testing.T, cfg *config.Config) *history.Store {
	t.Helper()
	s, err := history.New(cfg.History.Path)
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	return s
}

func readHistory(t *testing.T, s *history.Store) string {
	t.Helper()
	text, err := s.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return text
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func historyLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
