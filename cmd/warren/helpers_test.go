package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/warren/internal/broker"
)

// syncBuffer guards a bytes.Buffer; the background Listener may still be
// logging after the command returns.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// cobraFail builds a throwaway subcommand that always fails.
type cobraFail struct {
	code int
}

func (f cobraFail) cmd() *cobra.Command {
	return &cobra.Command{
		Use: "fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := errors.New("boom")
			if f.code != 0 {
				return &exitError{code: f.code, err: err}
			}
			return err
		},
	}
}

// clearEnv blanks every variable the config layer reads. Empty values are
// ignored by the loader, so this isolates tests from the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"RABBIT_HOST", "RABBIT_PORT", "RABBIT_USER", "RABBIT_PASSWORD", "RABBIT_VHOST",
		"QUEUE_NAME", "TARGET_QUEUE", "USER_NAME", "STANDALONE_MODE",
		"HISTORY_FILE", "LOG_LEVEL", "STATUS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

// useMockBroker routes command dials to an in-memory broker with a short
// retry backoff for the duration of the test.
func useMockBroker(t *testing.T) *broker.MockBroker {
	t.Helper()
	mb := broker.NewMockBroker()
	origDialer, origBackoff := chatDialer, chatBackoff
	chatDialer, chatBackoff = mb.Dial, time.Millisecond
	t.Cleanup(func() { chatDialer, chatBackoff = origDialer, origBackoff })
	return mb
}

// runCmd executes the root command with args and stdin, returning stdout,
// stderr and the exit code.
func runCmd(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut syncBuffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	code := execute(cmd)
	return out.String(), errOut.String(), code
}

func tempHistory(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data", "history.txt")
}

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}
