package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var errRefused = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// recordSleep returns a sleep func that records requested waits without
// actually waiting.
func recordSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestConnect_FirstAttempt(t *testing.T) {
	mb := NewMockBroker()
	var out bytes.Buffer

	conn, err := Connect(context.Background(), Options{Host: "rabbitmq", Dialer: mb.Dial, Out: &out})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn == nil {
		t.Fatal("expected connection")
	}
	if mb.Dials() != 1 {
		t.Errorf("dials = %d, want 1", mb.Dials())
	}
	if out.Len() != 0 {
		t.Errorf("unexpected narration: %q", out.String())
	}
}

func TestConnect_AlwaysRefused(t *testing.T) {
	mb := NewMockBroker()
	mb.FailDials(-1, errRefused)
	var out bytes.Buffer
	var waits []time.Duration

	_, err := Connect(context.Background(), Options{
		Host:   "rabbitmq",
		Dialer: mb.Dial,
		Out:    &out,
		sleep:  recordSleep(&waits),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if mb.Dials() != DefaultMaxAttempts {
		t.Errorf("dials = %d, want %d", mb.Dials(), DefaultMaxAttempts)
	}
	if len(waits) != DefaultMaxAttempts-1 {
		t.Errorf("waits = %d, want %d", len(waits), DefaultMaxAttempts-1)
	}
	for i, w := range waits {
		if w != DefaultBackoff {
			t.Errorf("wait[%d] = %v, want fixed %v", i, w, DefaultBackoff)
		}
	}

	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("error %v should match ErrUnreachable", err)
	}
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConnectError", err)
	}
	if ce.Host != "rabbitmq" {
		t.Errorf("Host = %q, want rabbitmq", ce.Host)
	}
	if ce.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", ce.Attempts)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Error("underlying dial error should be preserved")
	}

	text := out.String()
	for i := 1; i <= 5; i++ {
		notice := fmt.Sprintf("RabbitMQ not ready, retrying... (%d/5)", i)
		if !strings.Contains(text, notice) {
			t.Errorf("missing notice %q in %q", notice, text)
		}
	}
	if strings.Count(text, "RabbitMQ not ready") != 5 {
		t.Errorf("notice count = %d, want 5", strings.Count(text, "RabbitMQ not ready"))
	}
	if !strings.Contains(text, "ERROR: Could not connect to RabbitMQ at rabbitmq") {
		t.Errorf("missing final error in %q", text)
	}
}

func TestConnect_RealBackoffSpacing(t *testing.T) {
	mb := NewMockBroker()
	mb.FailDials(-1, errRefused)
	backoff := 20 * time.Millisecond

	_, err := Connect(context.Background(), Options{
		Host:        "rabbitmq",
		Dialer:      mb.Dial,
		MaxAttempts: 3,
		Backoff:     backoff,
	})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	times := mb.DialTimes()
	if len(times) != 3 {
		t.Fatalf("dials = %d, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < backoff {
			t.Errorf("gap %d = %v, want >= %v", i, gap, backoff)
		}
	}
}

func TestConnect_RecoversAfterRetries(t *testing.T) {
	mb := NewMockBroker()
	mb.FailDials(2, errRefused)
	var out bytes.Buffer
	var waits []time.Duration

	conn, err := Connect(context.Background(), Options{Host: "rabbitmq", Dialer: mb.Dial, Out: &out, sleep: recordSleep(&waits)})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if conn == nil {
		t.Fatal("expected connection")
	}
	if mb.Dials() != 3 {
		t.Errorf("dials = %d, want 3", mb.Dials())
	}
	if len(waits) != 2 {
		t.Errorf("waits = %d, want 2", len(waits))
	}
	if strings.Count(out.String(), "retrying") != 2 {
		t.Errorf("narration = %q, want 2 retry notices", out.String())
	}
	if strings.Contains(out.String(), "ERROR") {
		t.Errorf("unexpected error narration: %q", out.String())
	}
}

func TestConnect_NonRetryableFailsImmediately(t *testing.T) {
	mb := NewMockBroker()
	mb.FailDials(-1, amqp.ErrCredentials)
	var out bytes.Buffer
	var waits []time.Duration

	_, err := Connect(context.Background(), Options{Host: "rabbitmq", Dialer: mb.Dial, Out: &out, sleep: recordSleep(&waits)})
	if err == nil {
		t.Fatal("expected error")
	}
	if mb.Dials() != 1 {
		t.Errorf("dials = %d, want 1", mb.Dials())
	}
	if len(waits) != 0 {
		t.Errorf("waits = %d, want 0", len(waits))
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("non-retryable failure should not match ErrUnreachable")
	}
	if !errors.Is(err, amqp.ErrCredentials) {
		t.Errorf("error = %v, want to wrap ErrCredentials", err)
	}
	var ce *ConnectError
	if !errors.As(err, &ce) || ce.Host != "rabbitmq" || ce.Attempts != 1 {
		t.Errorf("ConnectError = %+v", ce)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected narration: %q", out.String())
	}
}

func TestConnect_ContextCancelledDuringBackoff(t *testing.T) {
	mb := NewMockBroker()
	mb.FailDials(-1, errRefused)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, Options{Host: "rabbitmq", Dialer: mb.Dial, Backoff: time.Hour})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if mb.Dials() != 1 {
		t.Errorf("dials = %d, want 1", mb.Dials())
	}
}

func TestConnect_RealDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	var waits []time.Duration
	_, err = Connect(context.Background(), Options{
		Host:        "127.0.0.1",
		Port:        port,
		User:        "guest",
		Password:    "guest",
		MaxAttempts: 2,
		sleep:       recordSleep(&waits),
	})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	if len(waits) != 1 {
		t.Errorf("waits = %d, want 1", len(waits))
	}
}

func TestIsUnreachable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errRefused, true},
		{"wrapped refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"reset", syscall.ECONNRESET, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "rabbitmq", IsNotFound: true}, true},
		{"eof during handshake", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"closed", amqp.ErrClosed, true},
		{"credentials", amqp.ErrCredentials, false},
		{"recoverable amqp", &amqp.Error{Code: amqp.ConnectionForced, Reason: "shutdown", Recover: true}, true},
		{"bad uri", errors.New("Bad URI"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnreachable(tt.err); got != tt.want {
				t.Errorf("IsUnreachable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestURL_RoundTrip(t *testing.T) {
	tests := []struct {
		host, user, pass, vhost string
		port                    int
	}{
		{"localhost", "guest", "guest", "/", 5672},
		{"rabbitmq", "chat", "s3cret", "/chat", 5673},
		{"10.0.0.5", "guest", "guest", "", 5672},
	}
	for _, tt := range tests {
		raw := URL(tt.host, tt.port, tt.user, tt.pass, tt.vhost)
		uri, err := amqp.ParseURI(raw)
		if err != nil {
			t.Fatalf("ParseURI(%q): %v", raw, err)
		}
		wantVhost := tt.vhost
		if wantVhost == "" {
			wantVhost = "/"
		}
		if uri.Host != tt.host || uri.Port != tt.port || uri.Username != tt.user || uri.Password != tt.pass || uri.Vhost != wantVhost {
			t.Errorf("URL(%+v) = %q parsed as %+v", tt, raw, uri)
		}
	}
}

func TestConnectError_Message(t *testing.T) {
	exhausted := &ConnectError{Host: "rabbitmq", Attempts: 5, Exhausted: true, Err: errRefused}
	if !strings.Contains(exhausted.Error(), "after 5 attempts") {
		t.Errorf("Error() = %q", exhausted.Error())
	}
	immediate := &ConnectError{Host: "rabbitmq", Attempts: 1, Err: amqp.ErrCredentials}
	if !strings.HasPrefix(immediate.Error(), "broker: connect to rabbitmq") {
		t.Errorf("Error() = %q", immediate.Error())
	}
}
