// Package broker manages RabbitMQ connections for the chat client: a bounded
// fixed-backoff connect loop, idempotent queue declaration, fire-and-forget
// publish and auto-ack consume.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/zulandar/warren/internal/metrics"
)

const (
	// DefaultMaxAttempts is the total number of dial attempts before giving up.
	DefaultMaxAttempts = 5
	// DefaultBackoff is the fixed wait between dial attempts.
	DefaultBackoff = 2 * time.Second
)

// ErrUnreachable reports that the broker could not be reached within the
// retry ceiling.
var ErrUnreachable = errors.New("broker: unreachable")

// ConnectError is the definitive failure returned by Connect.
type ConnectError struct {
	Host      string
	Attempts  int
	Exhausted bool // true when the retry ceiling was reached
	Err       error
}

func (e *ConnectError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("broker: could not connect to %s after %d attempts: %v", e.Host, e.Attempts, e.Err)
	}
	return fmt.Sprintf("broker: connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is matches ErrUnreachable when the retry ceiling was exhausted.
func (e *ConnectError) Is(target error) bool {
	return target == ErrUnreachable && e.Exhausted
}

// Connection is an open broker connection. It is owned by exactly one
// component and must not be shared across goroutines.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Channel is the subset of AMQP channel operations the chat client uses.
type Channel interface {
	// DeclareQueue creates the named queue if it does not already exist.
	DeclareQueue(name string) error

	// Publish sends body to queue through the default exchange without
	// requesting confirmation.
	Publish(ctx context.Context, queue string, body []byte) error

	// Consume starts an auto-ack consumer on queue. The returned channel is
	// closed when the channel or connection closes.
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)

	Close() error
}

// Dialer opens a Connection to an AMQP URL.
type Dialer func(url string) (Connection, error)

// Options holds parameters for Connect.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	MaxAttempts int           // default: DefaultMaxAttempts
	Backoff     time.Duration // default: DefaultBackoff

	// Out receives user-facing retry narration. Nil discards it.
	Out io.Writer
	// Logger receives diagnostic detail. Nil disables it.
	Logger *zerolog.Logger
	// Dialer overrides the real AMQP dialer (for testing).
	Dialer Dialer

	// sleep waits between attempts; overridden in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// URL builds the AMQP URL for the given endpoint. The vhost is escaped so
// that names containing "/" survive amqp.ParseURI.
func URL(host string, port int, user, password, vhost string) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	if vhost != "" && vhost != "/" {
		u.Path = "/" + vhost
		u.RawPath = "/" + url.PathEscape(vhost)
	}
	return u.String()
}

// Connect dials the broker. Unreachable-class failures are retried with a
// fixed backoff up to MaxAttempts attempts, each narrated to Out; any other
// failure returns immediately. The returned error is always a *ConnectError.
func Connect(ctx context.Context, opts Options) (Connection, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	dial := opts.Dialer
	if dial == nil {
		dial = DialAMQP
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	url := URL(opts.Host, opts.Port, opts.User, opts.Password, opts.VHost)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := dial(url)
		if err == nil {
			metrics.ConnectAttempts.WithLabelValues("ok").Inc()
			logger.Debug().Str("host", opts.Host).Int("attempt", attempt).Msg("broker connected")
			return conn, nil
		}
		lastErr = err

		if !IsUnreachable(err) {
			metrics.ConnectAttempts.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Str("host", opts.Host).Msg("broker connect failed")
			return nil, &ConnectError{Host: opts.Host, Attempts: attempt, Err: err}
		}

		metrics.ConnectAttempts.WithLabelValues("retry").Inc()
		logger.Debug().Err(err).Str("host", opts.Host).Int("attempt", attempt).Msg("broker not ready")
		fmt.Fprintf(out, "RabbitMQ not ready, retrying... (%d/%d)\n", attempt, maxAttempts)

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, &ConnectError{Host: opts.Host, Attempts: attempt, Err: err}
		}
	}

	fmt.Fprintf(out, "\nERROR: Could not connect to RabbitMQ at %s\n", opts.Host)
	return nil, &ConnectError{Host: opts.Host, Attempts: maxAttempts, Exhausted: true, Err: lastErr}
}

// IsUnreachable reports whether err is a connection-refused/unreachable
// class failure worth retrying.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{
		amqp.ErrClosed,
		io.EOF,
		io.ErrUnexpectedEOF,
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DialAMQP opens a real RabbitMQ connection.
func DialAMQP(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

// amqpConnection wraps *amqp.Connection to implement Connection.
type amqpConnection struct {
	conn      *amqp.Connection
	closeOnce sync.Once
	closeErr  error
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// amqpChannel wraps *amqp.Channel to implement Channel.
type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) DeclareQueue(name string) error {
	if _, err := c.ch.QueueDeclare(name, false, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", name, err)
	}
	return nil
}

func (c *amqpChannel) Publish(ctx context.Context, queue string, body []byte) error {
	if err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{Body: body}); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

func (c *amqpChannel) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.Consume(queue, consumerTag, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}
	return deliveries, nil
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}
