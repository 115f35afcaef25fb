// Package chat runs a two-endpoint chat session over the broker: a
// background Listener on the inbound queue, a foreground Publisher on the
// target queue, and a standalone mode used when no broker is available.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/warren/internal/broker"
	"github.com/zulandar/warren/internal/config"
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/metrics"
	"github.com/zulandar/warren/internal/status"
)

// ErrFellBack is returned by Session.Run after the session had to fall back
// to standalone mode because the broker was unreachable.
var ErrFellBack = errors.New("chat: fell back to standalone mode")

// Session modes reported by Snapshot.
const (
	ModeStarting   = "starting"
	ModeOnline     = "online"
	ModeStandalone = "standalone"
	ModeEnded      = "ended"
)

// Session orchestrates history display, the Listener, the Publisher and the
// standalone fallback.
type Session struct {
	cfg            *config.Config
	history        *history.Store
	in             io.Reader
	con            *console
	logger         zerolog.Logger
	dialer         broker.Dialer
	listenerDialer broker.Dialer
	backoff        time.Duration

	lines    <-chan string
	fatal    chan error
	listener *Listener

	mu   sync.Mutex
	mode string
}

// SessionOpts holds parameters for creating a Session.
type SessionOpts struct {
	Config  *config.Config
	History *history.Store
	In      io.Reader       // defaults to os.Stdin
	Out     io.Writer       // defaults to os.Stdout
	Prompt  bool            // print input prompts
	Logger  *zerolog.Logger // optional

	// Dialer overrides the real AMQP dialer (for testing).
	Dialer broker.Dialer
	// ListenerDialer overrides the dialer for the Listener only. Defaults
	// to Dialer.
	ListenerDialer broker.Dialer
	// Backoff overrides the configured retry backoff when positive.
	Backoff time.Duration
}

// NewSession creates a Session with the given options.
func NewSession(opts SessionOpts) (*Session, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("chat: config is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("chat: history store is required")
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	listenerDialer := opts.ListenerDialer
	if listenerDialer == nil {
		listenerDialer = opts.Dialer
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = time.Duration(opts.Config.Broker.Retry.BackoffSec) * time.Second
	}

	return &Session{
		cfg:            opts.Config,
		history:        opts.History,
		in:             in,
		con:            newConsole(out, opts.Prompt),
		logger:         logger.With().Str("user", opts.Config.User).Logger(),
		dialer:         opts.Dialer,
		listenerDialer: listenerDialer,
		backoff:        backoff,
		fatal:          make(chan error, 1),
		mode:           ModeStarting,
	}, nil
}

// Snapshot reports the session state for the status server.
func (s *Session) Snapshot() status.Snapshot {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()

	listenerState := "none"
	if l := s.Listener(); l != nil {
		listenerState = l.State().String()
	}
	return status.Snapshot{
		User:        s.cfg.User,
		Queue:       s.cfg.Queue,
		TargetQueue: s.cfg.TargetQueue,
		Mode:        mode,
		Listener:    listenerState,
	}
}

// Listener returns the session's Listener, or nil before it starts or in
// standalone mode.
func (s *Session) Listener() *Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener
}

func (s *Session) setMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	if mode == ModeStandalone {
		metrics.Standalone.Set(1)
	} else {
		metrics.Standalone.Set(0)
	}
	s.logger.Debug().Str("mode", mode).Msg("session mode")
}

func (s *Session) brokerOpts(dialer broker.Dialer) broker.Options {
	b := s.cfg.Broker
	return broker.Options{
		Host:        b.Host,
		Port:        b.Port,
		User:        b.User,
		Password:    b.Password,
		VHost:       b.VHost,
		MaxAttempts: b.Retry.MaxAttempts,
		Backoff:     s.backoff,
		Out:         s.con,
		Logger:      &s.logger,
		Dialer:      dialer,
	}
}

// Run executes the session until ctx is cancelled or input ends. It returns
// nil after a clean shutdown, ErrFellBack (wrapping the connection failure)
// after running in fallback mode, and any other error on fatal failures
// such as an unwritable history file.
func (s *Session) Run(ctx context.Context) error {
	s.lines = readLines(s.in)

	if s.cfg.Standalone {
		return s.runStandalone(ctx)
	}

	if err := s.history.Show(s.con); err != nil {
		return err
	}

	if err := s.startListener(ctx); err != nil {
		return err
	}

	s.con.Printf("--- Chat Started (%s connecting to %s) ---\n", s.cfg.User, s.cfg.Broker.Host)

	conn, err := broker.Connect(ctx, s.brokerOpts(s.dialer))
	if err != nil {
		if ctx.Err() != nil {
			s.setMode(ModeEnded)
			s.con.Printf("\nChat ended.\n")
			return nil
		}
		s.logger.Warn().Err(err).Msg("publisher connect failed, falling back")
		s.con.Printf("\nFalling back to standalone mode...\n")
		if serr := s.runStandalone(ctx); serr != nil {
			return serr
		}
		return fmt.Errorf("%w: %w", ErrFellBack, err)
	}

	pub, err := newPublisher(conn, s.cfg.TargetQueue, s.cfg.User, s.con, s.history)
	if err != nil {
		return err
	}
	s.setMode(ModeOnline)

	err = s.inputLoop(ctx, PromptChat, func(text string) error {
		return pub.Send(ctx, text)
	})
	pub.Close()
	s.setMode(ModeEnded)
	if err != nil {
		return err
	}
	s.con.Printf("\nChat ended.\n")
	return nil
}

// startListener launches the Listener in the background. It is never joined:
// it lives until its delivery channel closes or the process exits. A fatal
// Listener error is handed to the foreground loop.
func (s *Session) startListener(ctx context.Context) error {
	l, err := NewListener(ListenerOpts{
		Broker:  s.brokerOpts(s.listenerDialer),
		Queue:   s.cfg.Queue,
		User:    s.cfg.User,
		History: s.history,
		Logger:  &s.logger,
		con:     s.con,
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	// Interrupts stop the foreground loop only.
	lctx := context.WithoutCancel(ctx)
	go func() {
		if err := l.Run(lctx); err != nil {
			select {
			case s.fatal <- err:
			default:
			}
		}
	}()
	return nil
}

// runStandalone runs the local-only input loop. It behaves the same whether
// requested explicitly or entered as a fallback.
func (s *Session) runStandalone(ctx context.Context) error {
	s.setMode(ModeStandalone)
	st := &standalone{user: s.cfg.User, con: s.con, history: s.history}
	if err := st.banner(); err != nil {
		return err
	}
	err := s.inputLoop(ctx, PromptStandalone, st.Send)
	s.setMode(ModeEnded)
	if err != nil {
		return err
	}
	s.con.Printf("\nExiting standalone mode...\n")
	return nil
}

// inputLoop feeds non-blank input lines to send until ctx is cancelled or
// input ends. Errors from send and fatal Listener errors end the loop.
func (s *Session) inputLoop(ctx context.Context, prompt string, send func(string) error) error {
	for {
		s.con.Prompt(prompt)
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.fatal:
			return err
		case text, ok := <-s.lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			if err := send(text); err != nil {
				return err
			}
		}
	}
}
