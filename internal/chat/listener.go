package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/warren/internal/broker"
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/metrics"
	"github.com/zulandar/warren/internal/models"
)

// ListenerState is a step in the Listener lifecycle.
type ListenerState int32

const (
	ListenerIdle ListenerState = iota
	ListenerConnecting
	ListenerConsuming
	ListenerTerminated
	ListenerFailed
)

func (s ListenerState) String() string {
	switch s {
	case ListenerIdle:
		return "idle"
	case ListenerConnecting:
		return "connecting"
	case ListenerConsuming:
		return "consuming"
	case ListenerTerminated:
		return "terminated"
	case ListenerFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener consumes the inbound queue on its own connection and records
// every decoded message.
type Listener struct {
	connOpts broker.Options
	queue    string
	user     string
	con      *console
	history  *history.Store
	logger   zerolog.Logger
	state    atomic.Int32
}

// ListenerOpts holds parameters for creating a Listener.
type ListenerOpts struct {
	Broker  broker.Options // connection settings; Out is ignored, retries are logged only
	Queue   string
	User    string
	History *history.Store
	Logger  *zerolog.Logger // optional
	Out     io.Writer       // defaults to os.Stdout
	Prompt  bool            // re-print the input prompt after each receipt

	con *console // shared with the foreground loop when set
}

// NewListener creates an idle Listener.
func NewListener(opts ListenerOpts) (*Listener, error) {
	if opts.Queue == "" {
		return nil, fmt.Errorf("chat: listener queue is required")
	}
	if opts.History == nil {
		return nil, fmt.Errorf("chat: history store is required")
	}
	con := opts.con
	if con == nil {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		con = newConsole(out, opts.Prompt)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "listener").Str("queue", opts.Queue).Logger()

	connOpts := opts.Broker
	connOpts.Out = nil
	connOpts.Logger = &logger

	return &Listener{
		connOpts: connOpts,
		queue:    opts.Queue,
		user:     opts.User,
		con:      con,
		history:  opts.History,
		logger:   logger,
	}, nil
}

// State returns the current lifecycle state.
func (l *Listener) State() ListenerState {
	return ListenerState(l.state.Load())
}

func (l *Listener) setState(s ListenerState) {
	l.state.Store(int32(s))
	l.logger.Debug().Stringer("state", s).Msg("listener state")
}

// Run connects, declares the inbound queue and consumes until the delivery
// channel closes or ctx is cancelled. Connection failures end the Listener
// quietly in ListenerFailed; only a history write failure is returned.
func (l *Listener) Run(ctx context.Context) error {
	l.setState(ListenerConnecting)

	conn, err := broker.Connect(ctx, l.connOpts)
	if err != nil {
		l.logger.Debug().Err(err).Msg("listener giving up")
		l.setState(ListenerFailed)
		return nil
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		l.logger.Warn().Err(err).Msg("listener channel")
		l.setState(ListenerFailed)
		return nil
	}
	defer ch.Close()

	if err := ch.DeclareQueue(l.queue); err != nil {
		l.logger.Warn().Err(err).Msg("listener declare")
		l.setState(ListenerFailed)
		return nil
	}

	tag := fmt.Sprintf("warren-%s-%s", l.user, uuid.NewString())
	deliveries, err := ch.Consume(l.queue, tag)
	if err != nil {
		l.logger.Warn().Err(err).Msg("listener consume")
		l.setState(ListenerFailed)
		return nil
	}
	l.setState(ListenerConsuming)
	l.logger.Info().Str("consumer_tag", tag).Msg("consuming")

	for {
		select {
		case <-ctx.Done():
			l.setState(ListenerTerminated)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				l.logger.Info().Msg("delivery channel closed")
				l.setState(ListenerTerminated)
				return nil
			}
			if err := l.handle(d.Body); err != nil {
				l.setState(ListenerFailed)
				return err
			}
		}
	}
}

// handle decodes one payload, shows it and records it. Undecodable payloads
// are reported and dropped.
func (l *Listener) handle(body []byte) error {
	env, err := models.DecodeEnvelope(body)
	if err != nil {
		metrics.DecodeErrors.Inc()
		l.logger.Warn().Err(err).Int("bytes", len(body)).Msg("dropping undecodable payload")
		l.con.Printf("Error decoding message: %v\n", err)
		return nil
	}

	line := history.Received(env.Sender, env.Message)
	if l.con.prompts {
		l.con.Printf("\n%s\n%s", line, PromptChat)
	} else {
		l.con.Printf("%s\n", line)
	}
	metrics.MessagesReceived.Inc()
	return l.history.Append(line)
}
