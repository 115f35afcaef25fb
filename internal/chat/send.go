package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/warren/internal/broker"
)

// SendOnce connects with the session's settings, publishes a single line to
// the target queue and records it, without starting a Listener.
func SendOnce(ctx context.Context, opts SessionOpts, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("chat: message is empty")
	}
	s, err := NewSession(opts)
	if err != nil {
		return err
	}
	if s.cfg.TargetQueue == "" {
		return fmt.Errorf("chat: target queue is required")
	}

	conn, err := broker.Connect(ctx, s.brokerOpts(s.dialer))
	if err != nil {
		return err
	}
	pub, err := newPublisher(conn, s.cfg.TargetQueue, s.cfg.User, s.con, s.history)
	if err != nil {
		return err
	}
	defer pub.Close()
	return pub.Send(ctx, text)
}
