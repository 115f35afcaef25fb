package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/warren/internal/broker"
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/metrics"
	"github.com/zulandar/warren/internal/models"
)

// Publisher sends chat lines to the target queue over a connection it owns.
type Publisher struct {
	conn      broker.Connection
	ch        broker.Channel
	queue     string
	user      string
	con       *console
	history   *history.Store
	closeOnce sync.Once
}

// newPublisher opens a channel on conn and declares the target queue. On
// failure conn is closed.
func newPublisher(conn broker.Connection, queue, user string, con *console, store *history.Store) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("chat: publisher: %w", err)
	}
	if err := ch.DeclareQueue(queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("chat: publisher: %w", err)
	}
	return &Publisher{
		conn:    conn,
		ch:      ch,
		queue:   queue,
		user:    user,
		con:     con,
		history: store,
	}, nil
}

// Send publishes text as an envelope from the local user, echoes it and
// records it. Delivery is not confirmed.
func (p *Publisher) Send(ctx context.Context, text string) error {
	body, err := models.Envelope{Sender: p.user, Message: text}.Encode()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := p.ch.Publish(ctx, p.queue, body); err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}
	metrics.PublishLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesSent.WithLabelValues("broker").Inc()

	line := history.Sent(p.user, text)
	p.con.Printf("%s\n", line)
	return p.history.Append(line)
}

// Close releases the channel and connection. Safe to call more than once;
// only the first call closes.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.ch.Close()
		err = p.conn.Close()
	})
	return err
}
