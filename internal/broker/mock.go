package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Published records one message published through a MockBroker.
type Published struct {
	Queue string
	Body  []byte
}

// MockBroker is an in-memory broker for tests. Its Dial method satisfies
// Dialer; connections created from the same MockBroker share queues, so two
// chat sessions can talk to each other through it.
type MockBroker struct {
	mu          sync.Mutex
	queues      map[string]chan amqp.Delivery
	closedQ     map[string]bool
	declared    map[string]int
	published   []Published
	dials       int
	dialTimes   []time.Time
	failDials   int // remaining dials to fail; negative fails forever
	failErr     error
	connsClosed int
	deliveryTag uint64
}

// NewMockBroker creates an empty MockBroker.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		queues:   make(map[string]chan amqp.Delivery),
		closedQ:  make(map[string]bool),
		declared: make(map[string]int),
	}
}

// FailDials makes the next n dials fail with err. A negative n fails every
// dial.
func (b *MockBroker) FailDials(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failDials = n
	b.failErr = err
}

// Dial implements Dialer.
func (b *MockBroker) Dial(url string) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	b.dialTimes = append(b.dialTimes, time.Now())
	if b.failDials != 0 {
		if b.failDials > 0 {
			b.failDials--
		}
		return nil, b.failErr
	}
	return &mockConn{broker: b}, nil
}

// queueLocked returns the buffer for name, creating it. Caller holds b.mu.
func (b *MockBroker) queueLocked(name string) chan amqp.Delivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 100)
		b.queues[name] = q
	}
	return q
}

// Deliver enqueues a raw payload on queue as if another client published it.
func (b *MockBroker) Deliver(queue string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(queue, body)
}

func (b *MockBroker) enqueueLocked(queue string, body []byte) {
	if b.closedQ[queue] {
		return
	}
	b.deliveryTag++
	b.queueLocked(queue) <- amqp.Delivery{
		RoutingKey:  queue,
		DeliveryTag: b.deliveryTag,
		Body:        body,
		Timestamp:   time.Now(),
	}
}

// CloseQueue closes the delivery channel for queue, ending any consumer.
func (b *MockBroker) CloseQueue(queue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closedQ[queue] {
		return
	}
	b.closedQ[queue] = true
	close(b.queueLocked(queue))
}

// Dials returns the number of Dial calls so far.
func (b *MockBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DialTimes returns when each Dial call happened.
func (b *MockBroker) DialTimes() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]time.Time, len(b.dialTimes))
	copy(out, b.dialTimes)
	return out
}

// Declared returns how many times queue was declared.
func (b *MockBroker) Declared(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declared[queue]
}

// AllPublished returns a copy of all published messages.
func (b *MockBroker) AllPublished() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// ConnsClosed returns the number of connections closed.
func (b *MockBroker) ConnsClosed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connsClosed
}

type mockConn struct {
	broker *MockBroker
	closed bool
}

func (c *mockConn) Channel() (Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("broker: open channel: %w", amqp.ErrClosed)
	}
	return &mockChannel{conn: c}, nil
}

func (c *mockConn) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	c.broker.connsClosed++
	return nil
}

type mockChannel struct {
	conn   *mockConn
	closed bool
}

func (c *mockChannel) usableLocked() bool {
	return !c.closed && !c.conn.closed
}

func (c *mockChannel) DeclareQueue(name string) error {
	b := c.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.usableLocked() {
		return fmt.Errorf("broker: declare queue %s: %w", name, amqp.ErrClosed)
	}
	b.declared[name]++
	b.queueLocked(name)
	return nil
}

// Publish routes to the queue only if it has been declared, mirroring the
// default exchange dropping unroutable messages.
func (c *mockChannel) Publish(ctx context.Context, queue string, body []byte) error {
	b := c.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.usableLocked() {
		return fmt.Errorf("broker: publish to %s: %w", queue, amqp.ErrClosed)
	}
	b.published = append(b.published, Published{Queue: queue, Body: append([]byte(nil), body...)})
	if b.declared[queue] > 0 {
		b.enqueueLocked(queue, body)
	}
	return nil
}

func (c *mockChannel) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	b := c.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !c.usableLocked() {
		return nil, fmt.Errorf("broker: consume %s: %w", queue, amqp.ErrClosed)
	}
	if b.declared[queue] == 0 {
		return nil, fmt.Errorf("broker: consume %s: NOT_FOUND - no queue '%s'", queue, queue)
	}
	return b.queueLocked(queue), nil
}

func (c *mockChannel) Close() error {
	b := c.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	c.closed = true
	return nil
}
