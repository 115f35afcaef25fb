package chat

import (
	"github.com/zulandar/warren/internal/history"
	"github.com/zulandar/warren/internal/metrics"
)

// standalone is the broker-free degraded mode: lines are echoed and logged
// locally and nothing leaves the process.
type standalone struct {
	user    string
	con     *console
	history *history.Store
}

func (s *standalone) banner() error {
	s.con.Printf("==================================================\n")
	s.con.Printf("STANDALONE MODE (No RabbitMQ)\n")
	s.con.Printf("==================================================\n")
	if err := s.history.Show(s.con); err != nil {
		return err
	}
	s.con.Printf("Messages will not be sent to any other container.\n\n")
	return nil
}

func (s *standalone) Send(text string) error {
	line := history.SentStandalone(s.user, text)
	s.con.Printf("%s\n", line)
	metrics.MessagesSent.WithLabelValues("standalone").Inc()
	return s.history.Append(line)
}
