// Package events publishes operational events (routing decisions, backend
// failures, room lifecycle) for external observers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects
const (
	SubjectRoute           = "arcade.route"
	SubjectBackendFailure  = "arcade.backend.failure"
	SubjectBackendLaunched = "arcade.backend.launched"
	SubjectRoomCreated     = "arcade.room.created"
	SubjectRoomClosed      = "arcade.room.closed"
)

// Event is the envelope every subject carries.
type Event struct {
	Subject string            `json:"subject"`
	At      time.Time         `json:"at"`
	Attrs   map[string]string `json:"attrs"`
}

// Publisher delivers events. Publish never blocks on the network and never fails the caller.
type Publisher interface {
	Publish(subject string, attrs map[string]string)
	Close()
}

// LogPublisher writes events to a logger at debug level.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a Publisher backed by logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(subject string, attrs map[string]string) {
	args := make([]any, 0, 2*len(attrs)+2)
	args = append(args, "subject", subject)
	for k, v := range attrs {
		args = append(args, k, v)
	}
	p.logger.Debug("event", args...)
}

func (p *LogPublisher) Close() {}

// NATSPublisher sends events over core NATS (fire and forget).
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to url with unlimited reconnects.
func NewNATSPublisher(url, name string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

func (p *NATSPublisher) Publish(subject string, attrs map[string]string) {
	data, err := json.Marshal(Event{Subject: subject, At: time.Now().UTC(), Attrs: attrs})
	if err != nil {
		p.logger.Warn("encode event", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("publish event", "subject", subject, "error", err)
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("flush events", "error", err)
	}
	p.conn.Close()
}

// Open returns a NATS publisher when url is set, falling back to the log
// publisher when it is empty or unreachable.
func Open(url, name string, logger *slog.Logger) Publisher {
	if url == "" {
		return NewLogPublisher(logger)
	}
	pub, err := NewNATSPublisher(url, name, logger)
	if err != nil {
		logger.Warn("event bus unavailable, logging events instead", "url", url, "error", err)
		return NewLogPublisher(logger)
	}
	logger.Info("publishing events", "url", url)
	return pub
}
