// Package events publishes session transitions after every commit.
//
// Events are JSON documents published to NATS subjects of the form:
//
//	{prefix}.session.{session_id}.{action}
//
// so a subscriber can follow one session ("taskmaster.session.abc.>") or all
// of them ("taskmaster.session.>"). Publishing is fire-and-forget: a failed
// publish is logged by the caller and never fails the command that caused it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when none is configured.
const DefaultSubjectPrefix = "taskmaster"

// Event describes one committed command.
type Event struct {
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	TaskID    string    `json:"task_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards events.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("taskmaster"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisher wraps an existing connection. Close does not close nc.
func NewNATSPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject e is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.session.%s.%s", p.prefix, e.SessionID, e.Action)
}

// Publish marshals e and publishes it.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(e)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject))
	return nil
}

// Subscribe delivers events for sessionID, or for every session when
// sessionID is empty.
func (p *NATSPublisher) Subscribe(sessionID string, fn func(Event)) (*nats.Subscription, error) {
	id := sessionID
	if id == "" {
		id = "*"
	}
	subject := fmt.Sprintf("%s.session.%s.>", p.prefix, id)
	return p.nc.Subscribe(subject, func(msg *nats.Msg) {
		var e Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			p.logger.Warn("dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		fn(e)
	})
}

// Flush waits until published events reached the server.
func (p *NATSPublisher) Flush() error {
	return p.nc.Flush()
}

// Close drains the connection when the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
