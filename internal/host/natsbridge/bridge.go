// Package natsbridge feeds worker messages published on NATS into a local
// runtime, standing in for the worker-to-client message channel when the
// push arrives at another process.
package natsbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/gymbell/gymbell/internal/host"
	"github.com/gymbell/gymbell/internal/logging"
)

// SubjectPrefix is the subject namespace for per-member notifications.
const SubjectPrefix = "gym.notifications."

// Deliverer receives decoded messages. *local.Runtime implements it.
type Deliverer interface {
	Deliver(msg host.Message)
}

// Subject returns the default subject for member. Characters NATS treats
// as separators or wildcards are replaced.
func Subject(member string) string {
	member = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(member)
	if member == "" {
		member = "anonymous"
	}
	return SubjectPrefix + member
}

// Connect dials url, reconnecting forever in the background.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gymbell"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge.Connect: %w", err)
	}
	return nc, nil
}

// Bridge subscribes to one subject and delivers every message it decodes.
type Bridge struct {
	nc      *nats.Conn
	subject string
	dst     Deliverer
	log     zerolog.Logger

	subscription *nats.Subscription
}

// New returns a bridge from nc to dst. Returns nil if nc is nil.
func New(nc *nats.Conn, subject string, dst Deliverer) *Bridge {
	if nc == nil {
		return nil
	}
	return &Bridge{
		nc:      nc,
		subject: subject,
		dst:     dst,
		log:     logging.Component("natsbridge"),
	}
}

// Start begins listening on the subject.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(b.subject, b.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}
	b.subscription = sub
	b.log.Info().Str("subject", b.subject).Msg("bridge started")
	return nil
}

// Stop drains the subscription so in-flight messages are still delivered.
func (b *Bridge) Stop() error {
	if b.subscription != nil {
		if err := b.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	b.log.Info().Msg("bridge stopped")
	return nil
}

func (b *Bridge) handle(msg *nats.Msg) {
	b.deliver(msg.Data)
}

func (b *Bridge) deliver(data []byte) {
	m, err := Decode(data)
	if err != nil {
		b.log.Warn().Err(err).Msg("dropping undecodable message")
		return
	}
	b.dst.Deliver(m)
}

// Decode parses a published payload. A bare notification record (it has
// an id but its type is a notification category) is treated as a
// new-notification message carrying the record.
func Decode(data []byte) (host.Message, error) {
	var probe struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return host.Message{}, fmt.Errorf("decode message: %w", err)
	}

	switch {
	case probe.Type == host.MessageNotification:
	case probe.ID != "":
		return host.Message{
			Type:           host.MessageNotification,
			NotificationID: probe.ID,
			Payload:        json.RawMessage(data),
		}, nil
	case probe.Type == "":
		return host.Message{}, errors.New("decode message: missing type")
	}

	var m host.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return host.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
