// Package bus carries capability reset notices over NATS so every process
// serving the same deployment re-reads its capabilities together.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/extcore/core/infra/logging"
	"github.com/nats-io/nats.go"
)

// DefaultResetSubject is the subject reset notices are published on.
const DefaultResetSubject = "sys.capabilities.reset"

const maxDeliveries = 3

var (
	errNilBus     = errors.New("nats bus not initialized")
	errEmptyTopic = errors.New("empty subject")
)

// ResetNotice asks subscribers to rebuild their capability set. Empty
// ContextID/UserID address every subscriber.
type ResetNotice struct {
	Source    string    `json:"source"`
	ContextID string    `json:"context_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Matches reports whether the notice addresses the given context and user.
func (n ResetNotice) Matches(contextID, userID string) bool {
	if n.ContextID != "" && n.ContextID != contextID {
		return false
	}
	if n.UserID != "" && n.UserID != userID {
		return false
	}
	return true
}

// NatsBus is a thin wrapper over a NATS connection that speaks JSON notices.
type NatsBus struct {
	nc *nats.Conn
}

// NewNatsBus dials NATS at the provided URL.
func NewNatsBus(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("extcore-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from NATS", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// PublishReset sends a reset notice on subject.
func (b *NatsBus) PublishReset(subject string, notice ResetNotice) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return errEmptyTopic
	}
	data, err := EncodeNotice(notice)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// SubscribeResets invokes handler for every notice on subject. A handler
// error wrapped with RetryAfter is retried after its delay, up to three
// deliveries in total; other errors are logged and dropped.
func (b *NatsBus) SubscribeResets(subject string, handler func(ResetNotice) error) (func() error, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errEmptyTopic
	}
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data, handler, time.AfterFunc)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

func (b *NatsBus) Status() string {
	if b == nil || b.nc == nil {
		return "UNKNOWN"
	}
	return b.nc.Status().String()
}

// EncodeNotice marshals a notice, stamping IssuedAt when unset.
func EncodeNotice(n ResetNotice) ([]byte, error) {
	if n.IssuedAt.IsZero() {
		n.IssuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode reset notice: %w", err)
	}
	return data, nil
}

// DecodeNotice unmarshals a notice. An empty payload is a broadcast notice.
func DecodeNotice(data []byte) (ResetNotice, error) {
	var n ResetNotice
	if len(data) == 0 {
		return n, nil
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return ResetNotice{}, fmt.Errorf("decode reset notice: %w", err)
	}
	return n, nil
}

type scheduler func(time.Duration, func()) *time.Timer

func deliver(data []byte, handler func(ResetNotice) error, after scheduler) {
	notice, err := DecodeNotice(data)
	if err != nil {
		logging.Warn("bus", "dropping malformed reset notice", "err", err)
		return
	}
	attempt(notice, handler, after, 1)
}

func attempt(notice ResetNotice, handler func(ResetNotice) error, after scheduler, n int) {
	err := handler(notice)
	if err == nil {
		return
	}
	delay, retry := RetryDelay(err)
	if !retry || n >= maxDeliveries {
		logging.Error("bus", "reset handler failed", "source", notice.Source, "attempt", n, "err", err)
		return
	}
	logging.Warn("bus", "reset handler retrying", "source", notice.Source, "attempt", n, "delay", delay.String(), "err", err)
	after(delay, func() { attempt(notice, handler, after, n+1) })
}
