package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/outcomed/internal/config"
	"github.com/fyrsmithlabs/outcomed/internal/logging"
	"github.com/fyrsmithlabs/outcomed/internal/tenant"
)

// Payload is the fan-out message.
type Payload struct {
	TenantID  string `json:"tenantId"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	ActionURL string `json:"actionUrl"`
}

// Dispatcher pushes notifications to an external channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, p Payload) error
	Close()
}

// NoopDispatcher drops every payload.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Payload) error { return nil }
func (NoopDispatcher) Close()                                  {}

// NATSDispatcher publishes payloads to <subject>.<tenant>.
type NATSDispatcher struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNATSDispatcher publishes on an existing connection. The caller keeps
// ownership of nc.
func NewNATSDispatcher(nc *nats.Conn, subject string) *NATSDispatcher {
	return &NATSDispatcher{conn: nc, subject: subject}
}

// Dispatch publishes p. Delivery is at-most-once.
func (d *NATSDispatcher) Dispatch(_ context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := d.conn.Publish(d.SubjectFor(p.TenantID), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// SubjectFor returns the subject a tenant's notifications go to.
func (d *NATSDispatcher) SubjectFor(tenantID string) string {
	return d.subject + "." + tenant.SubjectToken(tenantID)
}

// Close drains the connection if the dispatcher opened it.
func (d *NATSDispatcher) Close() {
	if d.owned {
		_ = d.conn.Drain()
	}
}

// NewDispatcher builds the configured dispatcher.
func NewDispatcher(cfg *config.Config, logger *logging.Logger) (Dispatcher, error) {
	switch cfg.Notifier.Dispatcher {
	case "", "none":
		return NoopDispatcher{}, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("outcomed"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait.Duration()),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		logger.Info(context.Background(), "connected to nats", zap.String("url", cfg.NATS.URL))
		d := NewNATSDispatcher(nc, cfg.Notifier.Subject)
		d.owned = true
		return d, nil
	default:
		return nil, fmt.Errorf("unknown notifier dispatcher %q", cfg.Notifier.Dispatcher)
	}
}
