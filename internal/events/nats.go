package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/handler"
)

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Client wraps a NATS connection with JetStream support.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// Connect dials NATS and opens a JetStream context.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	logger.Info("NATS connection established", zap.String("url", conn.ConnectedUrl()))
	return &Client{conn: conn, js: js, logger: logger}, nil
}

// EnsureStream creates or updates a stream capturing subject.>.
func (c *Client) EnsureStream(ctx context.Context, name, subject string) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{subject + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("creating/updating stream %s: %w", name, err)
	}
	c.logger.Info("stream ensured", zap.String("name", name), zap.String("subject", subject))
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// HealthCheck reports whether the connection is up.
func (c *Client) HealthCheck() error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

// Publisher is the subset of jetstream.JetStream used to publish.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes payment outcomes on <subject>.<status>. It
// implements handler.CallbackSender.
type NATSPublisher struct {
	js      Publisher
	subject string
	now     func() time.Time
	logger  *zap.Logger
}

var _ handler.CallbackSender = (*NATSPublisher)(nil)

// NewNATSPublisher builds a publisher rooted at subject.
func NewNATSPublisher(js Publisher, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	subject = strings.TrimSuffix(strings.TrimSpace(subject), ".")
	if subject == "" {
		subject = "payments.stk"
	}
	return &NATSPublisher{
		js:      js,
		subject: subject,
		now:     time.Now,
		logger:  logger.Named("events"),
	}
}

// Subject returns the subject an outcome with status is published on.
func (p *NATSPublisher) Subject(status string) string {
	return p.subject + "." + status
}

// Send publishes resp. The envelope id doubles as the JetStream message id
// so redeliveries are deduplicated.
func (p *NATSPublisher) Send(ctx context.Context, resp handler.PaymentResponse) error {
	env, err := OutcomeEnvelope(resp, p.now())
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	subject := p.Subject(string(resp.Status))
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.ID)); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.logger.Debug("event published",
		zap.String("event_id", env.ID),
		zap.String("subject", subject),
		zap.String("session_id", resp.SessionID))
	return nil
}
