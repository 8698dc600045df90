package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher is the narrow surface the core needs for event fanout.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NatsClient wraps the NATS connection and its JetStream context.
type NatsClient struct {
	Conn   *nats.Conn
	JS     jetstream.JetStream
	logger *slog.Logger
}

// NewNatsClient connects to NATS with reconnect handling and sets up JetStream.
// natsURL example: "nats://localhost:4222"
func NewNatsClient(natsURL string, appName string, logger *slog.Logger) (*NatsClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("NATS connection closed", "error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsClient{Conn: nc, JS: js, logger: logger}, nil
}

// Publish sends one message through JetStream so consumers get at-least-once
// delivery.
func (c *NatsClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.JS.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so queued publishes are flushed before shutdown.
func (c *NatsClient) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		_ = c.Conn.Drain()
		c.Conn.Close()
	}
}
