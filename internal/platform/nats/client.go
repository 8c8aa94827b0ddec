// Package nats wraps the NATS connection used to queue inbound SMS.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps a NATS connection with lifecycle logging.
type Client struct {
	Conn   *nats.Conn
	logger *slog.Logger
}

// New connects to url and reconnects forever.
// Returns nil if the URL is empty (NATS not configured).
func New(url, appName string, logger *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{Conn: nc, logger: logger}, nil
}

// Publish sends data on subject and flushes so the caller knows the server has it.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.Conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := c.Conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Health reports whether the connection is usable.
func (c *Client) Health(context.Context) error {
	if c.Conn.Status() != nats.CONNECTED {
		return fmt.Errorf("nats status %s", c.Conn.Status())
	}
	return nil
}

// Close drains subscriptions and pending publishes, then closes.
func (c *Client) Close() {
	if c.Conn == nil || c.Conn.IsClosed() {
		return
	}
	if err := c.Conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.Conn.Close()
	}
}
