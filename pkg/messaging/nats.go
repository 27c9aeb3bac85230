package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Client wraps the NATS connection used for boundary events. Events are
// observational: the policy engine never consumes its own events, it only
// publishes them for auditors and downstream services.
type Client struct {
	conn      *nats.Conn
	subs      map[string]*nats.Subscription
	mu        sync.RWMutex
	connected bool
}

// Options holds NATS connection options.
type Options struct {
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NewClient connects to NATS.
func NewClient(url string, opts Options) (*Client, error) {
	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.Timeout(opts.ConnectTimeout),
	}

	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{
		conn:      conn,
		subs:      make(map[string]*nats.Subscription),
		connected: true,
	}

	conn.SetReconnectHandler(func(nc *nats.Conn) {
		client.mu.Lock()
		client.connected = true
		client.mu.Unlock()
	})
	conn.SetDisconnectErrHandler(func(nc *nats.Conn, err error) {
		client.mu.Lock()
		client.connected = false
		client.mu.Unlock()
	})

	return client, nil
}

// Publish publishes a JSON-encoded event to a subject.
func (c *Client) Publish(ctx context.Context, subject string, data interface{}) error {
	if c == nil || c.conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return c.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject.
func (c *Client) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[subject]; exists {
		return fmt.Errorf("already subscribed to %s", subject)
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.subs[subject] = sub
	return nil
}

// QueueSubscribe subscribes to a subject within a queue group.
func (c *Client) QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := subject + ":" + queue
	if _, exists := c.subs[key]; exists {
		return fmt.Errorf("already subscribed to %s with queue %s", subject, queue)
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return fmt.Errorf("failed to queue subscribe: %w", err)
	}

	c.subs[key] = sub
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, exists := c.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	delete(c.subs, subject)
	return nil
}

// IsConnected reports connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

// Drain drains the connection, flushing pending messages.
func (c *Client) Drain() error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.Drain()
}

// Close tears down all subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, subject)
	}

	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	return nil
}
