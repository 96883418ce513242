package messaging

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/edflow/backend/internal/models"
)

// DefaultPrefix is the subject root events are published under.
const DefaultPrefix = "edsim.events"

// Publisher is the part of *nats.Conn the event sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "edsim",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
		ConnectTimeout: 5 * time.Second,
	}
}

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn

	mu         sync.RWMutex
	reconnects int
	connected  bool
}

func NewClient(cfg Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{conn: conn, connected: true}
	conn.SetReconnectHandler(func(*nats.Conn) {
		client.mu.Lock()
		client.reconnects++
		client.connected = true
		client.mu.Unlock()
	})
	conn.SetDisconnectErrHandler(func(*nats.Conn, error) {
		client.mu.Lock()
		client.connected = false
		client.mu.Unlock()
	})
	return client, nil
}

func (c *Client) Publish(subject string, data []byte) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

// Close flushes pending messages and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Drain()
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return err
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, t models.EventType) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + strings.ToLower(string(t))
}

type envelope struct {
	RunID string       `json:"run_id"`
	Event models.Event `json:"event"`
}

// EventSink publishes every recorded event of one run. Publishing is best
// effort: failures are counted and the first one is kept, but the run goes on.
type EventSink struct {
	pub    Publisher
	prefix string
	runID  string

	published int
	failed    int
	err       error
}

func NewEventSink(pub Publisher, prefix, runID string) *EventSink {
	return &EventSink{pub: pub, prefix: prefix, runID: runID}
}

func (s *EventSink) Write(e models.Event) error {
	payload, err := json.Marshal(envelope{RunID: s.runID, Event: e})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.pub.Publish(Subject(s.prefix, e.Type), payload); err != nil {
		s.failed++
		if s.err == nil {
			s.err = fmt.Errorf("publish %s: %w", e.Type, err)
		}
		return nil
	}
	s.published++
	return nil
}

func (s *EventSink) Published() int { return s.published }

func (s *EventSink) Failed() int { return s.failed }

// Err returns the first publish failure.
func (s *EventSink) Err() error { return s.err }
