// Package amqp adapts github.com/rabbitmq/amqp091-go to the
// broker.Connection / broker.TaskConsumer interfaces, grounded on the
// teacher's internal/delivery/amqp/consumer.go.
package amqp

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	amqplib "github.com/rabbitmq/amqp091-go"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
)

// Connection wraps a single amqp091-go connection + channel pair.
type Connection struct {
	url            string
	heartbeatSec   int
	dialTimeoutSec int
	altURLs        []string

	mu   sync.Mutex
	conn *amqplib.Connection
	ch   *amqplib.Channel
}

// New builds a Connection for the given URL. altURLs, if non-empty,
// enables the failover log branch in spec §4.2/§9. dialTimeoutSec of 0
// uses amqp091-go's own default dialer timeout.
func New(dsn string, heartbeatSec, dialTimeoutSec int, altURLs ...string) *Connection {
	return &Connection{url: dsn, heartbeatSec: heartbeatSec, dialTimeoutSec: dialTimeoutSec, altURLs: altURLs}
}

// Connect dials the broker and opens a channel. It is the operation
// broker.EnsureConnection retries.
func (c *Connection) Connect() error {
	cfg := amqplib.Config{Heartbeat: time.Duration(c.heartbeatSec) * time.Second}
	if c.dialTimeoutSec > 0 {
		cfg.Dial = amqplib.DefaultDial(time.Duration(c.dialTimeoutSec) * time.Second)
	}
	conn, err := amqplib.DialConfig(c.url, cfg)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.ch = conn, ch
	c.mu.Unlock()
	return nil
}

// AsURI renders the broker target with any userinfo stripped.
func (c *Connection) AsURI() string {
	u, err := url.Parse(c.url)
	if err != nil {
		return "amqp://<unparseable>"
	}
	u.User = nil
	return u.String()
}

// Info returns connection metadata without a password field (spec §6).
func (c *Connection) Info() map[string]any {
	u, err := url.Parse(c.url)
	if err != nil {
		return map[string]any{}
	}
	host := u.Hostname()
	return map[string]any{
		"hostname":  host,
		"port":      u.Port(),
		"virtual_host": u.Path,
		"heartbeat": c.heartbeatSec,
	}
}

// HasAlternate reports whether failover hosts were configured.
func (c *Connection) HasAlternate() bool { return len(c.altURLs) > 0 }

// IsRecoverable classifies connection/channel faults per spec §3, §7.
// amqp091-go signals a broker-initiated channel/connection closure as
// an *amqplib.Error — that is the recoverable bucket this adapter ever
// produces from Consume/Publish/Qos/Connect, since it never wraps a
// programmer error in one of those. Any other error (a caller bug, a
// malformed argument) propagates unchanged per spec §7.
func (c *Connection) IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*amqplib.Error)
	return ok
}

// SetPrefetch applies channel-level QoS (spec §4.4).
func (c *Connection) SetPrefetch(n int) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("amqp: channel not connected")
	}
	return ch.Qos(n, 0, false)
}

// Close releases the channel and connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// channel returns the live channel under lock, for the task-consumer
// adapter in this package.
func (c *Connection) channel() *amqplib.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

var _ broker.Connection = (*Connection)(nil)
