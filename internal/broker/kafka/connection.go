// Package kafka adapts github.com/IBM/sarama to the broker.Connection /
// broker.TaskConsumer interfaces, demonstrating that the Consumer core's
// connection step is transport-agnostic (spec §6, §9). Grounded on the
// sarama consumer-group adapter patterns in the Stars1233-sarama example
// repo.
package kafka

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/IBM/sarama"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
)

// Connection wraps a sarama consumer-group client. Kafka has no
// channel-level prefetch knob analogous to AMQP QoS, so SetPrefetch is a
// no-op; no fetch-size setting is derived from the prefetch value — see
// DESIGN.md for the rationale.
type Connection struct {
	brokers []string
	groupID string
	topics  []string

	mu     sync.Mutex
	client sarama.ConsumerGroup
	cancel context.CancelFunc
}

// New builds a Kafka Connection. brokers are host:port pairs.
func New(brokers []string, groupID string, topics []string) *Connection {
	return &Connection{brokers: brokers, groupID: groupID, topics: topics}
}

func (c *Connection) Connect() error {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewConsumerGroup(c.brokers, c.groupID, cfg)
	if err != nil {
		return fmt.Errorf("kafka consumer group: %w", err)
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

func (c *Connection) AsURI() string {
	return "kafka://" + strings.Join(c.brokers, ",")
}

func (c *Connection) Info() map[string]any {
	return map[string]any{
		"brokers":  c.brokers,
		"group_id": c.groupID,
	}
}

func (c *Connection) HasAlternate() bool { return len(c.brokers) > 1 }

// IsRecoverable treats every sarama error as broker-recoverable: sarama
// surfaces both transient network faults and broker-side rebalance
// errors through the same error channel, and none of them represent a
// programmer bug in this adapter.
func (c *Connection) IsRecoverable(err error) bool { return err != nil }

// SetPrefetch is a documented no-op; see the Connection doc comment.
func (c *Connection) SetPrefetch(n int) error { return nil }

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Connection) client_() sarama.ConsumerGroup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func redactedURL(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	u.User = nil
	return u.String()
}

var _ broker.Connection = (*Connection)(nil)
