package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sentinel-labs/taskconsumer/internal/broker"
)

// Manifest describes queue bindings with full exchange routing detail,
// for deployments where the comma-separated WORKER_QUEUES default
// (name == exchange == routing key) isn't enough. It declares queue
// topology only; boot steps cannot be declared in it. Loaded from a YAML
// file named by CONSUMER_BOOT_STEP_MANIFEST.
type Manifest struct {
	Queues []QueueManifestEntry `yaml:"queues"`
}

// QueueManifestEntry is one queue binding in a Manifest.
type QueueManifestEntry struct {
	Name         string `yaml:"name"`
	Exchange     string `yaml:"exchange"`
	ExchangeType string `yaml:"exchange_type"`
	RoutingKey   string `yaml:"routing_key"`
}

// LoadManifest reads and parses a queue-topology manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// QueueBindings converts the manifest's entries into broker.QueueBinding
// values, defaulting exchange/routing-key fields to the queue name the
// way the comma-separated WORKER_QUEUES default does.
func (m *Manifest) QueueBindings() []broker.QueueBinding {
	out := make([]broker.QueueBinding, 0, len(m.Queues))
	for _, q := range m.Queues {
		b := broker.QueueBinding{
			Name:         q.Name,
			Exchange:     q.Exchange,
			ExchangeType: q.ExchangeType,
			RoutingKey:   q.RoutingKey,
		}
		if b.Exchange == "" {
			b.Exchange = b.Name
		}
		if b.ExchangeType == "" {
			b.ExchangeType = "direct"
		}
		if b.RoutingKey == "" {
			b.RoutingKey = b.Name
		}
		out = append(out, b)
	}
	return out
}
