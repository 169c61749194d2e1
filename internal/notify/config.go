package notify

import "time"

// Delivery defaults.
const (
	defaultMaxRetries       = 3
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMaxRequeues      = 10
	defaultBufferSize       = 1000
	defaultWorkers          = 2
	defaultHTTPTimeout      = 10 * time.Second
	defaultDeliverTimeout   = 30 * time.Second
)

// Config holds configuration for the webhook notifier.
type Config struct {
	URL         string        // webhook receiving every event
	SigningKey  string        // HMAC key, empty = unsigned
	Source      string        // CloudEvents source (default: modelops/pipeline)
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 2)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	// Cooldown overrides the circuit breaker cooldown and requeue delay.
	Cooldown time.Duration
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = "modelops/pipeline"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultBreakerCooldown
	}
	return c
}
