package circuitbreaker

import (
	"slices"
	"sync"
)

// Registry holds one breaker per host, created on first use. Outbound
// clients that talk to the same host share its breaker.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry whose breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for host.
func (r *Registry) Get(host string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[host]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, exists = r.breakers[host]; exists {
		return b
	}
	b = New(r.config)
	r.breakers[host] = b
	return b
}

// Open returns the sorted hosts whose circuit is not closed.
func (r *Registry) Open() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hosts []string
	for host, b := range r.breakers {
		if b.State() != Closed {
			hosts = append(hosts, host)
		}
	}
	slices.Sort(hosts)
	return hosts
}
