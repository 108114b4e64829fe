package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Status summarizes a provider's circuit state for health reporting.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ProviderHealth is a point-in-time view of one provider client.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	// OpenSince is when the breaker last tripped. Nil once it closes again.
	OpenSince *time.Time

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// Status maps the circuit state to a health status. A half-open breaker is
// probing the provider, so weather may still be served.
func (h *ProviderHealth) Status() Status {
	switch h.CircuitState {
	case gobreaker.StateClosed:
		return StatusHealthy
	case gobreaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// Registry records the outcome of provider calls for the health endpoint and
// the pubsub health check. Clients register themselves when built with
// ClientConfig.Registry set.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*providerRecord
	now       func() time.Time
}

type providerRecord struct {
	client        *Client
	openSince     *time.Time
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerRecord),
		now:       time.Now,
	}
}

// Register adds a provider client. A client registered under an existing
// name replaces it and starts with a clean record.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = &providerRecord{client: client}
}

// RecordSuccess records a successful call. Unknown names are ignored.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(p *providerRecord, now time.Time) {
		p.lastSuccessAt = &now
	})
}

// RecordFailure records a failed call. Unknown names are ignored.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(p *providerRecord, now time.Time) {
		p.lastFailureAt = &now
		if err != nil {
			p.lastError = err.Error()
		}
	})
}

// RecordStateChange tracks when a provider's breaker opened.
func (r *Registry) RecordStateChange(name string, to gobreaker.State) {
	r.update(name, func(p *providerRecord, now time.Time) {
		switch to {
		case gobreaker.StateOpen:
			if p.openSince == nil {
				p.openSince = &now
			}
		case gobreaker.StateClosed:
			p.openSince = nil
		}
	})
}

func (r *Registry) update(name string, fn func(p *providerRecord, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		fn(p, r.now())
	}
}

// GetHealth returns the health of one provider, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	p, ok := r.providers[name]
	var rec providerRecord
	if ok {
		rec = *p
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return rec.snapshot(name)
}

// GetAllHealth returns the health of every provider, ordered by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	records := make(map[string]providerRecord, len(r.providers))
	for name, p := range r.providers {
		records[name] = *p
	}
	r.mu.RUnlock()

	health := make([]*ProviderHealth, 0, len(records))
	for name, rec := range records {
		health = append(health, rec.snapshot(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

// Overall returns the worst status across all providers. An empty registry is healthy.
func (r *Registry) Overall() Status {
	overall := StatusHealthy
	for _, h := range r.GetAllHealth() {
		if s := h.Status(); s.rank() > overall.rank() {
			overall = s
		}
	}
	return overall
}

// Unhealthy returns the names of providers whose breaker is open.
func (r *Registry) Unhealthy() []string {
	var names []string
	for _, h := range r.GetAllHealth() {
		if h.Status() == StatusUnhealthy {
			names = append(names, h.Name)
		}
	}
	return names
}

// snapshot reads the breaker, so it must run without r.mu held: the breaker
// reports state changes to the registry while holding its own lock.
func (p *providerRecord) snapshot(name string) *ProviderHealth {
	return &ProviderHealth{
		Name:          name,
		CircuitState:  p.client.CircuitBreakerState(),
		Counts:        p.client.CircuitBreakerCounts(),
		OpenSince:     p.openSince,
		LastSuccessAt: p.lastSuccessAt,
		LastFailureAt: p.lastFailureAt,
		LastError:     p.lastError,
	}
}
