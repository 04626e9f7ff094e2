// Package registry tracks upstream service instances, their health and
// the round-robin rotation the proxy picks from.
package registry

import (
	"sync"
)

// Instance is one upstream process of a service.
type Instance struct {
	BaseURL string
	Healthy bool
}

// Service is a named upstream with its instances.
type Service struct {
	Name      string
	instances []*Instance
	next      int
	mu        sync.Mutex
}

// NewService creates a service whose instances all start healthy.
func NewService(name string, baseURLs []string) *Service {
	instances := make([]*Instance, 0, len(baseURLs))
	for _, u := range baseURLs {
		instances = append(instances, &Instance{BaseURL: u, Healthy: true})
	}
	return &Service{Name: name, instances: instances}
}

// Pick returns the next instance in rotation, preferring healthy ones.
// When every instance is marked unhealthy it falls open and rotates
// over all of them, so a flapping health checker cannot black-hole the
// service. Returns nil only when no instances are configured.
func (s *Service) Pick() *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.instances) == 0 {
		return nil
	}
	for range s.instances {
		inst := s.instances[s.next%len(s.instances)]
		s.next++
		if inst.Healthy {
			return inst
		}
	}
	// Fail open.
	inst := s.instances[s.next%len(s.instances)]
	s.next++
	return inst
}

// SetHealth flips an instance's health flag.
func (s *Service) SetHealth(baseURL string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.BaseURL == baseURL {
			inst.Healthy = healthy
		}
	}
}

// Snapshot returns a copy of the instance states.
func (s *Service) Snapshot() []Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	return out
}

// HealthyCount returns how many instances are currently healthy.
func (s *Service) HealthyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inst := range s.instances {
		if inst.Healthy {
			n++
		}
	}
	return n
}

// Registry holds every upstream service by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]*Service)}
}

// Add registers a service.
func (r *Registry) Add(service *Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[service.Name] = service
}

// Get returns the named service, or nil.
func (r *Registry) Get(name string) *Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[name]
}

// All returns every registered service.
func (r *Registry) All() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}
