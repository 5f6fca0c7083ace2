package discovery

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-memory resolver for fixed or test topologies.
// Registration replaces are visible to subsequent Resolve calls;
// returned slices are copies and safe to retain.
type Static struct {
	mu       sync.RWMutex
	services map[string][]Instance
}

// NewStatic creates an empty static resolver
func NewStatic() *Static {
	return &Static{services: make(map[string][]Instance)}
}

// Register appends instances for a service
func (s *Static) Register(service string, instances ...Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.services[service] = append(s.services[service], instances...)
}

// SetInstances replaces the full instance set for a service
func (s *Static) SetInstances(service string, instances []Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]Instance, len(instances))
	copy(copied, instances)
	s.services[service] = copied
}

// SetStatus updates the status of a registered instance
func (s *Static) SetStatus(service, instanceID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, inst := range s.services[service] {
		if inst.ID == instanceID {
			s.services[service][i].Status = status
			return true
		}
	}
	return false
}

// SetWeight updates the advertised weight of a registered instance
func (s *Static) SetWeight(service, instanceID string, weight int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, inst := range s.services[service] {
		if inst.ID == instanceID {
			s.services[service][i].Weight = weight
			return true
		}
	}
	return false
}

// Remove deletes an instance from a service
func (s *Static) Remove(service, instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances := s.services[service]
	for i, inst := range instances {
		if inst.ID == instanceID {
			s.services[service] = append(instances[:i], instances[i+1:]...)
			return true
		}
	}
	return false
}

// Services returns the registered service names in sorted order
func (s *Static) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns a copy of the current instance set.
// An unknown service resolves to an empty set, not an error.
func (s *Static) Resolve(ctx context.Context, service string) ([]Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := s.services[service]
	copied := make([]Instance, len(instances))
	copy(copied, instances)
	return copied, nil
}
