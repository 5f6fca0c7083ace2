// Package discovery defines how callers supply service instances to the
// relay client. Resolution is a collaborator: implementations may be backed
// by static registration, DNS, or an external control plane.
package discovery

import "context"

// Status is the reported serving state of an instance
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDraining  Status = "draining"
)

// Instance is a single addressable backend for a service
type Instance struct {
	ID      string
	Address string
	Weight  int
	Status  Status
}

// Healthy reports whether the instance is accepting traffic
func (i Instance) Healthy() bool {
	return i.Status == StatusHealthy
}

// Resolver supplies the current instance set for a service.
// Implementations must be safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, service string) ([]Instance, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, service string) ([]Instance, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, service string) ([]Instance, error) {
	return f(ctx, service)
}
