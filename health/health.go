// Package health defines the status report shared by all resilience components.
package health

import "time"

// Status is a point-in-time component health report
type Status struct {
	Component string
	Healthy   bool
	Details   map[string]interface{}
	CheckedAt time.Time
}

// Healthy builds a healthy status for a component
func Healthy(component string, details map[string]interface{}) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Details:   details,
		CheckedAt: time.Now(),
	}
}

// Unhealthy builds an unhealthy status for a component
func Unhealthy(component string, details map[string]interface{}) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Details:   details,
		CheckedAt: time.Now(),
	}
}
