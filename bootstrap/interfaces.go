// Package bootstrap wires a sage application together: it builds the logger,
// metrics, actor system, groups and transport from a config.Config, starts
// them in dependency order and drives the main group tick loop.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service is a component managed by the lifecycle manager
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	State   HealthState    `json:"state"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStopped   HealthState = "stopped"
)

// Container provides dependency injection to setup hooks
type Container interface {
	// Register registers a lazily built singleton
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers an existing value
	RegisterInstance(name string, instance any) error

	// Resolve returns the instance registered under name, building it on
	// first use
	Resolve(name string) (any, error)

	// ResolveAs resolves name into the value target points to
	ResolveAs(name string, target any) error

	Has(name string) bool

	// Names returns the registered names in order
	Names() []string
}

// ServiceFactory builds a container entry
type ServiceFactory func(c Container) (any, error)

// Lifecycle event types
const (
	EventServiceRegistered  = "service.registered"
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
	EventLifecycleStarted   = "lifecycle.started"
	EventLifecycleStopped   = "lifecycle.stopped"
)

// LifecycleEvent is reported to lifecycle listeners
type LifecycleEvent struct {
	Type      string
	Service   string
	Timestamp time.Time
	Error     error
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
