package bootstrap

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Well-known container entries registered by Application.
const (
	ServiceConfig   = "config"
	ServiceLogger   = "logger"
	ServiceRegistry = "registry"
	ServiceSystem   = "system"
	ServiceMetrics  = "metrics"
)

// DefaultContainer is a name-keyed singleton container
type DefaultContainer struct {
	mu        sync.Mutex
	factories map[string]ServiceFactory
	instances map[string]any
	names     []string
}

// NewContainer creates a new dependency injection container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]any),
	}
}

func (c *DefaultContainer) add(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := c.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	if _, ok := c.instances[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	c.names = append(c.names, name)
	return nil
}

// Register implements Container.
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if factory == nil {
		return ErrNilService
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.add(name); err != nil {
		return err
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance implements Container.
func (c *DefaultContainer) RegisterInstance(name string, instance any) error {
	if instance == nil {
		return ErrNilService
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.add(name); err != nil {
		return err
	}
	c.instances[name] = instance
	return nil
}

// Resolve implements Container. Factories run without the lock held so they
// can resolve their own dependencies.
func (c *DefaultContainer) Resolve(name string) (any, error) {
	c.mu.Lock()
	if instance, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return instance, nil
	}
	factory, ok := c.factories[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	instance, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create service %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.instances[name]; ok {
		return existing, nil
	}
	c.instances[name] = instance
	return instance, nil
}

// ResolveAs implements Container.
func (c *DefaultContainer) ResolveAs(name string, target any) error {
	instance, err := c.Resolve(name)
	if err != nil {
		return err
	}
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", ErrNotAssignable)
	}
	iv := reflect.ValueOf(instance)
	if !iv.Type().AssignableTo(tv.Elem().Type()) {
		return fmt.Errorf("%w: %s is %s, want %s", ErrNotAssignable, name, iv.Type(), tv.Elem().Type())
	}
	tv.Elem().Set(iv)
	return nil
}

// Has implements Container.
func (c *DefaultContainer) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, f := c.factories[name]
	_, i := c.instances[name]
	return f || i
}

// Names implements Container.
func (c *DefaultContainer) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.names)
}

// Resolve is the typed form of Container.Resolve.
func Resolve[T any](c Container, name string) (T, error) {
	var out T
	err := c.ResolveAs(name, &out)
	return out, err
}
