package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// LifecycleManager starts services in dependency order and stops them in
// reverse.
type LifecycleManager struct {
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	services  map[string]Service
	deps      map[string][]string
	order     []string
	started   []string
	running   bool
	listeners []func(LifecycleEvent)
}

// NewLifecycleManager creates a lifecycle manager. A nil logger uses
// slog.Default().
func NewLifecycleManager(logger *slog.Logger) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleManager{
		logger:   logger.With(slog.String("component", "lifecycle")),
		timeout:  30 * time.Second,
		services: make(map[string]Service),
		deps:     make(map[string][]string),
	}
}

// SetTimeout bounds each Start and Stop call.
func (lm *LifecycleManager) SetTimeout(d time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.timeout = d
}

// AddListener adds a lifecycle event listener. Listeners run synchronously
// and must not call back into the manager.
func (lm *LifecycleManager) AddListener(fn func(LifecycleEvent)) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.listeners = append(lm.listeners, fn)
}

// Register registers a service that starts after deps.
func (lm *LifecycleManager) Register(service Service, deps ...string) error {
	if service == nil {
		return ErrNilService
	}
	name := service.Name()
	if name == "" {
		return ErrEmptyName
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.running {
		return fmt.Errorf("register %s: %w", name, ErrAlreadyStarted)
	}
	if _, ok := lm.services[name]; ok {
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	lm.services[name] = service
	lm.deps[name] = deps
	lm.order = append(lm.order, name)
	lm.emit(LifecycleEvent{Type: EventServiceRegistered, Service: name})
	return nil
}

// Services returns the registered service names in registration order.
func (lm *LifecycleManager) Services() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return slices.Clone(lm.order)
}

// IsStarted reports whether Start succeeded and Stop has not run since.
func (lm *LifecycleManager) IsStarted() bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.running
}

// Start starts every service in dependency order. When one fails, the
// services already started are stopped again.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.running {
		return ErrAlreadyStarted
	}
	order, err := lm.startOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		svc := lm.services[name]
		sctx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := svc.Start(sctx)
		cancel()
		if err != nil {
			lm.emit(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			lm.logger.Error("service failed to start", slog.String("service", name), slog.Any("error", err))
			rollback := lm.stopStarted(context.WithoutCancel(ctx))
			return errors.Join(&ApplicationError{Operation: "start", Service: name, Err: err}, rollback)
		}
		lm.started = append(lm.started, name)
		lm.emit(LifecycleEvent{Type: EventServiceStarted, Service: name})
		lm.logger.Debug("service started", slog.String("service", name))
	}

	lm.running = true
	lm.emit(LifecycleEvent{Type: EventLifecycleStarted})
	return nil
}

// Stop stops the started services in reverse start order. Every service is
// stopped even when some fail; the failures are joined.
func (lm *LifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if !lm.running {
		return nil
	}
	err := lm.stopStarted(ctx)
	lm.running = false
	lm.emit(LifecycleEvent{Type: EventLifecycleStopped})
	return err
}

func (lm *LifecycleManager) stopStarted(ctx context.Context) error {
	var errs []error
	for _, name := range slices.Backward(lm.started) {
		sctx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(sctx)
		cancel()
		if err != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.emit(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			lm.logger.Warn("service failed to stop", slog.String("service", name), slog.Any("error", err))
			continue
		}
		lm.emit(LifecycleEvent{Type: EventServiceStopped, Service: name})
	}
	lm.started = nil
	return errors.Join(errs...)
}

// Health checks every service concurrently.
func (lm *LifecycleManager) Health(ctx context.Context) map[string]HealthStatus {
	lm.mu.Lock()
	services := make(map[string]Service, len(lm.services))
	for name, svc := range lm.services {
		services[name] = svc
	}
	lm.mu.Unlock()

	var mu sync.Mutex
	out := make(map[string]HealthStatus, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for name, svc := range services {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			status, err := svc.Health(hctx)
			if err != nil {
				status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
			}
			mu.Lock()
			out[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// startOrder sorts the services topologically (Kahn), breaking ties by
// registration order.
func (lm *LifecycleManager) startOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))
	for _, name := range lm.order {
		for _, dep := range lm.deps[name] {
			if _, ok := lm.services[dep]; !ok {
				return nil, fmt.Errorf("%w: %s needs %s", ErrUnknownDependency, name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue, result []string
	for _, name := range lm.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)
		for _, d := range dependents[current] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(result) != len(lm.services) {
		return nil, ErrCircularDependency
	}
	return result, nil
}

func (lm *LifecycleManager) emit(ev LifecycleEvent) {
	ev.Timestamp = time.Now()
	for _, fn := range lm.listeners {
		fn(ev)
	}
}
