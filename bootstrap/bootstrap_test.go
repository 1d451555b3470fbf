package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainer(t *testing.T) {
	c := NewContainer()

	builds := 0
	require.NoError(t, c.Register("greeting", func(Container) (any, error) {
		builds++
		return "hello", nil
	}))
	require.NoError(t, c.RegisterInstance("answer", 42))

	v, err := c.Resolve("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	_, err = c.Resolve("greeting")
	require.NoError(t, err)
	assert.Equal(t, 1, builds, "factories build singletons")

	assert.True(t, c.Has("answer"))
	assert.False(t, c.Has("question"))
	assert.Equal(t, []string{"greeting", "answer"}, c.Names())

	_, err = c.Resolve("question")
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestContainerRegisterErrors(t *testing.T) {
	c := NewContainer()
	require.ErrorIs(t, c.Register("", func(Container) (any, error) { return 1, nil }), ErrEmptyName)
	require.ErrorIs(t, c.Register("x", nil), ErrNilService)
	require.ErrorIs(t, c.RegisterInstance("x", nil), ErrNilService)

	require.NoError(t, c.RegisterInstance("x", 1))
	require.ErrorIs(t, c.RegisterInstance("x", 2), ErrServiceExists)
	require.ErrorIs(t, c.Register("x", func(Container) (any, error) { return 3, nil }), ErrServiceExists)
}

func TestContainerFactoryDependencies(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("name", "sage"))
	require.NoError(t, c.Register("banner", func(c Container) (any, error) {
		name, err := Resolve[string](c, "name")
		if err != nil {
			return nil, err
		}
		return "welcome to " + name, nil
	}))
	require.NoError(t, c.Register("broken", func(Container) (any, error) {
		return nil, errors.New("boom")
	}))

	banner, err := Resolve[string](c, "banner")
	require.NoError(t, err)
	assert.Equal(t, "welcome to sage", banner)

	_, err = c.Resolve("broken")
	require.ErrorContains(t, err, "boom")
}

func TestContainerResolveAs(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.RegisterInstance("n", 7))

	var n int
	require.NoError(t, c.ResolveAs("n", &n))
	assert.Equal(t, 7, n)

	var s string
	require.ErrorIs(t, c.ResolveAs("n", &s), ErrNotAssignable)
	require.ErrorIs(t, c.ResolveAs("n", n), ErrNotAssignable)

	_, err := Resolve[string](c, "n")
	require.ErrorIs(t, err, ErrNotAssignable)
}

// recorder logs service calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeService struct {
	name     string
	rec      *recorder
	startErr error
	stopErr  error
	health   error
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(context.Context) error {
	s.rec.add("start " + s.name)
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.rec.add("stop " + s.name)
	return s.stopErr
}

func (s *fakeService) Health(context.Context) (HealthStatus, error) {
	if s.health != nil {
		return HealthStatus{}, s.health
	}
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(nil)

	var events []string
	lm.AddListener(func(ev LifecycleEvent) {
		if ev.Service == "" {
			events = append(events, ev.Type)
		}
	})

	require.NoError(t, lm.Register(&fakeService{name: "network", rec: rec}, "system"))
	require.NoError(t, lm.Register(&fakeService{name: "system", rec: rec}, "metrics"))
	require.NoError(t, lm.Register(&fakeService{name: "metrics", rec: rec}))
	assert.Equal(t, []string{"network", "system", "metrics"}, lm.Services())

	ctx := context.Background()
	require.NoError(t, lm.Start(ctx))
	assert.True(t, lm.IsStarted())
	require.ErrorIs(t, lm.Start(ctx), ErrAlreadyStarted)
	require.ErrorIs(t, lm.Register(&fakeService{name: "late", rec: rec}), ErrAlreadyStarted)

	require.NoError(t, lm.Stop(ctx))
	assert.False(t, lm.IsStarted())
	require.NoError(t, lm.Stop(ctx))

	assert.Equal(t, []string{
		"start metrics", "start system", "start network",
		"stop network", "stop system", "stop metrics",
	}, rec.list())
	assert.Equal(t, []string{EventLifecycleStarted, EventLifecycleStopped}, events)
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(nil)
	boom := errors.New("port in use")

	require.NoError(t, lm.Register(&fakeService{name: "a", rec: rec}))
	require.NoError(t, lm.Register(&fakeService{name: "b", rec: rec, startErr: boom}, "a"))
	require.NoError(t, lm.Register(&fakeService{name: "c", rec: rec}, "b"))

	err := lm.Start(context.Background())
	require.ErrorIs(t, err, boom)
	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "b", appErr.Service)
	assert.Equal(t, "start", appErr.Operation)

	assert.False(t, lm.IsStarted())
	assert.Equal(t, []string{"start a", "start b", "stop a"}, rec.list())
}

func TestLifecycleStopJoinsErrors(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(nil)
	e1, e2 := errors.New("first"), errors.New("second")
	require.NoError(t, lm.Register(&fakeService{name: "a", rec: rec, stopErr: e1}))
	require.NoError(t, lm.Register(&fakeService{name: "b", rec: rec, stopErr: e2}))

	require.NoError(t, lm.Start(context.Background()))
	err := lm.Stop(context.Background())
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, rec.list())
}

func TestLifecycleDependencyErrors(t *testing.T) {
	rec := &recorder{}

	lm := NewLifecycleManager(nil)
	require.NoError(t, lm.Register(&fakeService{name: "a", rec: rec}, "ghost"))
	require.ErrorIs(t, lm.Start(context.Background()), ErrUnknownDependency)

	lm = NewLifecycleManager(nil)
	require.NoError(t, lm.Register(&fakeService{name: "a", rec: rec}, "b"))
	require.NoError(t, lm.Register(&fakeService{name: "b", rec: rec}, "a"))
	require.ErrorIs(t, lm.Start(context.Background()), ErrCircularDependency)

	require.ErrorIs(t, lm.Register(nil), ErrNilService)
	require.ErrorIs(t, lm.Register(&fakeService{rec: rec}), ErrEmptyName)
	require.ErrorIs(t, lm.Register(&fakeService{name: "a", rec: rec}), ErrServiceExists)
	assert.Empty(t, rec.list())
}

func TestLifecycleHealth(t *testing.T) {
	rec := &recorder{}
	lm := NewLifecycleManager(nil)
	require.NoError(t, lm.Register(&fakeService{name: "ok", rec: rec}))
	require.NoError(t, lm.Register(&fakeService{name: "sick", rec: rec, health: errors.New("disk full")}))

	health := lm.Health(context.Background())
	require.Len(t, health, 2)
	assert.Equal(t, HealthHealthy, health["ok"].State)
	assert.Equal(t, HealthUnhealthy, health["sick"].State)
	assert.Equal(t, "disk full", health["sick"].Message)
}
