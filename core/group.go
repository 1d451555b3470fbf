package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// group is a named dispatch unit: a queue plus the receivers that drain it.
type group struct {
	name    string
	opts    GroupOptions
	queue   *queue
	members *receiverSet

	// tickMu serializes ticks of the group
	tickMu sync.Mutex

	// loop is set for thread groups
	loop *groupLoop
}

type groupLoop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func newGroup(name string, opts GroupOptions) *group {
	return &group{
		name:    name,
		opts:    opts.withDefaults(),
		queue:   &queue{},
		members: newReceiverSet(),
	}
}

func (g *group) stop() {
	if g.loop == nil {
		return
	}
	g.loop.stopOnce.Do(g.loop.cancel)
	<-g.loop.done
}

func (g *group) failure() error {
	if g.loop == nil {
		return nil
	}
	g.loop.mu.Lock()
	defer g.loop.mu.Unlock()
	return g.loop.err
}

// ValidateGroupName checks a group name for AddGroup.
func ValidateGroupName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidGroupName)
	}
	return nil
}

// AddGroup creates a thread group and starts its tick loop.
func (m *Manager) AddGroup(name string, opts GroupOptions) error {
	if err := ValidateGroupName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[name]; ok {
		return fmt.Errorf("%w: %s", ErrGroupAlreadyExists, name)
	}
	g := newGroup(name, opts)
	ctx, cancel := context.WithCancel(context.Background())
	g.loop = &groupLoop{cancel: cancel, done: make(chan struct{})}
	m.groups[name] = g
	m.groupOrder = append(m.groupOrder, name)

	go m.run(ctx, g)
	m.logger.Info("group started", slog.String("group", name), slog.Duration("interval", g.opts.Interval))
	return nil
}

// SetGroups adds a thread group with default options for each name. All
// names are validated before any group is created.
func (m *Manager) SetGroups(names ...string) error {
	seen := make(map[string]bool, len(names))
	m.mu.RLock()
	for _, name := range names {
		if err := ValidateGroupName(name); err != nil {
			m.mu.RUnlock()
			return err
		}
		if _, ok := m.groups[name]; ok || seen[name] {
			m.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrGroupAlreadyExists, name)
		}
		seen[name] = true
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.AddGroup(name, DefaultGroupOptions()); err != nil {
			return err
		}
	}
	return nil
}

// RemoveGroup stops a thread group, waits for its loop to return and
// unregisters its members. A tick in progress is finished first, so it must
// not be called from a receiver running in the group being removed.
func (m *Manager) RemoveGroup(name string) error {
	if name == MainGroup {
		return fmt.Errorf("%w: the main group cannot be removed", ErrInvalidGroupName)
	}
	g, err := m.group(name)
	if err != nil {
		return err
	}
	g.stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups[name] != g {
		return nil
	}
	for _, r := range g.members.snapshot() {
		m.unregisterLocked(r)
	}
	delete(m.groups, name)
	for i, n := range m.groupOrder {
		if n == name {
			m.groupOrder = append(m.groupOrder[:i], m.groupOrder[i+1:]...)
			break
		}
	}
	m.logger.Info("group removed", slog.String("group", name))
	return nil
}

// Groups returns the names of the thread groups in creation order.
func (m *Manager) Groups() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.groupOrder))
	for _, name := range m.groupOrder {
		if name != MainGroup {
			out = append(out, name)
		}
	}
	return out
}

// HasGroup reports whether name is the main group or a thread group.
func (m *Manager) HasGroup(name string) bool {
	_, err := m.group(name)
	return err == nil
}

// CheckGroups returns a GroupFailedError for the first thread group whose
// loop died. The error persists until the group is removed.
func (m *Manager) CheckGroups() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.groupOrder {
		if err := m.groups[name].failure(); err != nil {
			return &GroupFailedError{Group: name, Err: err}
		}
	}
	return nil
}

// run is the tick loop of a thread group. A panicking receiver stops the
// loop and marks the group failed.
func (m *Manager) run(ctx context.Context, g *group) {
	defer close(g.loop.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			g.loop.mu.Lock()
			g.loop.err = err
			g.loop.mu.Unlock()
			m.metrics.GroupFailed(g.name)
			m.logger.Error("group failed",
				slog.String("group", g.name),
				slog.Any("error", err),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		start := time.Now()
		m.tick(g, g.opts.MaxTickTime)
		timer.Reset(g.opts.sleepAfter(time.Since(start)))
	}
}
