package core

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	// ID identifies the manager in receiver ids, generated when zero
	ID uuid.UUID

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Metrics defaults to NopMetrics
	Metrics Metrics
}

// Manager is the dispatch engine. It owns the subscription table, the
// receiver registrations and one queue per group. The main group is ticked
// by the caller; every other group runs its own tick loop.
type Manager struct {
	id      uuid.UUID
	logger  *slog.Logger
	metrics Metrics

	// mu guards the registration state and the group table. It is never held
	// while a receiver runs.
	mu          sync.RWMutex
	types       []string
	subscribers map[string]*receiverSet
	receivers   map[Receiver]*registration
	byID        map[ReceiverID]Receiver
	nextLocal   uint64
	groups      map[string]*group
	groupOrder  []string
}

// NewManager creates a Manager with an empty main group.
func NewManager(opts Options) *Manager {
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	m := &Manager{
		id:      opts.ID,
		logger:  opts.Logger.With(slog.String("component", "manager")),
		metrics: opts.Metrics,
	}
	m.resetState()
	return m
}

func (m *Manager) resetState() {
	m.types = nil
	m.subscribers = map[string]*receiverSet{Wildcard: newReceiverSet()}
	m.receivers = make(map[Receiver]*registration)
	m.byID = make(map[ReceiverID]Receiver)
	m.groups = map[string]*group{MainGroup: newGroup(MainGroup, DefaultGroupOptions())}
	m.groupOrder = []string{MainGroup}
}

// ID returns the manager id.
func (m *Manager) ID() uuid.UUID {
	return m.id
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// ensureRegistered returns the registration of r, creating one in group when
// r is unknown. Callers hold m.mu.
func (m *Manager) ensureRegistered(r Receiver, group string) (*registration, bool) {
	if reg, ok := m.receivers[r]; ok {
		return reg, false
	}
	m.nextLocal++
	reg := &registration{id: ReceiverID{Manager: m.id, Local: m.nextLocal}, group: group}
	m.receivers[r] = reg
	m.byID[reg.id] = r
	m.groups[group].members.add(r)
	return reg, true
}

func (m *Manager) subscribe(r Receiver, msgType string) bool {
	set, ok := m.subscribers[msgType]
	if !ok {
		set = newReceiverSet()
		m.subscribers[msgType] = set
		m.types = append(m.types, msgType)
	}
	return set.add(r)
}

// Register subscribes r to msgType. An unknown receiver is registered into
// the main group. Registering the same pair twice has no effect.
func (m *Manager) Register(r Receiver, msgType string) bool {
	if r == nil || msgType == "" {
		return false
	}
	m.mu.Lock()
	reg, created := m.ensureRegistered(r, MainGroup)
	m.subscribe(r, msgType)
	m.mu.Unlock()

	if b, ok := r.(Binder); ok && created {
		b.BindID(reg.id)
	}
	return true
}

// Unregister removes the subscription of r to msgType. It returns false when
// the pair was not registered.
func (m *Manager) Unregister(r Receiver, msgType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.subscribers[msgType]
	if !ok {
		return false
	}
	return set.remove(r)
}

// RegisterReceiver subscribes r to all of its subscriptions and places it in
// group ("" for the main group). A receiver that is already registered moves
// to the new group.
func (m *Manager) RegisterReceiver(r Receiver, group string) (ReceiverID, error) {
	if group == "" {
		group = MainGroup
	}
	m.mu.Lock()
	g, ok := m.groups[group]
	if !ok {
		m.mu.Unlock()
		return ReceiverID{}, fmt.Errorf("%w: %s", ErrGroupDoesNotExist, group)
	}
	reg, _ := m.ensureRegistered(r, group)
	if reg.group != group {
		m.groups[reg.group].members.remove(r)
		g.members.add(r)
		reg.group = group
	}
	for _, s := range r.Subscriptions() {
		if s != "" {
			m.subscribe(r, s)
		}
	}
	id := reg.id
	m.mu.Unlock()

	if b, ok := r.(Binder); ok {
		b.BindID(id)
	}
	m.logger.Debug("receiver registered", slog.String("id", id.String()), slog.String("group", group))
	return id, nil
}

// UnregisterReceiver removes every subscription and the group membership of
// r. It returns false when r was not registered.
func (m *Manager) UnregisterReceiver(r Receiver) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregisterLocked(r)
}

func (m *Manager) unregisterLocked(r Receiver) bool {
	reg, ok := m.receivers[r]
	if !ok {
		return false
	}
	for _, set := range m.subscribers {
		set.remove(r)
	}
	if g, ok := m.groups[reg.group]; ok {
		g.members.remove(r)
	}
	delete(m.receivers, r)
	delete(m.byID, reg.id)
	return true
}

// ReceiverID returns the id assigned to r.
func (m *Manager) ReceiverID(r Receiver) (ReceiverID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.receivers[r]
	if !ok {
		return ReceiverID{}, false
	}
	return reg.id, true
}

// Receiver returns the receiver registered under id.
func (m *Manager) Receiver(id ReceiverID) (Receiver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	return r, ok
}

// MessageTypes returns the known message types in first-registration order.
func (m *Manager) MessageTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.types...)
}

// Subscribers returns the receivers subscribed to msgType.
func (m *Manager) Subscribers(msgType string) []Receiver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if set, ok := m.subscribers[msgType]; ok {
		return set.snapshot()
	}
	return nil
}

// QueueMessage validates msg and appends it to the queue of every group. A
// message of a type nobody subscribes to is accepted and dropped at dispatch.
// Invalid messages are rejected with an error wrapping ErrInvalidProperty.
func (m *Manager) QueueMessage(msg *Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	if msg.Type() == "" {
		return false, nil
	}
	m.mu.RLock()
	groups := make([]*group, 0, len(m.groupOrder))
	for _, name := range m.groupOrder {
		groups = append(groups, m.groups[name])
	}
	m.mu.RUnlock()

	for _, g := range groups {
		m.enqueue(g, msg)
	}
	return true, nil
}

// QueueMessageToGroup validates msg and appends it to the queue of one group.
func (m *Manager) QueueMessageToGroup(name string, msg *Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	g, err := m.group(name)
	if err != nil {
		return false, err
	}
	m.enqueue(g, msg)
	return true, nil
}

func (m *Manager) enqueue(g *group, msg *Message) {
	depth := g.queue.push(msg)
	m.metrics.MessageQueued(g.name, msg.Type())
	m.metrics.QueueDepth(g.name, depth)
}

func (m *Manager) group(name string) (*group, error) {
	if name == "" {
		name = MainGroup
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupDoesNotExist, name)
	}
	return g, nil
}

// Trigger dispatches msg synchronously to every wildcard receiver and every
// subscriber, regardless of group. A receiver subscribed both ways handles it
// once. A designated message only reaches its receiver. It returns true if any subscriber consumed the message.
func (m *Manager) Trigger(msg *Message) bool {
	if msg.Type() == "" {
		return false
	}
	m.mu.RLock()
	set := m.subscribers[msg.Type()]
	wild := m.wildcardsLocked(set, nil)
	var subs []candidate
	if set != nil {
		subs = m.candidatesLocked(set.list, nil)
	}
	m.mu.RUnlock()

	for _, c := range wild {
		c.r.HandleMessage(msg)
	}
	designated := msg.ReceiverID()
	consumed := false
	for _, c := range subs {
		if !designatedToHandle(c.id, designated) {
			continue
		}
		if c.r.HandleMessage(msg) {
			consumed = true
		}
	}
	m.metrics.MessageDispatched("trigger", msg.Type(), consumed)
	return consumed
}

// designatedToHandle reports whether a receiver may handle a message
// designated for target.
func designatedToHandle(id, target ReceiverID) bool {
	return target.IsZero() || id == target
}

// wildcardsLocked returns the wildcard candidates that do not also subscribe
// to the message type itself; those are offered the message as subscribers.
func (m *Manager) wildcardsLocked(typed *receiverSet, members *receiverSet) []candidate {
	out := m.candidatesLocked(m.subscribers[Wildcard].list, members)
	if typed == nil {
		return out
	}
	kept := out[:0]
	for _, c := range out {
		if !typed.contains(c.r) {
			kept = append(kept, c)
		}
	}
	return kept
}

// candidatesLocked resolves ids for rs, keeping only members when members is
// non-nil. Callers hold m.mu.
func (m *Manager) candidatesLocked(rs []Receiver, members *receiverSet) []candidate {
	out := make([]candidate, 0, len(rs))
	for _, r := range rs {
		if members != nil && !members.contains(r) {
			continue
		}
		reg, ok := m.receivers[r]
		if !ok {
			continue
		}
		out = append(out, candidate{r: r, id: reg.id})
	}
	return out
}

// AbortMessage removes queued messages of msgType from every group, only the
// first pending one per group unless all. Messages already taken by a
// running tick are not affected.
func (m *Manager) AbortMessage(msgType string, all bool) bool {
	if msgType == "" {
		return false
	}
	m.mu.RLock()
	groups := make([]*group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.RUnlock()

	removed := false
	for _, g := range groups {
		if g.queue.abort(msgType, all) {
			removed = true
		}
	}
	return removed
}

// MessageCount returns the number of messages pending in the main group.
func (m *Manager) MessageCount() int {
	n, _ := m.GroupMessageCount(MainGroup)
	return n
}

// GroupMessageCount returns the number of messages pending in a group.
func (m *Manager) GroupMessageCount(name string) (int, error) {
	g, err := m.group(name)
	if err != nil {
		return 0, err
	}
	return g.queue.len(), nil
}

// Tick runs one tick of the main group. It first reports any thread group
// that has failed since it was added.
func (m *Manager) Tick(maxTime time.Duration) (bool, error) {
	if err := m.CheckGroups(); err != nil {
		return false, err
	}
	return m.TickGroup(MainGroup, maxTime)
}

// TickGroup runs one tick of the named group and reports whether every
// message pending at its start was processed. Ticking a thread group by hand
// is serialized with its own loop.
func (m *Manager) TickGroup(name string, maxTime time.Duration) (bool, error) {
	g, err := m.group(name)
	if err != nil {
		return false, err
	}
	return m.tick(g, maxTime), nil
}

func (m *Manager) tick(g *group, maxTime time.Duration) bool {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()

	for _, u := range m.updaters(g) {
		u.Update()
	}

	start := time.Now()
	batch := g.queue.swap()
	processed := 0
	for processed < len(batch) {
		m.dispatch(g, batch[processed])
		processed++
		if maxTime > 0 && time.Since(start) > maxTime {
			break
		}
	}
	flushed := processed == len(batch)
	if !flushed {
		g.queue.requeue(batch[processed:])
	}
	g.queue.release(batch)

	m.metrics.TickCompleted(g.name, time.Since(start), processed, flushed)
	m.metrics.QueueDepth(g.name, g.queue.len())
	return flushed
}

func (m *Manager) updaters(g *group) []Updater {
	m.mu.RLock()
	var out []Updater
	for _, r := range g.members.list {
		if u, ok := r.(Updater); ok {
			out = append(out, u)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SyncPriority() > out[j].SyncPriority()
	})
	return out
}

// dispatch delivers one message within a group: wildcard members always see
// it, then subscribed members in registration order until one consumes it.
// A receiver subscribed to both is only offered the message as a subscriber.
// A designated message is offered to its receiver only, whatever it returns.
func (m *Manager) dispatch(g *group, msg *Message) {
	m.mu.RLock()
	set := m.subscribers[msg.Type()]
	wild := m.wildcardsLocked(set, g.members)
	var subs []candidate
	if set != nil {
		subs = m.candidatesLocked(set.list, g.members)
	}
	m.mu.RUnlock()

	for _, c := range wild {
		c.r.HandleMessage(msg)
	}
	if len(subs) == 0 {
		m.metrics.MessageDropped(g.name, msg.Type())
		return
	}

	designated := msg.ReceiverID()
	consumed := false
	for _, c := range subs {
		if !designatedToHandle(c.id, designated) {
			continue
		}
		consumed = c.r.HandleMessage(msg)
		if consumed || !designated.IsZero() {
			break
		}
	}
	m.metrics.MessageDispatched(g.name, msg.Type(), consumed)
}

// Reset stops every thread group and clears all queues, subscriptions and
// memberships. It waits for running ticks to finish and must not be called
// from a receiver inside a thread group.
func (m *Manager) Reset() {
	m.mu.Lock()
	var running []*group
	for _, g := range m.groups {
		if g.loop != nil {
			running = append(running, g)
		}
	}
	m.mu.Unlock()

	for _, g := range running {
		g.stop()
	}

	m.mu.Lock()
	for _, g := range m.groups {
		g.queue.reset()
	}
	m.resetState()
	m.mu.Unlock()
}
