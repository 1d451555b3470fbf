// Package system builds the actor runtime on top of the dispatch engine. A
// System owns a message registry and a manager, names actors, runs process
// groups as child processes and binds the engine to a network transport.
package system

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/sage/codec"
	"github.com/najoast/sage/core"
	"github.com/najoast/sage/ipc"
	"github.com/najoast/sage/network"
)

// Options configures a System.
type Options struct {
	// Registry holds the message definitions, a new one when nil. Parent and
	// process groups must define the same networked types.
	Registry *core.Registry

	// ID identifies the manager, generated when zero
	ID uuid.UUID

	Logger  *slog.Logger
	Metrics core.Metrics

	// Command builds the command started for a process group. The default
	// re-executes the running binary without arguments.
	Command func(group string) (*exec.Cmd, error)
}

// System is the actor manager of one process.
type System struct {
	registry *core.Registry
	manager  *core.Manager
	logger   *slog.Logger
	metrics  core.Metrics
	command  func(group string) (*exec.Cmd, error)

	mu         sync.RWMutex
	names      map[string]core.ReceiverID
	actorNames map[core.ReceiverID]string
	processes  map[string]*processGroup
	procOrder  []string

	netMu     sync.RWMutex
	transport network.Transport

	// Set when the system runs inside a process group.
	parent ipc.Channel
	group  string
}

// New creates a System.
func New(opts Options) *System {
	if opts.Registry == nil {
		opts.Registry = core.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = core.NopMetrics{}
	}
	if opts.Command == nil {
		opts.Command = defaultCommand
	}
	return &System{
		registry: opts.Registry,
		manager: core.NewManager(core.Options{
			ID:      opts.ID,
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		}),
		logger:     opts.Logger.With(slog.String("component", "system")),
		metrics:    opts.Metrics,
		command:    opts.Command,
		names:      make(map[string]core.ReceiverID),
		actorNames: make(map[core.ReceiverID]string),
		processes:  make(map[string]*processGroup),
	}
}

// Registry returns the message registry.
func (s *System) Registry() *core.Registry {
	return s.registry
}

// Manager returns the dispatch engine.
func (s *System) Manager() *core.Manager {
	return s.manager
}

// Logger returns the system logger.
func (s *System) Logger() *slog.Logger {
	return s.logger
}

// GroupName returns the process group this system runs, or the main group.
func (s *System) GroupName() string {
	if s.group == "" {
		return core.MainGroup
	}
	return s.group
}

// RegisterActor registers r into group and, when name is not empty, makes it
// findable by name.
func (s *System) RegisterActor(r core.Receiver, name, group string) (core.ReceiverID, error) {
	if name != "" {
		s.mu.RLock()
		_, taken := s.names[name]
		s.mu.RUnlock()
		if taken {
			return core.ReceiverID{}, fmt.Errorf("%w: %s", ErrActorNameTaken, name)
		}
	}
	id, err := s.manager.RegisterReceiver(r, group)
	if err != nil {
		return core.ReceiverID{}, err
	}
	if name != "" {
		s.mu.Lock()
		s.names[name] = id
		s.actorNames[id] = name
		s.mu.Unlock()
	}
	return id, nil
}

// UnregisterActor removes the actor with id from the manager and the name
// table.
func (s *System) UnregisterActor(id core.ReceiverID) bool {
	r, ok := s.manager.Receiver(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	if name, ok := s.actorNames[id]; ok {
		delete(s.names, name)
		delete(s.actorNames, id)
	}
	s.mu.Unlock()
	return s.manager.UnregisterReceiver(r)
}

// Actor returns the registered receiver with id.
func (s *System) Actor(id core.ReceiverID) (core.Receiver, bool) {
	return s.manager.Receiver(id)
}

// Find returns the actor registered under name.
func (s *System) Find(name string) (core.Receiver, bool) {
	s.mu.RLock()
	id, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.manager.Receiver(id)
}

// TriggerToActor dispatches msg synchronously to the actor with id only.
func (s *System) TriggerToActor(id core.ReceiverID, msg *core.Message) bool {
	msg.SetReceiverID(id)
	return s.manager.Trigger(msg)
}

// TriggerTypeToActor triggers a property-less message of msgType at the
// actor with id.
func (s *System) TriggerTypeToActor(id core.ReceiverID, msgType string) (bool, error) {
	def, err := s.registry.Adhoc(msgType)
	if err != nil {
		return false, err
	}
	return s.TriggerToActor(id, def.New(nil)), nil
}

// QueueMessageToActor queues msg designated to the actor with id.
func (s *System) QueueMessageToActor(id core.ReceiverID, msg *core.Message) (bool, error) {
	msg.SetReceiverID(id)
	return s.manager.QueueMessage(msg)
}

// QueueMessage queues msg to every local group and forwards networked
// messages to every process group.
func (s *System) QueueMessage(msg *core.Message) (bool, error) {
	ok, err := s.manager.QueueMessage(msg)
	if !ok || err != nil || !msg.Def().Networked() {
		return ok, err
	}
	groups := s.processGroups()
	if len(groups) == 0 {
		return true, nil
	}
	data, err := s.registry.Encode(msg)
	if err != nil {
		return false, err
	}
	var errs []error
	for _, pg := range groups {
		if err := pg.ch.Send(data); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", pg.name, err))
		}
	}
	return true, errors.Join(errs...)
}

// QueueMessageToGroup queues msg to one group. Process groups receive the
// encoded message over their channel. Inside a process group every group but
// its own is reached through the parent.
func (s *System) QueueMessageToGroup(name string, msg *core.Message) (bool, error) {
	if s.parent != nil {
		if name == "" || name == s.group {
			return s.manager.QueueMessageToGroup(core.MainGroup, msg)
		}
		return s.sendToParent(name, msg)
	}

	s.mu.RLock()
	pg, ok := s.processes[name]
	s.mu.RUnlock()
	if !ok {
		return s.manager.QueueMessageToGroup(name, msg)
	}
	data, err := s.registry.Encode(msg)
	if err != nil {
		return false, err
	}
	if err := pg.ch.Send(data); err != nil {
		return false, fmt.Errorf("failed to send to group %s: %w", name, err)
	}
	return true, nil
}

func (s *System) sendToParent(group string, msg *core.Message) (bool, error) {
	payload, err := s.registry.Encode(msg)
	if err != nil {
		return false, err
	}
	data, err := encodeRoute(group, payload)
	if err != nil {
		return false, err
	}
	if err := s.parent.Send(data); err != nil {
		return false, fmt.Errorf("failed to send to parent: %w", err)
	}
	return true, nil
}

// AddGroup starts a thread group.
func (s *System) AddGroup(name string, opts core.GroupOptions) error {
	s.mu.RLock()
	_, isProcess := s.processes[name]
	s.mu.RUnlock()
	if isProcess {
		return fmt.Errorf("%w: %s", core.ErrGroupAlreadyExists, name)
	}
	return s.manager.AddGroup(name, opts)
}

// RemoveGroup stops a thread group. It waits for the group's current tick,
// so actors of that group must not call it.
func (s *System) RemoveGroup(name string) error {
	return s.manager.RemoveGroup(name)
}

// Groups returns the thread groups followed by the process groups.
func (s *System) Groups() []string {
	return append(s.manager.Groups(), s.ProcessGroups()...)
}

// CheckGroups reports the first failed process or thread group.
func (s *System) CheckGroups() error {
	for _, pg := range s.processGroups() {
		if err := pg.failure(); err != nil {
			if pg.reported.CompareAndSwap(false, true) {
				s.metrics.GroupFailed(pg.name)
				s.logger.Error("process group failed", slog.String("group", pg.name), slog.Any("error", err))
			}
			return &core.GroupFailedError{Group: pg.name, Err: err}
		}
	}
	return s.manager.CheckGroups()
}

// Tick checks group liveness, drains the process group channels and the
// network transport, then ticks the main group. At least one pending packet
// of every source is handled even when maxTime is already spent.
func (s *System) Tick(maxTime time.Duration) (bool, error) {
	if err := s.CheckGroups(); err != nil {
		return false, err
	}
	start := time.Now()
	within := func() bool {
		return maxTime <= 0 || time.Since(start) < maxTime
	}

	for _, pg := range s.processGroups() {
		for first := true; first || within(); first = false {
			data, ok := pg.ch.TryRecv()
			if !ok {
				break
			}
			s.handleChildPacket(pg.name, data)
		}
	}
	if t := s.Transport(); t != nil {
		for first := true; first || within(); first = false {
			if !t.Poll(s.handleNetworkPacket) {
				break
			}
		}
	}

	budget := maxTime
	if maxTime > 0 {
		budget = max(maxTime-time.Since(start), time.Nanosecond)
	}
	return s.manager.Tick(budget)
}

// handleChildPacket handles a packet a process group sent to the parent.
func (s *System) handleChildPacket(from string, data []byte) {
	pt, ok := codec.PacketTypeOf(data)
	switch {
	case !ok:
		return
	case pt == packetRoute:
		group, payload, err := decodeRoute(data)
		if err != nil {
			s.logger.Warn("bad route packet", slog.String("group", from), slog.Any("error", err))
			return
		}
		msg, err := s.registry.Decode(payload, from)
		if err != nil {
			s.logger.Warn("failed to decode message", slog.String("group", from), slog.Any("error", err))
			return
		}
		if _, err := s.QueueMessageToGroup(group, msg); err != nil {
			s.logger.Warn("failed to route message",
				slog.String("from", from), slog.String("to", group), slog.Any("error", err))
		}
	case pt <= core.MaxReservedPacketType:
		s.logger.Debug("dropping internal packet", slog.String("group", from), slog.Int("type", int(pt)))
	default:
		s.queueDecoded(data, from, s.manager.QueueMessage)
	}
}

// queueDecoded decodes data and hands the message to queue.
func (s *System) queueDecoded(data []byte, from string, queue func(*core.Message) (bool, error)) {
	msg, err := s.registry.Decode(data, from)
	if err != nil {
		s.logger.Warn("failed to decode message", slog.String("from", from), slog.Any("error", err))
		return
	}
	if _, err := queue(msg); err != nil {
		s.logger.Warn("failed to queue message", slog.String("from", from), slog.Any("error", err))
	}
}

// Shutdown stops the process groups, disconnects the transport and resets
// the manager. Like RemoveGroup it must not be called from a thread group.
func (s *System) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.ClearProcessGroups(ctx); err != nil {
		errs = append(errs, err)
	}
	s.netMu.Lock()
	t := s.transport
	s.transport = nil
	s.netMu.Unlock()
	if t != nil {
		if err := t.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	s.manager.Reset()
	s.mu.Lock()
	s.names = make(map[string]core.ReceiverID)
	s.actorNames = make(map[core.ReceiverID]string)
	s.mu.Unlock()
	return errors.Join(errs...)
}
