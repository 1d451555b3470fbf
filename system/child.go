package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/najoast/sage/codec"
	"github.com/najoast/sage/core"
	"github.com/najoast/sage/ipc"
)

// ActorFactory builds the actor of a process group. It runs inside the
// child process with the child's System.
type ActorFactory func(s *System) (core.Receiver, error)

// IsChild reports whether the process was started as a process group.
func IsChild() bool {
	return os.Getenv(EnvGroupName) != ""
}

// RunChild runs the process group described by the environment until the
// parent asks it to stop or goes away. Stdout carries the channel to the
// parent, so nothing else may write to it; logs go to stderr. Callers exit
// non-zero when RunChild returns an error.
func RunChild(ctx context.Context, reg *core.Registry, factories map[string]ActorFactory) error {
	name := os.Getenv(EnvGroupName)
	if name == "" {
		return ErrNotChild
	}
	opts, err := processOptionsFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(slog.String("group", name))
	ch := ipc.NewStreamChannel(os.Stdin, os.Stdout)
	defer ch.Close()
	return runChild(ctx, childConfig{
		name:      name,
		opts:      opts,
		registry:  reg,
		factories: factories,
		channel:   ch,
		logger:    logger,
	})
}

type childConfig struct {
	name      string
	opts      ProcessGroupOptions
	registry  *core.Registry
	factories map[string]ActorFactory
	channel   ipc.Channel
	logger    *slog.Logger
}

func runChild(ctx context.Context, cfg childConfig) error {
	s := New(Options{Registry: cfg.registry, Logger: cfg.logger})
	s.parent = cfg.channel
	s.group = cfg.name
	defer s.manager.Reset()

	if cfg.opts.Actor != "" {
		factory, ok := cfg.factories[cfg.opts.Actor]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownActorFactory, cfg.opts.Actor)
		}
		r, err := factory(s)
		if err != nil {
			return fmt.Errorf("failed to create actor %s: %w", cfg.opts.Actor, err)
		}
		if _, err := s.RegisterActor(r, cfg.opts.Actor, core.MainGroup); err != nil {
			return err
		}
	}

	groupOpts := cfg.opts.groupOptions()
	s.logger.Debug("process group running", slog.Duration("interval", groupOpts.Interval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cfg.channel.Done():
			s.logger.Debug("parent closed the channel")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		for {
			data, ok := cfg.channel.TryRecv()
			if !ok {
				break
			}
			if s.handleParentPacket(data) {
				return nil
			}
		}
		if _, err := s.manager.Tick(groupOpts.MaxTickTime); err != nil {
			return err
		}

		sleep := groupOpts.Interval - time.Since(start)
		if sleep < groupOpts.MinSleep {
			sleep = groupOpts.MinSleep
		}
		timer.Reset(sleep)
	}
}

// handleParentPacket handles a packet from the parent and reports whether
// it asked the group to stop.
func (s *System) handleParentPacket(data []byte) bool {
	pt, ok := codec.PacketTypeOf(data)
	switch {
	case !ok:
	case pt == packetShutdown:
		return true
	case pt <= core.MaxReservedPacketType:
		s.logger.Debug("dropping internal packet", slog.Int("type", int(pt)))
	default:
		s.queueDecoded(data, core.MainGroup, s.manager.QueueMessage)
	}
	return false
}
