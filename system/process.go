package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/sage/core"
	"github.com/najoast/sage/ipc"
)

// Environment passed to a process group.
const (
	EnvGroupName        = "SAGE_GROUP_NAME"
	EnvGroupActor       = "SAGE_GROUP_ACTOR"
	EnvGroupInterval    = "SAGE_GROUP_INTERVAL"
	EnvGroupMinSleep    = "SAGE_GROUP_MIN_SLEEP"
	EnvGroupMaxTickTime = "SAGE_GROUP_MAX_TICK_TIME"
)

// ProcessGroupOptions configures a process group.
type ProcessGroupOptions struct {
	// Actor names the factory the child uses to build its actor. Empty
	// starts a group without actors.
	Actor string

	Interval    time.Duration
	MinSleep    time.Duration
	MaxTickTime time.Duration
}

func (o ProcessGroupOptions) environ(name string) []string {
	env := []string{
		EnvGroupName + "=" + name,
		EnvGroupActor + "=" + o.Actor,
	}
	if o.Interval > 0 {
		env = append(env, EnvGroupInterval+"="+o.Interval.String())
	}
	if o.MinSleep > 0 {
		env = append(env, EnvGroupMinSleep+"="+o.MinSleep.String())
	}
	if o.MaxTickTime > 0 {
		env = append(env, EnvGroupMaxTickTime+"="+o.MaxTickTime.String())
	}
	return env
}

func (o ProcessGroupOptions) groupOptions() core.GroupOptions {
	def := core.DefaultGroupOptions()
	opts := core.GroupOptions{Interval: o.Interval, MinSleep: o.MinSleep, MaxTickTime: o.MaxTickTime}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MinSleep <= 0 {
		opts.MinSleep = def.MinSleep
	}
	return opts
}

func processOptionsFromEnv(getenv func(string) string) (ProcessGroupOptions, error) {
	opts := ProcessGroupOptions{Actor: getenv(EnvGroupActor)}
	for key, dst := range map[string]*time.Duration{
		EnvGroupInterval:    &opts.Interval,
		EnvGroupMinSleep:    &opts.MinSleep,
		EnvGroupMaxTickTime: &opts.MaxTickTime,
	} {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}
	return opts, nil
}

func defaultCommand(string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return exec.Command(exe), nil
}

// processGroup is a child process connected over its stdin and stdout.
type processGroup struct {
	name string
	cmd  *exec.Cmd
	ch   *ipc.StreamChannel

	exited   chan struct{}
	waitErr  error
	stopping atomic.Bool
	reported atomic.Bool
	stopOnce sync.Once
}

// failure returns the exit error of a process that died on its own.
func (pg *processGroup) failure() error {
	if pg.stopping.Load() {
		return nil
	}
	select {
	case <-pg.exited:
	default:
		return nil
	}
	if pg.waitErr != nil {
		return fmt.Errorf("%w: %w", ErrProcessExited, pg.waitErr)
	}
	return ErrProcessExited
}

func (s *System) startProcess(name string, opts ProcessGroupOptions) (*processGroup, error) {
	cmd, err := s.command(name)
	if err != nil {
		return nil, err
	}
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = append(cmd.Environ(), opts.environ(name)...)

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW} {
			f.Close()
		}
		return nil, fmt.Errorf("failed to start process group %s: %w", name, err)
	}
	// the child holds its own copies
	stdinR.Close()
	stdoutW.Close()

	pg := &processGroup{
		name:   name,
		cmd:    cmd,
		ch:     ipc.NewStreamChannel(stdoutR, stdinW),
		exited: make(chan struct{}),
	}
	go func() {
		pg.waitErr = cmd.Wait()
		close(pg.exited)
	}()
	return pg, nil
}

// AddProcessGroup starts a child process running group name.
func (s *System) AddProcessGroup(name string, opts ProcessGroupOptions) error {
	if err := core.ValidateGroupName(name); err != nil {
		return err
	}
	if s.parent != nil {
		return fmt.Errorf("process group %s cannot start process groups", s.group)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[name]; ok || s.manager.HasGroup(name) {
		return fmt.Errorf("%w: %s", core.ErrGroupAlreadyExists, name)
	}
	pg, err := s.startProcess(name, opts)
	if err != nil {
		return err
	}
	s.processes[name] = pg
	s.procOrder = append(s.procOrder, name)
	s.logger.Info("process group started",
		slog.String("group", name),
		slog.String("actor", opts.Actor),
		slog.Int("pid", pg.cmd.Process.Pid))
	return nil
}

// RemoveProcessGroup asks group name to shut down and waits until its
// process exited. When ctx ends first the process is killed.
func (s *System) RemoveProcessGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	pg, ok := s.processes[name]
	if ok {
		delete(s.processes, name)
		for i, n := range s.procOrder {
			if n == name {
				s.procOrder = append(s.procOrder[:i], s.procOrder[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrGroupDoesNotExist, name)
	}
	return s.stopProcess(ctx, pg)
}

func (s *System) stopProcess(ctx context.Context, pg *processGroup) error {
	var err error
	pg.stopOnce.Do(func() {
		pg.stopping.Store(true)
		if sendErr := pg.ch.Send(shutdownPacket); sendErr != nil {
			s.logger.Debug("failed to send shutdown", slog.String("group", pg.name), slog.Any("error", sendErr))
		}
		select {
		case <-pg.exited:
		case <-ctx.Done():
			s.logger.Warn("killing process group", slog.String("group", pg.name))
			_ = pg.cmd.Process.Kill()
			<-pg.exited
			err = fmt.Errorf("process group %s killed: %w", pg.name, ctx.Err())
		}
		pg.ch.Close()
		s.logger.Info("process group stopped", slog.String("group", pg.name))
	})
	return err
}

// ClearProcessGroups removes every process group concurrently.
func (s *System) ClearProcessGroups(ctx context.Context) error {
	var g errgroup.Group
	for _, name := range s.ProcessGroups() {
		g.Go(func() error {
			return s.RemoveProcessGroup(ctx, name)
		})
	}
	return g.Wait()
}

// ProcessGroups returns the names of the running process groups.
func (s *System) ProcessGroups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.procOrder...)
}

func (s *System) processGroups() []*processGroup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*processGroup, 0, len(s.procOrder))
	for _, name := range s.procOrder {
		out = append(out, s.processes[name])
	}
	return out
}
