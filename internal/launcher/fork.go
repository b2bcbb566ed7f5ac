package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"go.uber.org/zap"
)

// Forking strategies.
const (
	ForkNever                = "NEVER"
	ForkAlways               = "ALWAYS"
	ForkIfDescriptorRequires = "IF_DESCRIPTOR_REQUIRES"
)

// NoForkFlag is passed to the child so it never forks again.
const NoForkFlag = "--fork=never"

// ForkCommand builds the child process for a descriptor source.
type ForkCommand func(ctx context.Context, d *descriptor.Descriptor) (*exec.Cmd, error)

// SelfCommand re-executes the running binary with forking disabled.
func SelfCommand(ctx context.Context, d *descriptor.Descriptor) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	if d.Source == nil {
		return nil, fmt.Errorf("descriptor has no source to hand to a child process")
	}
	src := d.Source.String()
	if d.Source.Scheme == "file" {
		src = d.Source.Path
	}
	cmd := exec.CommandContext(ctx, exe, NoForkFlag, src)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), runtimeEnv(d)...)
	return cmd, nil
}

// runtimeEnv passes the descriptor's runtime settings to the child.
func runtimeEnv(d *descriptor.Descriptor) []string {
	var env []string
	if d.Runtime.MaxHeap != "" {
		env = append(env, "GOMEMLIMIT="+goMemLimit(d.Runtime.MaxHeap))
	}
	if len(d.Runtime.Args) > 0 {
		env = append(env, "NETLAUNCH_RUNTIME_ARGS="+strings.Join(d.Runtime.Args, " "))
	}
	return env
}

// goMemLimit maps a heap size such as "512m" to the GOMEMLIMIT syntax.
func goMemLimit(heap string) string {
	h := strings.ToLower(strings.TrimSpace(heap))
	switch {
	case strings.HasSuffix(h, "g"):
		return strings.TrimSuffix(h, "g") + "GiB"
	case strings.HasSuffix(h, "m"):
		return strings.TrimSuffix(h, "m") + "MiB"
	case strings.HasSuffix(h, "k"):
		return strings.TrimSuffix(h, "k") + "KiB"
	default:
		return h
	}
}

// shouldFork applies the forking strategy to d.
func shouldFork(strategy string, d *descriptor.Descriptor) bool {
	switch strings.ToUpper(strategy) {
	case ForkAlways:
		return true
	case ForkNever:
		return false
	default:
		return d.NeedsNewProcess()
	}
}

// child is an application running in a forked process.
type child struct {
	handle  id.ApplicationHandle
	title   string
	source  string
	cmd     *exec.Cmd
	started time.Time

	done          chan struct{}
	stopOnce      sync.Once
	stopRequested atomic.Bool
	err           error
}

func (c *child) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *child) status() Status {
	state := instance.StateRunning
	if !c.running() {
		state = instance.StateStopped
	}
	return Status{
		Info: instance.Info{
			Handle:  c.handle,
			Title:   c.title,
			Source:  c.source,
			State:   state,
			Started: c.started,
		},
		Forked: true,
		PID:    c.cmd.Process.Pid,
	}
}

// stop interrupts the child and kills it if it outlives grace.
func (c *child) stop(grace time.Duration) {
	c.stopOnce.Do(func() {
		c.stopRequested.Store(true)
		if !c.running() {
			return
		}
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-c.done:
		case <-time.After(grace):
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	})
}

// fork starts d in a child process and tracks it until it exits.
func (l *Launcher) fork(d *descriptor.Descriptor) (id.ApplicationHandle, error) {
	cmd, err := l.forkCommand(l.rt.Context(), d)
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start child process: %w", err)
	}

	c := &child{
		handle:  id.NewApplicationHandle(),
		title:   d.Title(),
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	if d.Source != nil {
		c.source = d.Source.String()
	}

	l.mu.Lock()
	l.children[c.handle] = c
	l.known[c.handle] = struct{}{}
	l.mu.Unlock()

	go func() {
		c.err = cmd.Wait()
		close(c.done)
		l.logger.Info("child process exited",
			zap.String("app", c.handle.String()),
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(c.err))
		l.rt.Events.Publish(Event{Type: EventStopped, App: c.handle, Detail: map[string]string{"forked": "true"}})
	}()

	l.logger.Info("application forked",
		zap.String("app", c.handle.String()),
		zap.String("title", c.title),
		zap.Int("pid", cmd.Process.Pid))
	return c.handle, nil
}
