package instance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"go.uber.org/zap"
)

// ErrStopped is returned by an instance or thread group that has stopped.
var ErrStopped = errors.New("application stopped")

// Interruptible is a unit that can be asked to stop at its next safe point.
type Interruptible interface {
	Interrupt(reason error)
}

// UnitInfo describes one running unit of work.
type UnitInfo struct {
	ID      id.UnitID `json:"id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

type member struct {
	info   UnitInfo
	target Interruptible
	done   chan struct{}
}

// ThreadGroup tracks the units of work of one application. Every unit runs
// on its own goroutine under the group's context.
type ThreadGroup struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	units   map[id.UnitID]*member
	stopped bool
}

// NewThreadGroup creates a group whose context derives from parent.
func NewThreadGroup(parent context.Context, logger *logging.Logger, metrics *monitoring.Metrics) *ThreadGroup {
	ctx, cancel := context.WithCancelCause(parent)
	return &ThreadGroup{
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Component("threadgroup"),
		metrics: metrics,
		units:   make(map[id.UnitID]*member),
	}
}

// Context is cancelled when the group stops.
func (g *ThreadGroup) Context() context.Context { return g.ctx }

// Go runs fn as unit unitID. target is interrupted when the group stops. The
// internal exit signal returned by fn is swallowed here.
func (g *ThreadGroup) Go(unitID id.UnitID, name string, target Interruptible, fn func() error) error {
	m := &member{
		info:   UnitInfo{ID: unitID, Name: name, Started: time.Now()},
		target: target,
		done:   make(chan struct{}),
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrStopped
	}
	g.units[unitID] = m
	g.mu.Unlock()

	go func() {
		defer close(m.done)
		defer g.remove(unitID)
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error("unit panicked", zap.String("unit", unitID.String()), zap.Any("panic", r))
			}
		}()

		err := fn()
		switch {
		case err == nil:
			g.logger.Debug("unit finished", zap.String("unit", unitID.String()), zap.String("name", name))
		case errors.Is(err, errs.ErrTerminated):
			g.logger.Debug("unit terminated by exit", zap.String("unit", unitID.String()))
		case g.ctx.Err() != nil && (errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled)):
			g.logger.Debug("unit stopped", zap.String("unit", unitID.String()))
		default:
			g.logger.Error("unit failed", zap.String("unit", unitID.String()), zap.String("name", name), zap.Error(err))
		}
	}()
	return nil
}

func (g *ThreadGroup) remove(unitID id.UnitID) {
	g.mu.Lock()
	delete(g.units, unitID)
	g.mu.Unlock()
}

// Units lists the running units in start order.
func (g *ThreadGroup) Units() []UnitInfo {
	g.mu.Lock()
	out := make([]UnitInfo, 0, len(g.units))
	for _, m := range g.units {
		out = append(out, m.info)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Has reports whether unitID is running in this group.
func (g *ThreadGroup) Has(unitID id.UnitID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.units[unitID]
	return ok
}

// Len returns the number of running units.
func (g *ThreadGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.units)
}

// Stop cancels the group, interrupts every unit and waits up to grace for
// them to return. Units still running afterwards are reported as leaked and
// left alone. It returns the number of leaked units.
func (g *ThreadGroup) Stop(grace time.Duration) int {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return 0
	}
	g.stopped = true
	members := make([]*member, 0, len(g.units))
	for _, m := range g.units {
		members = append(members, m)
	}
	g.mu.Unlock()

	g.cancel(ErrStopped)
	for _, m := range members {
		if m.target != nil {
			m.target.Interrupt(ErrStopped)
		}
	}
	runtime.Gosched()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	leaked := 0
	expired := false
	for _, m := range members {
		if !expired {
			select {
			case <-m.done:
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case <-m.done:
		default:
			leaked++
			g.logger.Warn("unit did not stop within grace period",
				zap.String("unit", m.info.ID.String()),
				zap.String("name", m.info.Name),
				zap.Duration("grace", grace))
		}
	}
	g.metrics.RecordLeaked(leaked)
	return leaked
}

func (g *ThreadGroup) String() string {
	return fmt.Sprintf("threadgroup(%d units)", g.Len())
}
