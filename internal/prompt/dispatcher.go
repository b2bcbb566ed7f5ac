package prompt

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
)

// Answerer produces a decision for one request. It is only ever called from
// the dispatcher goroutine.
type Answerer interface {
	Answer(ctx context.Context, req Request) (Decision, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, req Request) (Decision, error)

func (f AnswererFunc) Answer(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

type pending struct {
	ctx   context.Context
	req   Request
	reply chan result
}

type result struct {
	decision Decision
	err      error
}

// Dispatcher serializes prompts onto one goroutine.
type Dispatcher struct {
	answerer Answerer
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	requests chan pending
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewDispatcher starts the dispatcher goroutine.
func NewDispatcher(answerer Answerer, logger *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	d := &Dispatcher{
		answerer: answerer,
		logger:   logger.Component("prompt"),
		metrics:  metrics,
		requests: make(chan pending),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Ask implements Service. A cancelled context or a closed dispatcher yields
// Deny together with the error.
func (d *Dispatcher) Ask(ctx context.Context, req Request) (Decision, error) {
	p := pending{ctx: ctx, req: req, reply: make(chan result, 1)}

	select {
	case d.requests <- p:
	case <-ctx.Done():
		return Deny, ctx.Err()
	case <-d.quit:
		return Deny, ErrClosed
	}

	select {
	case r := <-p.reply:
		return r.decision, r.err
	case <-ctx.Done():
		return Deny, ctx.Err()
	}
}

// Close stops the dispatcher after the request in progress, if any.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	for {
		select {
		case <-d.quit:
			return
		case p := <-d.requests:
			decision, err := d.answerer.Answer(p.ctx, p.req)
			if err != nil {
				decision = Deny
			}
			d.metrics.RecordPrompt(string(p.req.Kind), decision.String())
			d.logger.Info("prompt answered",
				zap.String("id", p.req.ID),
				zap.String("kind", string(p.req.Kind)),
				zap.String("source", p.req.Source),
				zap.Stringer("decision", decision),
				zap.Error(err),
			)
			p.reply <- result{decision: decision, err: err}
		}
	}
}
