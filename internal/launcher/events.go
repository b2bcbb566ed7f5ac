package launcher

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"go.uber.org/zap"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventLaunched     EventType = "launched"
	EventLaunchFailed EventType = "launch_failed"
	EventStopped      EventType = "stopped"
	EventWindowOpened EventType = "window_opened"
	EventWindowClosed EventType = "window_closed"
	EventPrompt       EventType = "prompt"
)

// Event is one lifecycle notification.
type Event struct {
	Type   EventType            `json:"type"`
	App    id.ApplicationHandle `json:"app,omitempty"`
	Time   time.Time            `json:"time"`
	Detail map[string]string    `json:"detail,omitempty"`
}

// Events fans lifecycle events out to subscribers. Slow subscribers lose
// events rather than block publishers.
type Events struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	logger *logging.Logger
}

// NewEvents creates an empty bus.
func NewEvents(logger *logging.Logger) *Events {
	return &Events{subs: make(map[int]chan Event), logger: logger.Component("events")}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (e *Events) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	e.mu.Lock()
	key := e.next
	e.next++
	e.subs[key] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, key)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber.
func (e *Events) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("dropping event for slow subscriber", zap.String("type", string(ev.Type)))
		}
	}
}
