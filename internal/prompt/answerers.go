package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Fixed answers every request with the same decision. It backs the
// trust-all and trust-none settings.
type Fixed Decision

func (f Fixed) Answer(context.Context, Request) (Decision, error) {
	return Decision(f), nil
}

// Terminal asks on a text stream and reads y/n answers.
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminal creates a terminal answerer.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Answer(ctx context.Context, req Request) (Decision, error) {
	fmt.Fprintf(t.out, "\n[%s] %s", req.Kind, req.Title)
	if req.Vendor != "" {
		fmt.Fprintf(t.out, " (%s)", req.Vendor)
	}
	fmt.Fprintf(t.out, "\n%s\n", req.Message)
	if req.Source != "" {
		fmt.Fprintf(t.out, "source: %s\n", req.Source)
	}
	keys := make([]string, 0, len(req.Details))
	for k := range req.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(t.out, "  %s: %s\n", k, req.Details[k])
	}

	for {
		if err := ctx.Err(); err != nil {
			return Deny, err
		}
		fmt.Fprint(t.out, "allow? [y/N] ")
		line, err := t.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "y", "yes":
			return Allow, nil
		case "", "n", "no":
			if err != nil && !errors.Is(err, io.EOF) {
				return Deny, err
			}
			return Deny, nil
		}
		if err != nil {
			return Deny, nil
		}
	}
}

// Queue holds requests until they are answered from elsewhere, typically the
// control API.
type Queue struct {
	mu      sync.Mutex
	pending map[string]*queued
	notify  func(Request)
}

type queued struct {
	req    Request
	answer chan Decision
}

// NewQueue creates an empty queue. notify, if set, is called for every new
// request.
func NewQueue(notify func(Request)) *Queue {
	return &Queue{pending: make(map[string]*queued), notify: notify}
}

// ErrUnknownRequest is returned when answering an ID that is not pending.
var ErrUnknownRequest = errors.New("no pending prompt with that id")

func (q *Queue) Answer(ctx context.Context, req Request) (Decision, error) {
	item := &queued{req: req, answer: make(chan Decision, 1)}

	q.mu.Lock()
	q.pending[req.ID] = item
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.pending, req.ID)
		q.mu.Unlock()
	}()

	if q.notify != nil {
		q.notify(req)
	}

	select {
	case d := <-item.answer:
		return d, nil
	case <-ctx.Done():
		return Deny, ctx.Err()
	}
}

// Pending lists requests awaiting an answer, oldest first.
func (q *Queue) Pending() []Request {
	q.mu.Lock()
	out := make([]Request, 0, len(q.pending))
	for _, item := range q.pending {
		out = append(out, item.req)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Resolve posts the decision for a pending request.
func (q *Queue) Resolve(id string, d Decision) error {
	q.mu.Lock()
	item, ok := q.pending[id]
	q.mu.Unlock()
	if !ok {
		return ErrUnknownRequest
	}

	select {
	case item.answer <- d:
		return nil
	default:
		return ErrUnknownRequest
	}
}
