// Package prompt routes security questions to the user.
//
// Application and loader goroutines never talk to the user directly. They
// call Service.Ask, which hands the request to a single dispatcher goroutine
// and blocks until a decision is posted back. The dispatcher forwards each
// request, one at a time, to an Answerer: a terminal, the control API queue,
// or an automatic policy for trust-all and trust-none configurations.
package prompt

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// Kind identifies the question being asked.
type Kind string

const (
	KindPartialSigning     Kind = "partial_signing"
	KindUntrustedPublisher Kind = "untrusted_publisher"
	KindMissingPermissions Kind = "missing_permissions"
	KindMissingALAC        Kind = "missing_alac"
	KindMatchingALAC       Kind = "matching_alac"
	KindUnsignedCode       Kind = "unsigned_code"
	KindElevation          Kind = "runtime_elevation"
)

// Decision is the user's answer.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// ErrClosed is returned by Ask after the dispatcher has shut down.
var ErrClosed = errors.New("prompt dispatcher closed")

// Request is one question.
type Request struct {
	ID      string            `json:"id"`
	Kind    Kind              `json:"kind"`
	Title   string            `json:"title"`
	Vendor  string            `json:"vendor"`
	Source  string            `json:"source"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Created time.Time         `json:"created"`
}

// Service asks the user a question and blocks for the answer.
type Service interface {
	Ask(ctx context.Context, req Request) (Decision, error)
}

var sanitizer = bluemonday.StrictPolicy()

// NewRequest builds a request with a fresh ID. Text taken from a descriptor
// is stripped of markup before it can reach a dialog.
func NewRequest(kind Kind, title, vendor, source, message string) Request {
	return Request{
		ID:      uuid.NewString(),
		Kind:    kind,
		Title:   clean(title),
		Vendor:  clean(vendor),
		Source:  source,
		Message: clean(message),
		Details: map[string]string{},
		Created: time.Now(),
	}
}

// With returns a copy of r carrying an extra detail.
func (r Request) With(key, value string) Request {
	details := make(map[string]string, len(r.Details)+1)
	for k, v := range r.Details {
		details[k] = v
	}
	details[key] = clean(value)
	r.Details = details
	return r
}

func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(s)))
}
