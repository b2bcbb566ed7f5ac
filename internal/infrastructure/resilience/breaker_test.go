package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errHost = errors.New("host unreachable")

func run(b *Breaker, ok bool) error {
	_, err := Do(b, func() (string, error) {
		if ok {
			return "path", nil
		}
		return "", errHost
	})
	return err
}

func TestBreakerStateTransitions(t *testing.T) {
	tripAt := func(n uint32) func(Counts) bool {
		return func(c Counts) bool { return c.ConsecutiveFailures >= n }
	}

	tests := []struct {
		name     string
		settings Settings
		requests []bool
		want     State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{Interval: time.Minute, Timeout: time.Minute},
			requests: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name:     "opens after consecutive failures",
			settings: Settings{Interval: time.Minute, Timeout: time.Minute, ReadyToTrip: tripAt(3)},
			requests: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name:     "success resets the failure streak",
			settings: Settings{Interval: time.Minute, Timeout: time.Minute, ReadyToTrip: tripAt(3)},
			requests: []bool{false, false, true, false, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("jars.example.com", tt.settings)
			for _, ok := range tt.requests {
				_ = run(b, ok)
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestOpenBreakerFailsFast(t *testing.T) {
	b := New("h", Settings{Timeout: time.Minute, ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	require.ErrorIs(t, run(b, false), errHost)

	called := false
	_, err := Do(b, func() (int, error) {
		called = true
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := New("h", Settings{Timeout: time.Second, ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	b.now = func() time.Time { return now }

	_ = run(b, false)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, run(b, true))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := New("h", Settings{Timeout: time.Second, ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})
	b.now = func() time.Time { return now }

	_ = run(b, false)
	now = now.Add(2 * time.Second)
	_ = run(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestIsSuccessfulExcludesErrors(t *testing.T) {
	notFound := errors.New("404")
	b := New("h", Settings{
		ReadyToTrip:  func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, notFound) },
	})

	for i := 0; i < 3; i++ {
		_, err := Do(b, func() (string, error) { return "", notFound })
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestPanicCountsAsFailure(t *testing.T) {
	b := New("h", Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	assert.Panics(t, func() {
		_, _ = Do(b, func() (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestGroupIsolatesHosts(t *testing.T) {
	g := NewGroup(Settings{ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 }})

	_ = run(g.For("a.example"), false)
	require.NoError(t, run(g.For("b.example"), true))

	assert.Same(t, g.For("a.example"), g.For("a.example"))
	states := g.States()
	assert.Equal(t, StateOpen, states["a.example"])
	assert.Equal(t, StateClosed, states["b.example"])
}

func TestGroupConcurrentFor(t *testing.T) {
	g := NewGroup(Settings{})
	var wg sync.WaitGroup
	seen := make([]*Breaker, 16)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = g.For("same")
		}(i)
	}
	wg.Wait()
	for _, b := range seen {
		assert.Same(t, seen[0], b)
	}
}
