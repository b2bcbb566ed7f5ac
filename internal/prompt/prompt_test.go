package prompt

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/netlaunch/internal/logging"
)

func TestNewRequestSanitizes(t *testing.T) {
	req := NewRequest(KindPartialSigning, `<script>alert(1)</script>Demo <b>App</b>`, "Example <i>Corp</i>", "http://a.example/app.yaml", "some jars are <u>unsigned</u>")

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "Demo App", req.Title)
	assert.Equal(t, "Example Corp", req.Vendor)
	assert.Equal(t, "some jars are unsigned", req.Message)

	withDetail := req.With("jar", "<a href='x'>lib.jar</a>")
	assert.Equal(t, "lib.jar", withDetail.Details["jar"])
	assert.Empty(t, req.Details)
}

func TestDispatcherSerializes(t *testing.T) {
	var active, maxActive atomic.Int32
	answerer := AnswererFunc(func(ctx context.Context, req Request) (Decision, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return Allow, nil
	})

	d := NewDispatcher(answerer, logging.NewNop(), nil)
	defer d.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := d.Ask(context.Background(), NewRequest(KindMissingALAC, "t", "v", "s", "m"))
			assert.NoError(t, err)
			assert.Equal(t, Allow, decision)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestDispatcherFixed(t *testing.T) {
	allow := NewDispatcher(Fixed(Allow), logging.NewNop(), nil)
	defer allow.Close()
	deny := NewDispatcher(Fixed(Deny), logging.NewNop(), nil)
	defer deny.Close()

	got, err := allow.Ask(context.Background(), NewRequest(KindUntrustedPublisher, "", "", "", ""))
	require.NoError(t, err)
	assert.Equal(t, Allow, got)

	got, err = deny.Ask(context.Background(), NewRequest(KindUntrustedPublisher, "", "", "", ""))
	require.NoError(t, err)
	assert.Equal(t, Deny, got)
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(Fixed(Allow), logging.NewNop(), nil)
	d.Close()
	d.Close()

	got, err := d.Ask(context.Background(), NewRequest(KindElevation, "", "", "", ""))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Deny, got)
}

func TestDispatcherContextCancelled(t *testing.T) {
	q := NewQueue(nil)
	d := NewDispatcher(q, logging.NewNop(), nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := d.Ask(ctx, NewRequest(KindMatchingALAC, "", "", "", ""))
	assert.Error(t, err)
	assert.Equal(t, Deny, got)
}

func TestQueueResolve(t *testing.T) {
	notified := make(chan Request, 1)
	q := NewQueue(func(r Request) { notified <- r })
	d := NewDispatcher(q, logging.NewNop(), nil)
	defer d.Close()

	answer := make(chan Decision, 1)
	go func() {
		decision, _ := d.Ask(context.Background(), NewRequest(KindMissingPermissions, "App", "", "", ""))
		answer <- decision
	}()

	req := <-notified
	require.Len(t, q.Pending(), 1)
	assert.ErrorIs(t, q.Resolve("nope", Allow), ErrUnknownRequest)
	require.NoError(t, q.Resolve(req.ID, Allow))

	assert.Equal(t, Allow, <-answer)
	assert.Eventually(t, func() bool { return len(q.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		input string
		want  Decision
	}{
		{"y\n", Allow},
		{"YES\n", Allow},
		{"n\n", Deny},
		{"\n", Deny},
		{"maybe\ny\n", Allow},
		{"", Deny},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			term := NewTerminal(strings.NewReader(tt.input), &out)
			req := NewRequest(KindPartialSigning, "Demo", "Example", "http://a.example/app.yaml", "Mixed signing").With("jar", "lib.jar")

			got, err := term.Answer(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "[partial_signing] Demo (Example)")
			assert.Contains(t, out.String(), "jar: lib.jar")
		})
	}
}
