package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/GriffinCanCode/netlaunch/internal/api/http"
	"github.com/GriffinCanCode/netlaunch/internal/descriptor"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/config"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/netlaunch/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/netlaunch/internal/instance"
	"github.com/GriffinCanCode/netlaunch/internal/launcher"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/prompt"
	"github.com/GriffinCanCode/netlaunch/internal/security"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"github.com/GriffinCanCode/netlaunch/internal/shared/id"
	"github.com/GriffinCanCode/netlaunch/internal/trust"
)

type fakeApps struct {
	mu        sync.Mutex
	apps      map[id.ApplicationHandle]launcher.Status
	loadErr   error
	launchErr error
	loaded    []string
}

func newFakeApps() *fakeApps {
	return &fakeApps{apps: make(map[id.ApplicationHandle]launcher.Status)}
}

func (f *fakeApps) Load(_ context.Context, ref string) (*descriptor.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, ref)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &descriptor.Descriptor{}, nil
}

func (f *fakeApps) Launch(context.Context, *descriptor.Descriptor) (id.ApplicationHandle, error) {
	if f.launchErr != nil {
		return "", f.launchErr
	}
	h := id.NewApplicationHandle()
	f.mu.Lock()
	f.apps[h] = launcher.Status{Info: instance.Info{Handle: h, Title: "Demo", State: instance.StateRunning}}
	f.mu.Unlock()
	return h, nil
}

func (f *fakeApps) Stop(h id.ApplicationHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.apps[h]
	if !ok {
		return launcher.ErrUnknownApplication
	}
	st.State = instance.StateStopped
	f.apps[h] = st
	return nil
}

func (f *fakeApps) Get(h id.ApplicationHandle) (launcher.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.apps[h]
	return st, ok
}

func (f *fakeApps) List() []launcher.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]launcher.Status, 0, len(f.apps))
	for _, st := range f.apps {
		out = append(out, st)
	}
	return out
}

type fakeAudit []security.Denial

func (a fakeAudit) Audit() []security.Denial { return a }

type fakeCerts []trust.Certificate

func (c fakeCerts) Certificates() []trust.Certificate { return c }

type fixture struct {
	apps    *fakeApps
	queue   *prompt.Queue
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		apps:    newFakeApps(),
		queue:   prompt.NewQueue(nil),
		metrics: monitoring.NewMetrics(reg),
		tracer:  tracing.New("netlaunch", logging.NewNop()),
	}
	t.Cleanup(f.tracer.Close)
	cfg := config.Default().Server
	cfg.RequestsPerSecond = 0

	srv := New(Options{
		Config:      cfg,
		Development: true,
		Deps: apihttp.Deps{
			Apps:         f.apps,
			Audit:        fakeAudit{{Permission: "file /etc/passwd read", App: "app_x"}},
			Certificates: fakeCerts{{Subject: "CN=Publisher", Fingerprint: "ab12"}},
			Prompts:      f.queue,
		},
		Gatherer: reg,
		Tracer:   f.tracer,
		Metrics:  f.metrics,
	})
	f.handler = srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestApplicationRoutes(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, "GET", "/apps", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["apps"])

	w, body = f.do(t, "POST", "/apps", `{"descriptor":"https://apps.example.com/demo.jnlp"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	handle, _ := body["handle"].(string)
	require.NotEmpty(t, handle)
	assert.Equal(t, []string{"https://apps.example.com/demo.jnlp"}, f.apps.loaded)

	w, body = f.do(t, "GET", "/apps/"+handle, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Demo", body["title"])
	assert.Equal(t, "running", body["state"])

	w, _ = f.do(t, "DELETE", "/apps/"+handle, "")
	assert.Equal(t, http.StatusOK, w.Code)
	st, _ := f.apps.Get(id.ApplicationHandle(handle))
	assert.Equal(t, instance.StateStopped, st.State)
}

func TestApplicationErrors(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		loadErr   error
		launchErr error
		want      int
	}{
		{name: "missing descriptor", method: "POST", path: "/apps", body: `{}`, want: http.StatusBadRequest},
		{name: "malformed descriptor", method: "POST", path: "/apps", body: `{"descriptor":"x.jnlp"}`,
			loadErr: &errs.ParseError{Source: "x.jnlp"}, want: http.StatusBadRequest},
		{name: "unreachable descriptor", method: "POST", path: "/apps", body: `{"descriptor":"https://down.example/x.jnlp"}`,
			loadErr: &errs.FetchError{URL: "https://down.example/x.jnlp"}, want: http.StatusBadGateway},
		{name: "launch failure", method: "POST", path: "/apps", body: `{"descriptor":"x.jnlp"}`,
			launchErr: errs.NewLaunchFailure("main jar missing"), want: http.StatusUnprocessableEntity},
		{name: "invalid handle", method: "GET", path: "/apps/nope", want: http.StatusBadRequest},
		{name: "unknown application", method: "DELETE", path: "/apps/" + id.NewApplicationHandle().String(), want: http.StatusNotFound},
		{name: "missing application", method: "GET", path: "/apps/" + id.NewApplicationHandle().String(), want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.apps.loadErr = tt.loadErr
			f.apps.launchErr = tt.launchErr

			w, body := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPromptQueue(t *testing.T) {
	f := newFixture(t)

	req := prompt.NewRequest(prompt.KindUnsignedCode, "Demo", "Example", "https://apps.example.com/demo.jnlp", "Run unsigned code?")
	decided := make(chan prompt.Decision, 1)
	go func() {
		d, _ := f.queue.Answer(context.Background(), req)
		decided <- d
	}()

	require.Eventually(t, func() bool { return len(f.queue.Pending()) == 1 }, time.Second, 5*time.Millisecond)

	w, body := f.do(t, "GET", "/prompts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, _ = f.do(t, "POST", "/prompts/"+req.ID, `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, "POST", "/prompts/"+req.ID, `{"decision":"allow"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	select {
	case d := <-decided:
		assert.Equal(t, prompt.Allow, d)
	case <-time.After(time.Second):
		t.Fatal("prompt was not answered")
	}

	w, _ = f.do(t, "POST", "/prompts/"+req.ID, `{"decision":"deny"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSecurityRoutes(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, "GET", "/security/audit", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = f.do(t, "GET", "/trust/certificates", "")
	assert.Equal(t, http.StatusOK, w.Code)
	certs, _ := body["certificates"].([]any)
	require.Len(t, certs, 1)
	assert.Equal(t, "CN=Publisher", certs[0].(map[string]any)["subject"])
}

func TestMetricsRoutes(t *testing.T) {
	f := newFixture(t)
	f.metrics.RecordLaunch("success")

	w, _ := f.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "netlaunch_launches_total")
	assert.Contains(t, w.Body.String(), "netlaunch_api_requests_total")

	w, body := f.do(t, "GET", "/metrics/json", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["launches"])
}

func TestTracesRoute(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, "GET", "/apps", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(tracing.HeaderTraceID))

	require.Eventually(t, func() bool { return len(f.tracer.Recent()) >= 1 }, time.Second, 5*time.Millisecond)
	w, body := f.do(t, "GET", "/traces", "")
	assert.Equal(t, http.StatusOK, w.Code)
	spans, _ := body["spans"].([]any)
	require.NotEmpty(t, spans)
	assert.Equal(t, "GET /apps", spans[0].(map[string]any)["name"])
}

func TestRunShutsDownWithContext(t *testing.T) {
	cfg := config.Default().Server
	cfg.Port = "0"
	srv := New(Options{Config: cfg, Deps: apihttp.Deps{Apps: newFakeApps()}, Gatherer: prometheus.NewRegistry()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not stop")
	}
}
