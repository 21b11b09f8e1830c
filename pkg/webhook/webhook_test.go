package webhook

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cicd-ai-toolkit/watchdog/pkg/build"
	"github.com/cicd-ai-toolkit/watchdog/pkg/config"
	"github.com/cicd-ai-toolkit/watchdog/pkg/delivery"
	"github.com/cicd-ai-toolkit/watchdog/pkg/events"
	"github.com/cicd-ai-toolkit/watchdog/pkg/listener"
	"github.com/cicd-ai-toolkit/watchdog/pkg/observability"
)

type staticSettings struct {
	s *config.Settings
}

func (s staticSettings) Settings() *config.Settings { return s.s }

const completedPayload = `{
	"name": "deploy-service",
	"display_name": "deploy-service",
	"url": "job/deploy-service/",
	"build": {
		"full_url": "https://ci.example/job/deploy-service/42/",
		"number": 42,
		"phase": "COMPLETED",
		"status": "SUCCESS",
		"url": "job/deploy-service/42/",
		"duration": 4500
	}
}`

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification([]byte(completedPayload))
	require.NoError(t, err)

	eventType, ok := n.EventType()
	assert.True(t, ok)
	assert.Equal(t, events.EventCompleted, eventType)

	b := n.ToBuild()
	assert.Equal(t, "deploy-service", b.Job)
	assert.Equal(t, 42, b.Number)
	assert.Equal(t, build.StatusSuccess, b.Status)
	assert.Equal(t, build.StatusUnknown, b.PreviousStatus)
	assert.Equal(t, 4500*time.Millisecond, b.Duration)
	assert.Equal(t, "deploy-service #42", b.FullDisplayName)
	assert.Equal(t, "https://ci.example/job/deploy-service/42/", b.AbsoluteURL)

	for _, bad := range []string{`not json`, `{"build":{"number":1}}`, `{"name":"x","build":{}}`} {
		_, err := ParseNotification([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestJobPath(t *testing.T) {
	testCases := []struct {
		url  string
		want string
	}{
		{"job/deploy-service/", "deploy-service"},
		{"job/team/job/deploy-service/", "team/deploy-service"},
		{"/job/a/job/b/job/c", "a/b/c"},
		{"", "fallback"},
		{"view/all/job/x/", "fallback"},
		{"job/", "fallback"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, JobPath(&Notification{Name: "fallback", URL: tc.url}), tc.url)
	}
}

type staticJobs map[string]config.Steps

func (s staticJobs) Publishers(job string) (config.Steps, bool) {
	steps, ok := s[job]
	return steps, ok
}

type countingJobs struct {
	staticJobs
	mu    sync.Mutex
	calls int
}

func (c *countingJobs) Publishers(job string) (config.Steps, bool) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.staticJobs.Publishers(job)
}

type fakeBuilds struct {
	b   *build.Build
	err error
}

func (f fakeBuilds) GetBuild(ctx context.Context, jobPath string, number int) (*build.Build, error) {
	return f.b, f.err
}

func newHookServer(t *testing.T, jobs JobSource, opts HandlerOptions) (*httptest.Server, *[]*events.Event) {
	t.Helper()
	bus := events.NewBus(nil)
	var mu sync.Mutex
	var received []*events.Event
	bus.Subscribe("recorder", events.EventCompleted, func(ctx context.Context, e *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	server := httptest.NewServer(NewMux(NewHandler(jobs, bus, nil, opts), nil, nil))
	t.Cleanup(server.Close)
	return server, &received
}

func post(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHookPublishesCompletion(t *testing.T) {
	steps := config.Steps{config.WatchdogStep{NotifierConfig: config.NotifierConfig{MicroServiceID: "17", Signature: "abc123"}}}
	jobs := &countingJobs{staticJobs: staticJobs{"deploy-service": steps}}
	server, received := newHookServer(t, jobs, HandlerOptions{})

	resp := post(t, server.URL+HookPath, completedPayload, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, *received, 1)
	e := (*received)[0]
	assert.Equal(t, "deploy-service#42", e.Build.Key())
	assert.Equal(t, steps, e.Publishers)
	assert.NotNil(t, e.Console)
	assert.Equal(t, 1, jobs.calls)

	var body hookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "accepted", body.Status)
	assert.Equal(t, 1, body.Handlers)
}

func TestHookIgnoresOtherPhases(t *testing.T) {
	server, received := newHookServer(t, staticJobs{}, HandlerOptions{})

	for _, phase := range []string{"QUEUED", "STARTED", "FINALIZED"} {
		payload := strings.Replace(completedPayload, "COMPLETED", phase, 1)
		resp := post(t, server.URL+HookPath, payload, nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, phase)
	}
	assert.Empty(t, *received)
}

func TestHookRejectsBadRequests(t *testing.T) {
	server, received := newHookServer(t, staticJobs{}, HandlerOptions{})

	resp := post(t, server.URL+HookPath, `{"name":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, server.URL+HookPath, strings.Repeat("x", MaxPayloadSize+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	get, err := http.Get(server.URL + HookPath)
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)

	assert.Empty(t, *received)
}

func TestHookToken(t *testing.T) {
	server, received := newHookServer(t, staticJobs{}, HandlerOptions{Token: "s3cret"})

	resp := post(t, server.URL+HookPath, completedPayload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, server.URL+HookPath, completedPayload, map[string]string{TokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, server.URL+HookPath, completedPayload, map[string]string{TokenHeader: "s3cret"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = post(t, server.URL+HookPath+"?token=s3cret", completedPayload, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Len(t, *received, 2)
}

func TestHookUsesBuildSource(t *testing.T) {
	fetched := &build.Build{Job: "deploy-service", Number: 42, Status: build.StatusFailure, PreviousStatus: build.StatusSuccess}
	server, received := newHookServer(t, staticJobs{}, HandlerOptions{Builds: fakeBuilds{b: fetched}})

	post(t, server.URL+HookPath, completedPayload, nil)
	require.Len(t, *received, 1)
	b := (*received)[0].Build
	assert.Equal(t, build.StatusFailure, b.Status)
	assert.Equal(t, "https://ci.example/job/deploy-service/42/", b.AbsoluteURL)

	server, received = newHookServer(t, staticJobs{}, HandlerOptions{Builds: fakeBuilds{err: errors.New("down")}})
	post(t, server.URL+HookPath, completedPayload, nil)
	require.Len(t, *received, 1)
	assert.Equal(t, build.StatusSuccess, (*received)[0].Build.Status)
}

func TestHealthz(t *testing.T) {
	server, _ := newHookServer(t, staticJobs{}, HandlerOptions{})
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetrics(0)
	metrics.RecordDelivery("delivered", 20*time.Millisecond)
	server := httptest.NewServer(NewMux(NewHandler(staticJobs{}, events.NewBus(nil), nil, HandlerOptions{}), nil, metrics))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
	assert.Equal(t, 1.0, snapshot["counter.delivery.calls{outcome=delivered}"])

	// not mounted without a collector
	bare := httptest.NewServer(NewMux(NewHandler(staticJobs{}, events.NewBus(nil), nil, HandlerOptions{}), nil, nil))
	defer bare.Close()
	resp2, err := http.Get(bare.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestConsoleForwardsToLog(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLogger(observability.Options{Level: "debug", Format: "text", Output: &buf})

	console := NewConsole(log, "deploy-service#42")
	console.Println("WatchDog: build report pushed successfully")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "stream=console")
	assert.Contains(t, out, "build=deploy-service#42")
	assert.Contains(t, out, "WatchDog: build report pushed successfully")
}

func TestUnreachableEndpointLogsOneFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	var buf bytes.Buffer
	log := observability.NewLogger(observability.Options{Level: "info", Format: "text", Output: &buf})
	settings := &config.Settings{Global: config.Global{APIURL: "http://" + addr + "/report", Timeout: time.Second}}
	l := listener.New(staticSettings{settings}, log, listener.Options{})

	res := l.Handle(context.Background(), &events.Event{
		Type:       events.EventCompleted,
		Build:      &build.Build{Job: "deploy-service", Number: 42, Status: build.StatusFailure},
		Publishers: config.Steps{config.WatchdogStep{NotifierConfig: config.NotifierConfig{MicroServiceID: "17", Signature: "abc123"}}},
		Console:    NewConsole(log, "deploy-service#42"),
	})
	assert.Equal(t, delivery.Failed, res.Outcome)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "failed to push build report"), out)
	assert.NotContains(t, out, "stream=console")
}

func newAdminServer(t *testing.T) (*httptest.Server, *config.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watchdog.yaml")
	f := config.DefaultFile()
	f.Global.APIURL = "https://report.example/api/build"
	f.Proxy = &config.ProxyConfig{Host: "proxy.internal", Port: 3128, Username: "ci", Password: "secret"}
	store := config.NewStore(path, f)

	admin, err := NewAdmin(store, nil, adminToken)
	require.NoError(t, err)
	mux := http.NewServeMux()
	admin.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

const adminToken = "admintoken"

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	return doRequestAs(t, "Bearer "+adminToken, method, url, body)
}

func doRequestAs(t *testing.T, authorization, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestAdminGetConfigMasksPassword(t *testing.T) {
	server, _ := newAdminServer(t)

	resp, body := doRequest(t, http.MethodGet, server.URL+"/config", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var v settingsView
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "https://report.example/api/build", v.APIURL)
	assert.Equal(t, "10s", v.Timeout)
	require.NotNil(t, v.Proxy)
	assert.Equal(t, config.MaskedValue, v.Proxy.Password)
}

func TestAdminPutConfig(t *testing.T) {
	server, store := newAdminServer(t)

	resp, _ := doRequest(t, http.MethodPut, server.URL+"/config", `{
		"apiUrl": "https://other.example/report",
		"timeout": "5s",
		"proxy": {"host": "proxy.internal", "port": 3128, "username": "ci", "password": "****"}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := store.Settings()
	assert.Equal(t, "https://other.example/report", s.Global.APIURL)
	assert.Equal(t, 5*time.Second, s.Global.Timeout)
	assert.Equal(t, "secret", s.Proxy.Password)

	loaded, err := config.LoadFile(store.Path(), true)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/report", loaded.Global.APIURL)
}

func TestAdminPutConfigRejectsInvalid(t *testing.T) {
	server, store := newAdminServer(t)

	for _, body := range []string{
		`{"apiUrl": ""}`,
		`{"apiUrl": "ftp://report.example"}`,
		`{"apiUrl": "https://report.example", "timeout": "soon"}`,
		`{"apiUrl": "https://report.example", "logLevel": "loud"}`,
		`not json`,
	} {
		resp, _ := doRequest(t, http.MethodPut, server.URL+"/config", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, "https://report.example/api/build", store.Settings().Global.APIURL)
}

func TestAdminCheckField(t *testing.T) {
	server, _ := newAdminServer(t)

	testCases := []struct {
		query  string
		status int
		kind   config.ValidationKind
	}{
		{"field=apiUrl&value=https://report.example", http.StatusOK, config.KindOK},
		{"field=apiUrl&value=report.example", http.StatusOK, config.KindError},
		{"field=microServiceId&value=17", http.StatusOK, config.KindOK},
		{"field=microServiceId&value=abc", http.StatusOK, config.KindError},
		{"field=signature&value=", http.StatusOK, config.KindError},
		{"field=colour&value=red", http.StatusBadRequest, ""},
	}
	for _, tc := range testCases {
		resp, body := doRequest(t, http.MethodGet, server.URL+"/config/check?"+tc.query, "")
		assert.Equal(t, tc.status, resp.StatusCode, tc.query)
		if tc.status != http.StatusOK {
			continue
		}
		var result config.FormValidation
		require.NoError(t, json.Unmarshal(body, &result))
		assert.Equal(t, tc.kind, result.Kind, tc.query)
	}
}

func TestAdminJobs(t *testing.T) {
	server, store := newAdminServer(t)

	resp, _ := doRequest(t, http.MethodGet, server.URL+"/jobs/team/deploy-service", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPut, server.URL+"/jobs/team/deploy-service", `
publishers:
  - type: mailer
    recipients: [ops@example.com]
  - type: watchdog
    micro_service_id: "17"
    signature: abc123
`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	steps, ok := store.Publishers("team/deploy-service")
	require.True(t, ok)
	require.Len(t, steps, 2)
	step, ok := steps.First(config.CapabilityNotifier)
	require.True(t, ok)
	assert.Equal(t, "17", step.(config.Notifier).Notifier().MicroServiceID)

	resp, body := doRequest(t, http.MethodGet, server.URL+"/jobs/team/deploy-service", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "type: watchdog")
	assert.NotContains(t, string(body), "abc123")
	assert.Contains(t, string(body), config.MaskedValue)

	// the masked body sent back unchanged keeps the stored signature
	resp, _ = doRequest(t, http.MethodPut, server.URL+"/jobs/team/deploy-service", string(body))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	steps, _ = store.Publishers("team/deploy-service")
	step, _ = steps.First(config.CapabilityNotifier)
	assert.Equal(t, "abc123", step.(config.Notifier).Notifier().Signature)

	// a masked signature for a job without one stored is rejected
	resp, _ = doRequest(t, http.MethodPut, server.URL+"/jobs/other", string(body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, ok = store.Publishers("other")
	assert.False(t, ok)

	resp, _ = doRequest(t, http.MethodPut, server.URL+"/jobs/bad", `
publishers:
  - type: watchdog
    micro_service_id: abc
    signature: abc123
`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRequiresToken(t *testing.T) {
	server, store := newAdminServer(t)
	require.NoError(t, store.PutJob("deploy-service", config.JobConfig{Publishers: config.Steps{
		config.WatchdogStep{NotifierConfig: config.NotifierConfig{MicroServiceID: "17", Signature: "topsecret"}},
	}}))

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/config", ""},
		{http.MethodPut, "/config", `{"apiUrl": "https://attacker.example/collect"}`},
		{http.MethodGet, "/config/check?field=apiUrl&value=https://report.example", ""},
		{http.MethodGet, "/jobs/deploy-service", ""},
		{http.MethodPut, "/jobs/deploy-service", "publishers: []\n"},
	}
	for _, auth := range []string{"", "Bearer wrong", adminToken, "Basic " + adminToken} {
		for _, req := range requests {
			resp, body := doRequestAs(t, auth, req.method, server.URL+req.path, req.body)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s with %q", req.method, req.path, auth)
			assert.NotContains(t, string(body), "topsecret")
		}
	}

	assert.Equal(t, "https://report.example/api/build", store.Settings().Global.APIURL)
	steps, ok := store.Publishers("deploy-service")
	require.True(t, ok)
	assert.Len(t, steps, 1)
}

func TestNewAdminRequiresToken(t *testing.T) {
	store := config.NewStore("", config.DefaultFile())
	for _, token := range []string{"", "   "} {
		_, err := NewAdmin(store, nil, token)
		assert.ErrorIs(t, err, ErrNoAdminToken)
	}
}

func TestDrainTimeout(t *testing.T) {
	testCases := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{0, 15 * time.Second},
		{time.Second, 15 * time.Second},
		{config.DefaultTimeout, 45 * time.Second},
		{30 * time.Second, 125 * time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, DrainTimeout(tc.timeout), tc.timeout.String())
	}
}

func TestServerDrainsInFlightRequest(t *testing.T) {
	started := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusAccepted, hookResponse{Status: "accepted"})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var drains atomic.Int32
	server := NewServer("", handler, nil).WithDrainTimeout(func() time.Duration {
		drains.Add(1)
		return 5 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	type result struct {
		status int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+ln.Addr().String()+HookPath, "application/json", strings.NewReader("{}"))
		if err != nil {
			done <- result{err: err}
			return
		}
		resp.Body.Close()
		done <- result{status: resp.StatusCode}
	}()

	<-started
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusAccepted, res.status)
	require.NoError(t, <-served)
	assert.Equal(t, int32(1), drains.Load())
}
