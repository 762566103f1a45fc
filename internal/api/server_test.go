package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/config"
	"github.com/JakeFAU/serp-archiver/internal/pipeline"
)

func TestServer_CreateRun_Succeeds(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{summary: archive.RunSummary{RunID: "run-1", FirstID: "00000003", LastID: "00000004"}}
	server := newTestServer(runner, &fakeState{})

	rec := post(server, `{"keyword":"  judi slot  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got archive.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "00000004", got.LastID)
	assert.Equal(t, []string{"judi slot"}, runner.keywords())
}

func TestServer_CreateRun_BadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing keyword", `{}`, "keyword required"},
		{"blank keyword", `{"keyword":"   "}`, "keyword required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			rec := post(newTestServer(runner, &fakeState{}), tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
			assert.Empty(t, runner.keywords())
		})
	}
}

func TestServer_CreateRun_NoCandidates(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		summary: archive.RunSummary{RunID: "run-2", Blocked: 3},
		err:     pipeline.ErrNoCandidates,
	}
	rec := post(newTestServer(runner, &fakeState{}), `{"keyword":"k"}`)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var got runFailure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, pipeline.ErrNoCandidates.Error(), got.Error)
	assert.Equal(t, 3, got.Summary.Blocked)
}

func TestServer_CreateRun_Failure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: fmt.Errorf("search: %w", errors.New("rate limited"))}
	rec := post(newTestServer(runner, &fakeState{}), `{"keyword":"k"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limited")
}

func TestServer_CreateRun_ConflictWhileBusy(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	server := newTestServer(runner, &fakeState{})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- post(server, `{"keyword":"first"}`)
	}()
	<-runner.entered

	rec := post(server, `{"keyword":"second"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	close(runner.release)
	first := <-done
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, []string{"first"}, runner.keywords())

	// The lock is released once the first run returns.
	runner.entered = nil
	runner.release = nil
	rec = post(server, `{"keyword":"third"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_CreateRun_SurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	runner := &contextRunner{entered: make(chan struct{}), release: make(chan struct{}), done: make(chan struct{})}
	srv := httptest.NewServer(newTestServer(runner, &fakeState{}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v1/runs", bytes.NewBufferString(`{"keyword":"k"}`))
	require.NoError(t, err)

	clientErr := make(chan error, 1)
	go func() {
		resp, doErr := srv.Client().Do(req)
		if resp != nil {
			_ = resp.Body.Close()
		}
		clientErr <- doErr
	}()

	<-runner.entered
	cancel()
	require.Error(t, <-clientErr)
	close(runner.release)
	<-runner.done

	require.NoError(t, runner.ctxErr, "run context must stay live after the caller goes away")
	assert.NotEmpty(t, runner.requestID, "request values are still visible to the run")
}

func TestServer_GetState(t *testing.T) {
	t.Parallel()

	last := "00000009"
	server := newTestServer(&fakeRunner{}, &fakeState{state: State{LastID: &last, NextID: "00000010", Domains: 7}})
	rec := get(server, "/v1/state")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"last_id":"00000009","next_id":"00000010","domains":7}`, rec.Body.String())

	fresh := newTestServer(&fakeRunner{}, &fakeState{state: State{NextID: "00000000"}})
	rec = get(fresh, "/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"last_id":null,"next_id":"00000000","domains":0}`, rec.Body.String())
}

func TestServer_StateErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, &fakeState{err: errors.New("permission denied")})

	rec := get(server, "/v1/state")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = get(server, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, &fakeState{})
	get(server, "/healthz")
	rec := get(server, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(&fakeRunner{}, &fakeState{}, cfg, zap.NewNop())

	rec := get(server, "/healthz")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(server, "/healthz?api_key=secret")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{}, &fakeState{})
	rec := get(server, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeRunner{panicWith: "boom"}, &fakeState{})
	rec := post(server, `{"keyword":"k"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")

	// A panicking run must not leave the run lock held.
	server.runner = &fakeRunner{}
	rec = post(server, `{"keyword":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakeRunner struct {
	mu        sync.Mutex
	seen      []string
	summary   archive.RunSummary
	err       error
	panicWith any
	entered   chan struct{}
	release   chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, keyword string) (archive.RunSummary, error) {
	f.mu.Lock()
	f.seen = append(f.seen, keyword)
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if entered != nil {
		close(entered)
		<-release
	}
	return f.summary, f.err
}

// contextRunner reports what its context looked like after the caller left.
type contextRunner struct {
	entered   chan struct{}
	release   chan struct{}
	done      chan struct{}
	ctxErr    error
	requestID string
}

func (c *contextRunner) Run(ctx context.Context, _ string) (archive.RunSummary, error) {
	defer close(c.done)
	close(c.entered)
	<-c.release
	select {
	case <-ctx.Done():
	case <-time.After(300 * time.Millisecond):
	}
	c.ctxErr = ctx.Err()
	c.requestID = RequestID(ctx)
	return archive.RunSummary{}, nil
}

func (f *fakeRunner) keywords() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

type fakeState struct {
	state State
	err   error
}

func (f *fakeState) State() (State, error) {
	return f.state, f.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(runner Runner, state StateReader) *Server {
	return NewServer(runner, state, config.Config{}, zap.NewNop())
}

func post(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}
