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
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/config"
	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/pipeline"
	"github.com/JakeFAU/search-fetch/internal/search"
	"github.com/JakeFAU/search-fetch/internal/worker"
)

type fakeRunner struct {
	mu   sync.Mutex
	reqs []worker.Request
	res  worker.Result
	err  error
}

func (f *fakeRunner) Execute(_ context.Context, req worker.Request) (worker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Pipeline: config.PipelineConfig{DefaultPages: 5, DefaultMaxChars: 5000},
	}
}

func testResult() worker.Result {
	return worker.Result{Collection: crawler.ResultCollection{
		RunID: "run-1",
		Query: "golang",
		Pages: []crawler.ResultPage{{Title: "Go", URL: "https://go.dev", Snippet: "s", Content: "c", HTML: "<p>c</p>"}},
		Outcomes: []crawler.OutcomeSummary{
			{Index: 0, URL: "https://go.dev", Status: crawler.OutcomeSuccess},
		},
	}}
}

func post(t *testing.T, srv *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Search_ReturnsCollection(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{res: testResult()}
	srv := NewServer(runner, nil, testConfig(), zap.NewNop())

	rec := post(t, srv, "/v1/search", `{"query":"golang","pages":3,"max_chars":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got crawler.ResultCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, testResult().Collection, got)
	require.Equal(t, []worker.Request{{Query: "golang", Pages: 3, MaxChars: 50}}, runner.reqs)
}

func TestServer_Search_AppliesDefaults(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{res: testResult()}
	srv := NewServer(runner, nil, testConfig(), zap.NewNop())

	rec := post(t, srv, "/v1/search", `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []worker.Request{{Query: "golang", Pages: 5, MaxChars: 5000}}, runner.reqs)
}

func TestServer_Search_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing query", `{"pages":2}`, "query required"},
		{"unknown field", `{"query":"q","depth":3}`, "invalid JSON"},
		{"too many pages", `{"query":"q","pages":101}`, "pages must be <= 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			runner := &fakeRunner{}
			srv := NewServer(runner, nil, testConfig(), zap.NewNop())
			rec := post(t, srv, "/v1/search", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tt.want)
			require.Empty(t, runner.reqs)
		})
	}
}

func TestServer_Search_ErrorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"provider failure", fmt.Errorf("%w: %w", pipeline.ErrSearchProvider, errors.New("quota")), http.StatusBadGateway},
		{"blank query", pipeline.ErrEmptyQuery, http.StatusBadRequest},
		{"deadline", fmt.Errorf("write output: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"write failure", errors.New("write output: disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := NewServer(&fakeRunner{err: tt.err}, nil, testConfig(), zap.NewNop())
			rec := post(t, srv, "/v1/search", `{"query":"q"}`)
			require.Equal(t, tt.want, rec.Code)
			require.Contains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestServer_SearchSummary(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{res: testResult()}, nil, testConfig(), zap.NewNop())
	rec := post(t, srv, "/v1/search/summary", `{"query":"golang"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, pipeline.RenderSummary(testResult().Collection), rec.Body.String())
}

func TestServer_EndToEndWithPipeline(t *testing.T) {
	t.Parallel()

	provider := search.NewStatic([]crawler.SearchRecord{
		{Title: "A", URL: "https://a.example", Snippet: "a"},
		{Title: "B", URL: "https://b.example", Snippet: "b"},
	})
	fetcher := fetchFunc(func(url string) ([]crawler.PageCapture, error) {
		if url == "https://b.example" {
			return nil, errors.New("refused")
		}
		return []crawler.PageCapture{{URL: url, StatusCode: 200, Body: []byte("hello   world")}}, nil
	})
	p, err := pipeline.New(pipeline.Options{Provider: provider, Fetcher: fetcher, Transformer: identity{}})
	require.NoError(t, err)
	w, err := worker.New(worker.Deps{Searcher: p}, worker.Config{}, nil)
	require.NoError(t, err)

	srv := NewServer(w, nil, testConfig(), zap.NewNop())
	rec := post(t, srv, "/v1/search", `{"query":"q","pages":2,"max_chars":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got crawler.ResultCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Pages, 1)
	require.Equal(t, "hello", got.Pages[0].Content)
	require.Len(t, got.Outcomes, 2)
	require.Equal(t, crawler.OutcomeFailed, got.Outcomes[1].Status)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	srv := NewServer(&fakeRunner{res: testResult()}, nil, cfg, zap.NewNop())

	rec := post(t, srv, "/v1/search", `{"query":"q"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader(`{"query":"q"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// health checks stay open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, func(context.Context) error { return errors.New("db unreachable") }, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db unreachable")

	srv = NewServer(&fakeRunner{}, nil, testConfig(), zap.NewNop())
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, nil, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(panicRunner{}, nil, testConfig(), zap.NewNop())
	rec := post(t, srv, "/v1/search", `{"query":"q"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv := NewServer(&fakeRunner{}, nil, testConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
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

type fetchFunc func(url string) ([]crawler.PageCapture, error)

func (f fetchFunc) Fetch(_ context.Context, url string, _ crawler.FetchConfig) ([]crawler.PageCapture, error) {
	return f(url)
}

type identity struct{}

func (identity) Transform(page crawler.PageCapture, _ crawler.TransformConfig) (string, error) {
	return page.HTML(), nil
}

type panicRunner struct{}

func (panicRunner) Execute(context.Context, worker.Request) (worker.Result, error) {
	panic("boom")
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
