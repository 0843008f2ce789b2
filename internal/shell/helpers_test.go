package shell

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ctrshell/internal/config"
)

type originFile struct {
	status      int
	contentType string
	body        string
	headers     map[string]string
	// etag, when set, makes the file honour Range and conditional headers.
	etag string
}

// fakeOrigin serves a fixed set of files and records every request.
type fakeOrigin struct {
	srv *httptest.Server

	mu       sync.Mutex
	files    map[string]originFile
	hits     map[string]int
	requests []*http.Request
	bodies   []string
}

func newFakeOrigin(t *testing.T, files map[string]originFile) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{files: files, hits: map[string]int{}}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	o.mu.Lock()
	o.hits[r.URL.Path]++
	o.requests = append(o.requests, r.Clone(context.Background()))
	o.bodies = append(o.bodies, string(body))
	f, ok := o.files[r.URL.Path]
	o.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	for k, v := range f.headers {
		w.Header().Set(k, v)
	}
	if f.contentType != "" {
		w.Header().Set("Content-Type", f.contentType)
	}
	if f.etag != "" {
		w.Header().Set("ETag", f.etag)
		http.ServeContent(w, r, "", time.Time{}, strings.NewReader(f.body))
		return
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, f.body)
}

func (o *fakeOrigin) set(path string, f originFile) {
	o.mu.Lock()
	o.files[path] = f
	o.mu.Unlock()
}

func (o *fakeOrigin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *fakeOrigin) lastRequest() (*http.Request, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.requests) == 0 {
		return nil, ""
	}
	return o.requests[len(o.requests)-1], o.bodies[len(o.bodies)-1]
}

// goOffline makes every later origin request fail at the connection level.
func (o *fakeOrigin) goOffline() {
	o.srv.CloseClientConnections()
	o.srv.Close()
}

func testConfig(origin string, critical, static []string) *config.Config {
	cfg := config.Default()
	cfg.Server.Origin = origin
	cfg.Cache.Backend = config.CacheMemory
	cfg.Assets.Critical = critical
	cfg.Assets.Static = static
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg *config.Config, backend Backend) *Service {
	t.Helper()
	if backend == nil {
		backend = NewMemoryBackend(0)
	}
	s, err := newService(cfg, backend, &http.Client{}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, h http.Handler, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func navigate(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	return get(t, h, target, "Sec-Fetch-Mode", "navigate", "Accept", "text/html,application/xhtml+xml")
}

func bodyOf(rec *httptest.ResponseRecorder) string {
	return strings.TrimSpace(rec.Body.String())
}
