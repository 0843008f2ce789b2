package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrshell/internal/localstore"
	"ctrshell/internal/shell"
)

type fakeShell struct {
	status      shell.Status
	activateErr error
	served      []string
}

func (f *fakeShell) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.served = append(f.served, r.Method+" "+r.URL.Path)
		w.Header().Set(shell.HeaderCache, shell.OutcomeHit)
		_, _ = io.WriteString(w, "shell:"+r.URL.Path)
	})
}

func (f *fakeShell) Status() shell.Status { return f.status }

func (f *fakeShell) Activate(context.Context) (shell.ActivateReport, error) {
	if f.activateErr != nil {
		return shell.ActivateReport{}, f.activateErr
	}
	return shell.ActivateReport{Deleted: []string{"static-v1"}, Claimed: 2}, nil
}

type testServer struct {
	*Server
	shell *fakeShell
	urls  *localstore.ObjectURLs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	sh := &fakeShell{status: shell.Status{State: "active", Version: 2}}
	urls := localstore.NewObjectURLs("http://localhost:8080" + Prefix + "/blob")
	t.Cleanup(urls.Close)
	h := NewHandler(sh,
		localstore.NewRecordStore(localstore.NewMemoryStore()),
		localstore.NewArchive(localstore.NewMemoryStore()),
		localstore.NewDraftStore(localstore.NewMemoryStore(), nil),
		urls,
	)
	return &testServer{Server: New(h, &Config{BodyLimit: 1 << 20}), shell: sh, urls: urls}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return fmt.Sprint(e["type"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/__ctr/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/__ctr/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecordsAPI(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/__ctr/api/records",
		`{"start":"2024-06-01","end":"2024-06-02","data":[{"name":"Avery","classification":"FFT1","days":[]}],"crewInfo":{"crewName":"E12"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"key":"2024-06-01 to 2024-06-02"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/__ctr/api/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"keys":["2024-06-01 to 2024-06-02"]}`, rec.Body.String())

	path := "/__ctr/api/records/" + url.PathEscape("2024-06-01 to 2024-06-02")
	rec = s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "2024-06-01 to 2024-06-02", body["dateRange"])
	assert.Len(t, body["data"], 1)

	rec = s.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(ErrorTypeNotFound), errorType(t, rec))

	rec = s.do(t, http.MethodGet, "/__ctr/api/records", "")
	assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
}

func TestRecordsSortByDate(t *testing.T) {
	s := newTestServer(t)
	for _, r := range [][2]string{{"2024-07-01", "2024-07-02"}, {"2024-06-01", "2024-06-02"}} {
		rec := s.do(t, http.MethodPut, "/__ctr/api/records",
			fmt.Sprintf(`{"start":%q,"end":%q}`, r[0], r[1]))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/__ctr/api/records", "")
	assert.JSONEq(t, `{"keys":["2024-07-01 to 2024-07-02","2024-06-01 to 2024-06-02"]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/__ctr/api/records?sort=date", "")
	assert.JSONEq(t, `{"keys":["2024-06-01 to 2024-06-02","2024-07-01 to 2024-07-02"]}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/__ctr/api/records?sort=size", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(ErrorTypeInvalidRequest), errorType(t, rec))
}

func TestDocumentsAPI(t *testing.T) {
	s := newTestServer(t)
	q := url.Values{
		"filename":   {"ctr.pdf"},
		"date":       {"2024-06-01"},
		"crewNumber": {"E-12"},
		"fireName":   {"Ridge"},
		"fireNumber": {"CA-123"},
	}

	rec := s.do(t, http.MethodPut, "/__ctr/api/documents?"+q.Encode(), "%PDF-1.7 one")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":"2024-06-01_E-12_Ridge_CA-123"}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/__ctr/api/documents?"+q.Encode(), "%PDF-1.7 two")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/__ctr/api/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, float64(len("%PDF-1.7 two")), docs[0].(map[string]any)["size"])

	rec = s.do(t, http.MethodGet, "/__ctr/api/documents/2024-06-01_E-12_Ridge_CA-123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename=ctr.pdf`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.7 two", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/__ctr/api/documents?sort=pages", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/__ctr/api/documents?"+q.Encode(), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/__ctr/api/documents/2024-06-01_E-12_Ridge_CA-123", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/__ctr/api/documents/2024-06-01_E-12_Ridge_CA-123", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentObjectURL(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPut, "/__ctr/api/documents?date=2024-06-01&filename=a.pdf", "%PDF")
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = s.do(t, http.MethodPost, "/__ctr/api/documents/"+id+"/url", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	blobID := body["id"].(string)
	assert.True(t, strings.HasPrefix(body["url"].(string), "blob:http://localhost:8080/__ctr/blob/"))
	assert.Equal(t, 1, s.urls.Len())

	rec = s.do(t, http.MethodGet, "/__ctr/blob/"+blobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF", rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/__ctr/blob/"+blobID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/__ctr/blob/"+blobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, "/__ctr/blob/"+blobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/__ctr/api/documents/missing/url", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftsAPI(t *testing.T) {
	s := newTestServer(t)
	path := "/__ctr/api/drafts/" + localstore.RosterDraftKey

	rec := s.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPut, path, `[{"name":"Avery"}]`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"key":"ctr-table-data","value":"[{\"name\":\"Avery\"}]"}`, rec.Body.String())

	rec = s.do(t, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleAPI(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/__ctr/lifecycle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode(t, rec)["state"])

	rec = s.do(t, http.MethodPost, "/__ctr/lifecycle/activate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":["static-v1"],"claimed":2}`, rec.Body.String())

	s.shell.activateErr = fmt.Errorf("%w: active -> activating", shell.ErrInvalidTransition)
	rec = s.do(t, http.MethodPost, "/__ctr/lifecycle/activate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(ErrorTypeConflict), errorType(t, rec))
}

// brokenStore fails every read.
type brokenStore struct {
	localstore.ObjectStore
}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsLogToServerLogger(t *testing.T) {
	var buf bytes.Buffer
	urls := localstore.NewObjectURLs("http://localhost:8080" + Prefix + "/blob")
	t.Cleanup(urls.Close)
	h := NewHandler(&fakeShell{},
		localstore.NewRecordStore(brokenStore{localstore.NewMemoryStore()}),
		localstore.NewArchive(localstore.NewMemoryStore()),
		localstore.NewDraftStore(localstore.NewMemoryStore(), nil),
		urls,
	)
	srv := New(h, &Config{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__ctr/api/records/2024-06-01_2024-06-07", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "api request failed")
	assert.Contains(t, buf.String(), "disk on fire")
}

func TestEverythingElseGoesToShell(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/assets/main-abc.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shell:/assets/main-abc.js", rec.Body.String())
	assert.Equal(t, shell.OutcomeHit, rec.Header().Get(shell.HeaderCache))

	rec = s.do(t, http.MethodPost, "/api/submit", "x")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/", "")
	assert.Equal(t, "shell:/", rec.Body.String())

	assert.Equal(t, []string{"GET /assets/main-abc.js", "POST /api/submit", "GET /"}, s.shell.served)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{localstore.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("put: %w", shell.ErrQuotaExceeded), http.StatusInsufficientStorage},
		{shell.ErrInvalidTransition, http.StatusConflict},
		{newInvalidRequestError("bad", nil), http.StatusBadRequest},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, classify(tt.err).HTTPStatusCode())
		})
	}
}
