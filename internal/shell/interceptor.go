package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrTemplateUnavailable is returned for a data document that is neither
// cached nor fetchable. Callers show a document-specific retry prompt.
var ErrTemplateUnavailable = errors.New("document template unavailable")

const (
	routeNavigate    = "navigate"
	routeDocument    = "document"
	routeAsset       = "asset"
	routePassthrough = "passthrough"
)

var offlineJSON = []byte(`{"error":"Network request failed","message":"The application is currently offline"}`)

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>The CTR editor has not been cached on this device yet. Reconnect and reload to continue.</p>
</body>
</html>
`

// Result is what Fetch decided to serve.
type Result struct {
	Response *CachedResponse
	Outcome  string
	Route    string
}

// InterceptorOptions configures NewInterceptor.
type InterceptorOptions struct {
	ShellPath         string
	DataDocuments     []string
	AliasWildcardHits bool
}

// Interceptor serves intercepted requests cache-first from the current
// generations, falling back to the origin.
type Interceptor struct {
	manifest  *Manifest
	store     *CacheStore
	origin    *Origin
	lifecycle *Lifecycle
	clients   *Clients

	shellPath     string
	dataDocuments map[string]bool
	aliasWildcard bool

	log      *slog.Logger
	writeLog *rateLimitedLogger
	stats    *servedStats
}

func NewInterceptor(opts InterceptorOptions, m *Manifest, store *CacheStore, origin *Origin, lc *Lifecycle, clients *Clients, log *slog.Logger) *Interceptor {
	if opts.ShellPath == "" {
		opts.ShellPath = "/index.html"
	}
	docs := make(map[string]bool, len(opts.DataDocuments))
	for _, ext := range opts.DataDocuments {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		docs[ext] = true
	}
	if log == nil {
		log = slog.Default()
	}
	return &Interceptor{
		manifest:      m,
		store:         store,
		origin:        origin,
		lifecycle:     lc,
		clients:       clients,
		shellPath:     opts.ShellPath,
		dataDocuments: docs,
		aliasWildcard: opts.AliasWildcardHits,
		log:           log,
		writeLog:      newRateLimitedLogger(log, time.Minute),
		stats:         newServedStats(),
	}
}

// IsNavigation reports whether r loads a top-level document.
func IsNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return true
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Dest"), "document") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Accept")), "text/html")
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	controlled := i.lifecycle.Active()
	if i.clients != nil {
		active := 0
		if controlled {
			active = i.lifecycle.Version()
		}
		_, controller := i.clients.Touch(w, r, active)
		controlled = controlled && controller == i.lifecycle.Version()
	}

	if r.Method != http.MethodGet || !controlled {
		requestsTotal.WithLabelValues(routePassthrough, OutcomeBypass).Inc()
		if err := i.origin.Forward(w, r, OutcomeBypass); err != nil {
			i.log.Warn("forward failed", "method", r.Method, "path", r.URL.Path, "error", err)
			setCacheHeaders(w.Header(), OutcomeError)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}
		return
	}

	res, err := i.Fetch(r.Context(), r)
	if err != nil {
		requestsTotal.WithLabelValues(routeDocument, OutcomeError).Inc()
		setCacheHeaders(w.Header(), OutcomeError)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	requestsTotal.WithLabelValues(res.Route, res.Outcome).Inc()
	writeResponse(w, res.Response, res.Outcome)
	i.stats.Observe(res.Outcome, len(res.Response.Body))
}

// Fetch resolves one intercepted GET. The only error it returns wraps
// ErrTemplateUnavailable; every other failure becomes a fallback response.
func (i *Interceptor) Fetch(ctx context.Context, r *http.Request) (*Result, error) {
	switch {
	case IsNavigation(r):
		return i.navigate(ctx, r), nil
	case i.dataDocuments[extension(r.URL.Path)]:
		return i.document(ctx, r)
	default:
		return i.asset(ctx, r), nil
	}
}

func (i *Interceptor) navigate(ctx context.Context, r *http.Request) *Result {
	if cached := i.match(ctx, i.shellPath); cached != nil {
		return &Result{Response: reconstruct(cached, i.shellPath), Outcome: OutcomeShell, Route: routeNavigate}
	}

	resp, err := i.origin.Get(ctx, r.URL.RequestURI(), r)
	if err == nil {
		if resp.OK() {
			i.remember(ctx, i.lifecycle.StaticBucket(), i.shellPath, resp)
		}
		return &Result{Response: reconstruct(resp, r.URL.Path), Outcome: OutcomeMiss, Route: routeNavigate}
	}

	i.log.Debug("navigation fetch failed", "path", r.URL.Path, "error", err)
	if cached := i.match(ctx, i.shellPath); cached != nil {
		return &Result{Response: reconstruct(cached, i.shellPath), Outcome: OutcomeShell, Route: routeNavigate}
	}
	h := http.Header{}
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	return &Result{
		Response: newCachedResponse(http.StatusServiceUnavailable, h, []byte(offlineHTML)),
		Outcome:  OutcomeOffline,
		Route:    routeNavigate,
	}
}

func (i *Interceptor) document(ctx context.Context, r *http.Request) (*Result, error) {
	key := RequestKey(r)
	if cached := i.match(ctx, key); cached != nil {
		return &Result{Response: reconstruct(cached, r.URL.Path), Outcome: OutcomeHit, Route: routeDocument}, nil
	}

	resp, err := i.origin.GetFresh(ctx, r.URL.RequestURI(), r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTemplateUnavailable, r.URL.Path, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s: origin returned %d", ErrTemplateUnavailable, r.URL.Path, resp.Status)
	}
	i.remember(ctx, i.lifecycle.StaticBucket(), key, resp)
	return &Result{Response: reconstruct(resp, r.URL.Path), Outcome: OutcomeMiss, Route: routeDocument}, nil
}

func (i *Interceptor) asset(ctx context.Context, r *http.Request) *Result {
	key := RequestKey(r)
	if cached := i.match(ctx, key); cached != nil {
		return &Result{Response: reconstruct(cached, r.URL.Path), Outcome: OutcomeHit, Route: routeAsset}
	}

	if cached := i.wildcard(ctx, key, r.URL.Path); cached != nil {
		return &Result{Response: reconstruct(cached, r.URL.Path), Outcome: OutcomeWildcard, Route: routeAsset}
	}

	resp, err := i.origin.Get(ctx, r.URL.RequestURI(), r)
	if err != nil {
		i.log.Debug("asset fetch failed", "path", r.URL.Path, "error", err)
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		return &Result{
			Response: newCachedResponse(http.StatusServiceUnavailable, h, offlineJSON),
			Outcome:  OutcomeOffline,
			Route:    routeAsset,
		}
	}
	if cacheable(resp) {
		bucket := i.lifecycle.DynamicBucket()
		if i.manifest.Tier(r.URL.Path) != TierDynamic {
			bucket = i.lifecycle.StaticBucket()
		}
		i.remember(ctx, bucket, key, resp)
	}
	return &Result{Response: reconstruct(resp, r.URL.Path), Outcome: OutcomeMiss, Route: routeAsset}
}

// wildcard serves a cached build file whose hash differs from the requested
// one, and optionally aliases it under the requested key.
func (i *Interceptor) wildcard(ctx context.Context, key, urlPath string) *CachedResponse {
	if len(i.manifest.MatchingPatterns(urlPath)) == 0 {
		return nil
	}
	bucket := i.lifecycle.StaticBucket()
	keys, err := i.store.Keys(ctx, bucket)
	if err != nil {
		i.log.Warn("cache keys failed", "bucket", bucket, "error", err)
		return nil
	}
	found, ok := i.manifest.FindWildcard(urlPath, keys)
	if !ok {
		return nil
	}
	cached, err := i.store.backend.Get(ctx, bucket, found)
	if err != nil || cached == nil {
		return nil
	}
	if i.aliasWildcard {
		i.remember(ctx, bucket, key, cached)
	}
	return cached
}

// match looks key up in the current generations only. Buckets left over
// from an older version are never served, even if deleting them failed.
func (i *Interceptor) match(ctx context.Context, key string) *CachedResponse {
	cached, err := i.store.MatchIn(ctx, key, i.lifecycle.StaticBucket(), i.lifecycle.DynamicBucket())
	if err != nil {
		i.log.Warn("cache match failed", "key", key, "error", err)
		return nil
	}
	return cached
}

// remember writes resp to bucket; failures never reach the response.
func (i *Interceptor) remember(ctx context.Context, bucket, key string, resp *CachedResponse) {
	ctx = context.WithoutCancel(ctx)
	if err := i.store.Put(ctx, bucket, key, resp); err != nil {
		cacheWriteFailures.Inc()
		i.writeLog.Warn("cache write failed", "bucket", bucket, "key", key, "error", err)
	}
}

func (i *Interceptor) responseStats() servedSnapshot {
	return i.stats.Snapshot()
}
