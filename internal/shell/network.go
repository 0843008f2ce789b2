package shell

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HeaderCache is the response header reporting how a request was served.
const HeaderCache = "X-Ctr-Cache"

// Doer performs origin requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Origin fetches resources from the upstream that serves the editor.
type Origin struct {
	base    *url.URL
	client  Doer
	timeout time.Duration
	now     func() time.Time
}

// NewOrigin parses base ("http://host:port"). timeout <= 0 means none.
func NewOrigin(base string, client Doer, timeout time.Duration) (*Origin, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q: scheme and host required", base)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Origin{base: u, client: client, timeout: timeout, now: time.Now}, nil
}

func (o *Origin) urlFor(requestURI string) string {
	return o.base.String() + requestURI
}

// Get fetches requestURI from the origin and buffers the body. Headers of the
// incoming request r (may be nil) are forwarded, except the range and
// validator headers: a buffered response must be the full representation.
func (o *Origin) Get(ctx context.Context, requestURI string, r *http.Request) (*CachedResponse, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.urlFor(requestURI), nil)
	if err != nil {
		return nil, err
	}
	if r != nil {
		copyHeaders(req.Header, r.Header)
		stripPartialHeaders(req.Header)
	}
	req.Header.Set("Accept-Encoding", "identity")
	return o.do(req)
}

// GetFresh fetches requestURI bypassing every HTTP cache on the way: a
// "_t=<unix ms>" query parameter is appended and no-store is requested.
func (o *Origin) GetFresh(ctx context.Context, requestURI string, r *http.Request) (*CachedResponse, error) {
	sep := "?"
	if strings.Contains(requestURI, "?") {
		sep = "&"
	}
	busted := requestURI + sep + "_t=" + strconv.FormatInt(o.now().UnixMilli(), 10)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.urlFor(busted), nil)
	if err != nil {
		return nil, err
	}
	if r != nil {
		copyHeaders(req.Header, r.Header)
		stripPartialHeaders(req.Header)
	}
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-store")
	return o.do(req)
}

// Forward replays r against the origin unchanged and streams the reply to w.
func (o *Origin) Forward(w http.ResponseWriter, r *http.Request, outcome string) error {
	ctx := r.Context()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, o.urlFor(r.URL.RequestURI()), r.Body)
	if err != nil {
		return err
	}
	copyHeaders(req.Header, r.Header)
	req.ContentLength = r.ContentLength

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setCacheHeaders(w.Header(), outcome)
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return err
}

func (o *Origin) do(req *http.Request) (*CachedResponse, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return newCachedResponse(resp.StatusCode, resp.Header, body), nil
}

// partialHeaders turn a GET into a partial (206) or not-modified (304) reply.
var partialHeaders = []string{
	"Range",
	"If-Range",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
}

func stripPartialHeaders(h http.Header) {
	for _, k := range partialHeaders {
		h.Del(k)
	}
}

// cacheable reports whether a network response may be written to a bucket.
func cacheable(resp *CachedResponse) bool {
	if !resp.OK() {
		return false
	}
	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-store")
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

func writeResponse(w http.ResponseWriter, resp *CachedResponse, outcome string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, HeaderCache) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setCacheHeaders(w.Header(), outcome)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func setCacheHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(HeaderCache, outcome)
	}
	// Browser code cannot read custom headers cross-origin unless exposed.
	ensureExposedHeader(h, HeaderCache)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
