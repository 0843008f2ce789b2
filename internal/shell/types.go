package shell

import (
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
)

// CachedResponse is one stored request->response pair of a cache generation.
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
	// Hash is xxhash64 of Body.
	Hash uint64
}

func newCachedResponse(status int, h http.Header, body []byte) *CachedResponse {
	resp := &CachedResponse{
		Status:   status,
		Header:   cloneHeader(h),
		Body:     body,
		StoredAt: time.Now().UTC(),
		Hash:     xxhash.Sum64(body),
	}
	resp.Header.Del("Content-Length")
	return resp
}

// Clone returns a deep copy; cache backends never share buffers with callers.
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	return &CachedResponse{
		Status:   r.Status,
		Header:   cloneHeader(r.Header),
		Body:     body,
		StoredAt: r.StoredAt,
		Hash:     r.Hash,
	}
}

// OK reports a full 200 representation. Partial (206) and other 2xx
// replies are never stored.
func (r *CachedResponse) OK() bool {
	return r.Status == http.StatusOK
}

func (r *CachedResponse) size() int64 {
	n := int64(len(r.Body))
	for k, vs := range r.Header {
		n += int64(len(k))
		for _, v := range vs {
			n += int64(len(v))
		}
	}
	return n
}
