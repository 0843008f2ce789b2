package localstore

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Blob is the content behind an object URL.
type Blob struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ObjectURLs hands out short-lived "blob:<base>/<uuid>" URLs for document
// previews. Every URL holds a copy of its content until revoked.
type ObjectURLs struct {
	base string

	mu    sync.Mutex
	blobs map[string]Blob
}

// NewObjectURLs issues URLs under base, e.g. "http://localhost:8080/__ctr/blob".
func NewObjectURLs(base string) *ObjectURLs {
	return &ObjectURLs{base: strings.TrimRight(base, "/"), blobs: map[string]Blob{}}
}

// Create registers content and returns its URL. The caller must Revoke it.
func (o *ObjectURLs) Create(content []byte, contentType, filename string) string {
	id := uuid.NewString()
	o.mu.Lock()
	o.blobs[id] = Blob{
		Content:     append([]byte(nil), content...),
		ContentType: contentType,
		Filename:    filename,
	}
	o.mu.Unlock()
	return "blob:" + o.base + "/" + id
}

// ID extracts the id from a URL created here; a bare id is returned as is.
func (o *ObjectURLs) ID(url string) string {
	return strings.TrimPrefix(url, "blob:"+o.base+"/")
}

// Resolve accepts a full URL or just its id.
func (o *ObjectURLs) Resolve(url string) (Blob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.blobs[o.ID(url)]
	return b, ok
}

// Revoke releases url; false when it was not live.
func (o *ObjectURLs) Revoke(url string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.ID(url)
	if _, ok := o.blobs[id]; !ok {
		return false
	}
	delete(o.blobs, id)
	return true
}

func (o *ObjectURLs) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.blobs)
}

// Close revokes every live URL.
func (o *ObjectURLs) Close() {
	o.mu.Lock()
	o.blobs = map[string]Blob{}
	o.mu.Unlock()
}
