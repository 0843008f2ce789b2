package shell

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRAMCacheEvictsLeastRecentlyUsed(t *testing.T) {
	one := textResponse("0123456789")
	c := newRAMCache(one.size()*3, newRateLimitedLogger(discardLogger(), time.Hour))

	c.Put("a", one)
	c.Put("b", one)
	c.Put("c", one)
	_, ok := c.Get("a") // a is now most recent
	require.True(t, ok)

	c.Put("d", one)
	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	for _, k := range []string{"a", "c", "d"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, one.size()*3, c.TotalSize())
}

func TestRAMCacheDeletePrefix(t *testing.T) {
	c := newRAMCache(1<<20, nil)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("static-v1\x00/%d", i), textResponse("x"))
		c.Put(fmt.Sprintf("dynamic-v1\x00/%d", i), textResponse("x"))
	}
	c.DeletePrefix("static-v1\x00")
	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("static-v1\x00/0")
	assert.False(t, ok)
}

func TestRAMCacheSkipsOversizedAndDisabled(t *testing.T) {
	big := textResponse(string(make([]byte, 2048)))

	c := newRAMCache(1024, nil)
	c.Put("big", big)
	assert.Zero(t, c.Len())

	off := newRAMCache(0, nil)
	off.Put("k", textResponse("x"))
	assert.Zero(t, off.Len())
}

// clientRequest is a page navigation carrying the client cookie id, if set.
func clientRequest(id string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Mode", "navigate")
	if id != "" {
		r.AddCookie(&http.Cookie{Name: ClientCookie, Value: id})
	}
	return r
}

func TestClientsClaim(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	c := NewClients(time.Hour)
	c.now = func() time.Time { return now }

	w1 := httptest.NewRecorder()
	id1, ctrl := c.Touch(w1, clientRequest(""), 0)
	assert.Zero(t, ctrl)
	assert.NotEmpty(t, id1)
	cookies := w1.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, id1, cookies[0].Value)

	id2, ctrl := c.Touch(httptest.NewRecorder(), clientRequest(""), 0)
	assert.Zero(t, ctrl)

	// id2 goes idle past the limit and is dropped on claim.
	now = now.Add(30 * time.Minute)
	_, _ = c.Touch(httptest.NewRecorder(), clientRequest(id1), 0)
	now = now.Add(45 * time.Minute)

	assert.Equal(t, 1, c.Claim(4))
	assert.Equal(t, 4, c.Controller(id1))
	assert.Zero(t, c.Controller(id2))
	assert.Equal(t, 1, c.Len())

	assert.Zero(t, c.Claim(4), "already controlled")

	id3, ctrl := c.Touch(httptest.NewRecorder(), clientRequest(""), 4)
	assert.Equal(t, 4, ctrl)
	assert.NotEqual(t, id1, id3)
}

func TestClientsIgnoreSubresourceRequests(t *testing.T) {
	c := NewClients(time.Hour)
	for n := 0; n < 1000; n++ {
		w := httptest.NewRecorder()
		id, ctrl := c.Touch(w, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil), 3)
		assert.Empty(t, id)
		assert.Equal(t, 3, ctrl)
		assert.Empty(t, w.Result().Cookies())
	}
	assert.Zero(t, c.Len())

	// An unknown cookie on a subresource is not recorded either.
	r := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	r.AddCookie(&http.Cookie{Name: ClientCookie, Value: "stale"})
	id, ctrl := c.Touch(httptest.NewRecorder(), r, 3)
	assert.Equal(t, "stale", id)
	assert.Equal(t, 3, ctrl)
	assert.Zero(t, c.Len())
}

func TestClientsPruneIdleOnTouch(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	c := NewClients(time.Hour)
	c.now = func() time.Time { return now }

	for n := 0; n < 5; n++ {
		c.Touch(httptest.NewRecorder(), clientRequest(""), 0)
	}
	assert.Equal(t, 5, c.Len())

	now = now.Add(2 * time.Hour)
	id, _ := c.Touch(httptest.NewRecorder(), clientRequest(""), 0)
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.Controller(id))
}

func TestClientsRegistryIsBounded(t *testing.T) {
	c := NewClients(0)
	c.max = 3

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		_, ctrl := c.Touch(w, clientRequest(""), 2)
		assert.Equal(t, 2, ctrl)
		if i < 3 {
			assert.Len(t, w.Result().Cookies(), 1)
		} else {
			assert.Empty(t, w.Result().Cookies(), "registry full")
		}
	}
	assert.Equal(t, 3, c.Len())
}
