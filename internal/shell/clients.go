package shell

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientCookie identifies one browser page session talking to ctrshell.
const ClientCookie = "ctrshell_client"

type client struct {
	controller int // version controlling this client; 0 = uncontrolled
	lastSeen   time.Time
}

// MaxClients bounds the registry. Pages beyond it are served as if new.
const MaxClients = 10000

// Clients tracks the pages ctrshell has seen and which cache version controls
// each of them. A page first seen while no version is active stays
// uncontrolled (its requests go straight to the origin) until Claim.
// Only navigations register a page; subresource requests never grow the
// registry.
type Clients struct {
	idle time.Duration
	max  int
	now  func() time.Time

	mu         sync.Mutex
	clients    map[string]*client
	lastPruned time.Time
}

// NewClients returns an empty registry. Clients idle longer than idle are
// forgotten; idle <= 0 keeps them until the registry is full.
func NewClients(idle time.Duration) *Clients {
	return &Clients{idle: idle, max: MaxClients, now: time.Now, clients: map[string]*client{}}
}

// Touch resolves the client of r. A navigation from an unknown page is
// registered under a fresh cookie set on w; any other request from an
// unknown page is answered with active without being recorded. A new client
// is controlled by active (0 when nothing is active).
func (c *Clients) Touch(w http.ResponseWriter, r *http.Request, active int) (id string, controller int) {
	if ck, err := r.Cookie(ClientCookie); err == nil && ck.Value != "" {
		id = ck.Value
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.clients[id]; ok {
		cl.lastSeen = now
		return id, cl.controller
	}
	if !IsNavigation(r) {
		return id, active
	}

	c.pruneLocked(now, false)
	if len(c.clients) >= c.max {
		return id, active
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     ClientCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	c.clients[id] = &client{controller: active, lastSeen: now}
	return id, active
}

// pruneLocked drops idle clients, at most once per minute unless forced or
// the registry is full. Callers hold mu.
func (c *Clients) pruneLocked(now time.Time, force bool) {
	if !force && len(c.clients) < c.max && now.Sub(c.lastPruned) < time.Minute {
		return
	}
	c.lastPruned = now
	if c.idle <= 0 {
		return
	}
	for id, cl := range c.clients {
		if now.Sub(cl.lastSeen) > c.idle {
			delete(c.clients, id)
		}
	}
}

// Claim makes version the controller of every known client and returns how
// many changed hands.
func (c *Clients) Claim(version int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now(), true)
	n := 0
	for _, cl := range c.clients {
		if cl.controller != version {
			cl.controller = version
			n++
		}
	}
	return n
}

// Controller returns the version controlling id, 0 if none or unknown.
func (c *Clients) Controller(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[id]; ok {
		return cl.controller
	}
	return 0
}

func (c *Clients) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}
