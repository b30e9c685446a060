package console

import (
	"context"
	"slices"
	"sync"

	"github.com/matheus3301/portalchat/internal/thread"
)

// Hub owns one running console per local user.
type Hub struct {
	deps Deps
	ctx  context.Context

	mu       sync.Mutex
	consoles map[string]*Console
}

// NewHub creates a hub. Consoles started by the hub live until Stop.
func NewHub(deps Deps) *Hub {
	return &Hub{deps: deps, ctx: context.Background(), consoles: make(map[string]*Console)}
}

// Start sets the context consoles run under.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
}

// Console returns me's console, starting it on first use.
func (h *Hub) Console(me string) (*Console, error) {
	key := thread.Normalize(me)
	if !thread.ValidID(key) {
		return nil, thread.ErrInvalidParticipant
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.consoles[key]; ok {
		return c, nil
	}
	c := New(key, h.deps)
	c.Start(h.ctx)
	h.consoles[key] = c
	return c, nil
}

// Users lists users with a running console.
func (h *Hub) Users() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := make([]string, 0, len(h.consoles))
	for u := range h.consoles {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// Stop stops every console.
func (h *Hub) Stop() {
	h.mu.Lock()
	consoles := h.consoles
	h.consoles = make(map[string]*Console)
	h.mu.Unlock()
	for _, c := range consoles {
		c.Stop()
	}
}
