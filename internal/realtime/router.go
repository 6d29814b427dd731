package realtime

import (
	"sync"
	"sync/atomic"
)

// Router is the channel and binding table shared by transports. A
// transport adds a channel on subscribe, removes it on unsubscribe and
// hands every decoded message to Dispatch.
type Router struct {
	mu       sync.RWMutex
	channels map[string]*channel
	seq      atomic.Uint64
}

func NewRouter() *Router {
	return &Router{channels: make(map[string]*channel)}
}

// Add returns the channel for name, creating it if needed. created
// reports whether this call created it.
func (r *Router) Add(name string) (ch Channel, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[name]; ok {
		return c, false
	}
	c := &channel{name: name, router: r, binds: make(map[string][]binding)}
	r.channels[name] = c
	return c, true
}

func (r *Router) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	if !ok {
		return nil, false
	}
	return c, true
}

// Remove drops the channel and all its bindings.
func (r *Router) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[name]
	delete(r.channels, name)
	return ok
}

func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for n := range r.channels {
		out = append(out, n)
	}
	return out
}

// Dispatch calls every handler bound to ev's channel and event name and
// returns how many ran. Events for unknown channels are dropped.
func (r *Router) Dispatch(ev Event) int {
	r.mu.RLock()
	c, ok := r.channels[ev.Channel]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	hs := c.handlers(ev.Name)
	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

type binding struct {
	id BindingID
	h  Handler
}

type channel struct {
	name   string
	router *Router

	mu    sync.RWMutex
	binds map[string][]binding
}

func (c *channel) Name() string { return c.name }

func (c *channel) Bind(event string, h Handler) BindingID {
	id := BindingID(c.router.seq.Add(1))
	c.mu.Lock()
	c.binds[event] = append(c.binds[event], binding{id: id, h: h})
	c.mu.Unlock()
	return id
}

func (c *channel) Unbind(event string, id BindingID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bs := c.binds[event]
	for i, b := range bs {
		if b.id == id {
			bs = append(bs[:i:i], bs[i+1:]...)
			break
		}
	}
	if len(bs) == 0 {
		delete(c.binds, event)
		return
	}
	c.binds[event] = bs
}

func (c *channel) handlers(event string) []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bs := c.binds[event]
	out := make([]Handler, len(bs))
	for i, b := range bs {
		out[i] = b.h
	}
	return out
}
