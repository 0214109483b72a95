package network

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/cronokirby/coalesce/internal/protocol"
)

// Wildcard is the route used for types without a handler of their own
const Wildcard = "*"

var (
	// ErrNilHandler is returned when registering a nil handler
	ErrNilHandler = errors.New("network: handler must not be nil")
	// ErrRateLimited is returned by Dispatch when a type exceeded its limit
	ErrRateLimited = errors.New("network: route rate limit exceeded")
)

// Handler reacts to an envelope received from a peer, usually by
// replying with peer.Send
type Handler func(peer *Peer, env *protocol.Envelope)

func noopHandler(*Peer, *protocol.Envelope) {}

// RouteTable maps message types to handlers.
//
// A node owns a single table, shared by the router stage of every
// connection, so a route added through any of them applies to all.
type RouteTable struct {
	mu       sync.RWMutex
	routes   map[string]Handler
	limiters map[string]*rate.Limiter
}

// NewRouteTable creates a table whose wildcard does nothing
func NewRouteTable() *RouteTable {
	return &RouteTable{
		routes:   map[string]Handler{Wildcard: noopHandler},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Add registers the handler for a type, replacing any previous one
func (t *RouteTable) Add(match string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w (route %q)", ErrNilHandler, match)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[match] = handler
	return nil
}

// Lookup returns the handler for a type, and the route it was found under
func (t *RouteTable) Lookup(typ string) (Handler, string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if handler, ok := t.routes[typ]; ok {
		return handler, typ
	}
	return t.routes[Wildcard], Wildcard
}

// Limit caps how many times per second the handler for a route runs.
// A limit of zero or less removes the cap.
func (t *RouteTable) Limit(match string, perSecond int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if perSecond <= 0 {
		delete(t.limiters, match)
		return
	}
	t.limiters[match] = rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// Dispatch runs the handler matching an envelope's type
func (t *RouteTable) Dispatch(peer *Peer, env *protocol.Envelope) error {
	handler, route := t.Lookup(env.Type)
	t.mu.RLock()
	limiter, limited := t.limiters[route]
	t.mu.RUnlock()
	if limited && !limiter.Allow() {
		return fmt.Errorf("%w for %q", ErrRateLimited, route)
	}
	handler(peer, env)
	return nil
}
