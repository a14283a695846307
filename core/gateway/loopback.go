// Package gateway provides the message transport contract between session
// participants and the relay, plus an in-process loopback implementation.
// The transport is ordered and at-least-once; connect and disconnect
// lifecycle notifications let the relay release a departed user's locks and
// let clients flush pending updates before going away.
//
// A networked deployment substitutes its own transport behind the same
// surface; the synchronization core never assumes more than ordered
// delivery.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gobwas/glob"

	"github.com/adalundhe/ensemble/core/wire"
)

var (
	// ErrDuplicateClient indicates an Attach with an ID already in use.
	ErrDuplicateClient = errors.New("client id already attached")

	// ErrUnknownClient indicates a Send to a client that is not attached.
	ErrUnknownClient = errors.New("client not attached")

	// ErrNoUplink indicates a Publish before any uplink handler exists.
	ErrNoUplink = errors.New("no uplink handler registered")

	// ErrPortClosed indicates use of a closed port.
	ErrPortClosed = errors.New("port is closed")

	// ErrBadPattern indicates an uncompilable subscription pattern.
	ErrBadPattern = errors.New("invalid subscription pattern")
)

// Handler receives delivered envelopes.
type Handler func(env *wire.Envelope)

// Subscription is a cancellable event subscription.
type Subscription struct {
	cancel func()
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

type portSub struct {
	id      int
	pattern glob.Glob
	handler Handler
}

// Port is one participant's connection to the hub.
type Port struct {
	hub      *Loopback
	clientID string

	mu     sync.Mutex
	rooms  map[string]bool
	subs   []*portSub
	nextID int
	closed bool
}

// Loopback is an in-process hub. Deliveries are synchronous and in order;
// the relay serializes uplink traffic itself, which is what makes concurrent
// lock requests resolve first-request-wins.
type Loopback struct {
	mu       sync.Mutex
	uplink   Handler
	ports    map[string]*Port
	order    []string
	onAttach []func(clientID string)
	onDetach []func(clientID string)
	logger   *slog.Logger
}

// NewLoopback returns an empty hub.
func NewLoopback(logger *slog.Logger) *Loopback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loopback{
		ports:  make(map[string]*Port),
		logger: logger,
	}
}

// SetUplink registers the handler that receives every published envelope.
// The relay owns the uplink.
func (l *Loopback) SetUplink(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uplink = h
}

// OnAttach registers a callback fired when a client attaches.
func (l *Loopback) OnAttach(fn func(clientID string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAttach = append(l.onAttach, fn)
}

// OnDetach registers a callback fired when a client detaches. The relay
// releases the departed user's locks from here.
func (l *Loopback) OnDetach(fn func(clientID string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDetach = append(l.onDetach, fn)
}

// Attach connects a client to the hub.
func (l *Loopback) Attach(clientID string) (*Port, error) {
	l.mu.Lock()
	if _, exists := l.ports[clientID]; exists {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	port := &Port{
		hub:      l,
		clientID: clientID,
		rooms:    make(map[string]bool),
	}
	l.ports[clientID] = port
	l.order = append(l.order, clientID)
	attach := append([]func(string){}, l.onAttach...)
	l.mu.Unlock()

	for _, fn := range attach {
		fn(clientID)
	}
	return port, nil
}

// Broadcast delivers env to every attached client in room except the one
// named by exceptClientID (empty means no exception). Delivery is
// synchronous and follows attach order.
func (l *Loopback) Broadcast(room string, env *wire.Envelope, exceptClientID string) {
	l.mu.Lock()
	targets := make([]*Port, 0, len(l.order))
	for _, id := range l.order {
		if id == exceptClientID {
			continue
		}
		if port, ok := l.ports[id]; ok {
			targets = append(targets, port)
		}
	}
	l.mu.Unlock()

	for _, port := range targets {
		port.deliver(room, env)
	}
}

// Send delivers env to a single attached client.
func (l *Loopback) Send(clientID string, env *wire.Envelope) error {
	l.mu.Lock()
	port, ok := l.ports[clientID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	port.deliver(env.Room, env)
	return nil
}

// detach removes the port and fires disconnect callbacks.
func (l *Loopback) detach(clientID string) {
	l.mu.Lock()
	if _, ok := l.ports[clientID]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.ports, clientID)
	for i, id := range l.order {
		if id == clientID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	detach := append([]func(string){}, l.onDetach...)
	l.mu.Unlock()

	for _, fn := range detach {
		fn(clientID)
	}
}

// publish hands env to the uplink.
func (l *Loopback) publish(env *wire.Envelope) error {
	l.mu.Lock()
	uplink := l.uplink
	l.mu.Unlock()

	if uplink == nil {
		return ErrNoUplink
	}
	uplink(env)
	return nil
}

// =============================================================================
// Port
// =============================================================================

// ClientID returns the port's client identifier.
func (p *Port) ClientID() string { return p.clientID }

// Join adds the port to a room so broadcasts for it are delivered.
func (p *Port) Join(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms[room] = true
}

// Leave removes the port from a room.
func (p *Port) Leave(room string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, room)
}

// Publish sends env toward the relay.
func (p *Port) Publish(env *wire.Envelope) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPortClosed
	}
	return p.hub.publish(env)
}

// Subscribe registers a handler for delivered events whose name matches
// pattern, e.g. "arrange:*" or "arrange:region_*".
func (p *Port) Subscribe(pattern string, h Handler) (*Subscription, error) {
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, pattern, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPortClosed
	}
	p.nextID++
	sub := &portSub{id: p.nextID, pattern: g, handler: h}
	p.subs = append(p.subs, sub)

	id := sub.id
	return &Subscription{cancel: func() { p.unsubscribe(id) }}, nil
}

func (p *Port) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// deliver invokes every matching subscription for an envelope addressed to
// room.
func (p *Port) deliver(room string, env *wire.Envelope) {
	p.mu.Lock()
	if p.closed || !p.rooms[room] {
		p.mu.Unlock()
		return
	}
	matching := make([]Handler, 0, len(p.subs))
	for _, sub := range p.subs {
		if sub.pattern.Match(string(env.Name)) {
			matching = append(matching, sub.handler)
		}
	}
	p.mu.Unlock()

	for _, h := range matching {
		h(env)
	}
}

// Close detaches the port from the hub, firing disconnect callbacks.
// Closing twice is safe.
func (p *Port) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.hub.detach(p.clientID)
}
