package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// readBufferSize is how much we read from a connection at once
	readBufferSize = 4096
	// acceptBackoff is how long we wait after a failed accept
	acceptBackoff = 50 * time.Millisecond
)

var (
	// ErrDestroyed is returned when using a node after Destroy
	ErrDestroyed = errors.New("network: node destroyed")
	// ErrAlreadyConnected is returned when dialing a target we have an outbound peer for
	ErrAlreadyConnected = errors.New("network: already connected to target")
	// ErrAlreadyListening is returned by a second call to Listen
	ErrAlreadyListening = errors.New("network: node already listening")
	// ErrBroadcastDisabled is returned by Broadcast when no middleware enabled it
	ErrBroadcastDisabled = errors.New("network: broadcast needs the courier middleware")
	// ErrRoutingDisabled is returned by Route when no middleware enabled it
	ErrRoutingDisabled = errors.New("network: routing needs the router middleware")
)

// Node is a member of a coalesce mesh.
//
// A node accepts and dials peers, keeps trying to enter the network
// through its seeds, and runs every connection through a pipeline built
// from the middleware registered with Use. Every connection has its own
// goroutine, so the callbacks registered on a node may run concurrently
// for different peers, but run in order for any single peer.
type Node struct {
	id   string
	pool *peerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	opts      Options
	extra     map[string]interface{}
	template  []Middleware
	routes    *RouteTable
	broadcast bool
	listener  net.Listener
	started   bool
	closed    bool

	onConnected    []func(*Peer)
	onDisconnected []func(*Peer, error)
	onData         []func(*Peer, interface{})
}

// New creates a node.
//
// The node neither dials nor accepts anyone until Start or Listen is
// called, so middleware registered with Use in between applies to
// every peer.
func New(opts Options) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		id:       uuid.NewString(),
		pool:     makePeerPool(),
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts.merged(),
		extra:    make(map[string]interface{}),
		template: []Middleware{Passthrough},
	}
	return n
}

// Start begins entering the network through the seeds, right away and
// then every retry interval. Calling it again changes nothing.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrDestroyed
	}
	if n.started {
		return nil
	}
	n.started = true
	n.wg.Add(1)
	go n.bootstrapLoop()
	return nil
}

// ID returns the random identity of this node
func (n *Node) ID() string {
	return n.id
}

// track reserves a slot for a goroutine, unless the node is destroyed
func (n *Node) track() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.wg.Add(1)
	return true
}

// Listen starts accepting inbound peers on a tcp address, and starts
// entering the network like Start
func (n *Node) Listen(addr string) (net.Addr, error) {
	l, err := new(net.ListenConfig).Listen(n.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("network: listening on %s: %w", addr, err)
	}
	n.mu.Lock()
	if n.closed || n.listener != nil {
		closed := n.closed
		n.mu.Unlock()
		l.Close()
		if closed {
			return nil, ErrDestroyed
		}
		return nil, ErrAlreadyListening
	}
	n.listener = l
	n.wg.Add(1)
	n.mu.Unlock()
	n.log().Infof("Starting server on %s", l.Addr())
	go n.acceptLoop(l)
	if err := n.Start(); err != nil {
		return nil, err
	}
	return l.Addr(), nil
}

// Addr returns the address we're listening on, or nil
func (n *Node) Addr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

func (n *Node) acceptLoop(l net.Listener) {
	defer n.wg.Done()
	for {
		conn, err := l.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			n.log().Warnf("Error accepting connection: %v", err)
			time.Sleep(acceptBackoff)
			continue
		}
		if !n.track() {
			conn.Close()
			return
		}
		peer := newPeer(Inbound, "", n.Options().WriteTimeout)
		peer.attach(conn)
		n.pool.addInbound(peer)
		if n.ctx.Err() != nil {
			go n.finish(peer, nil)
			continue
		}
		n.log().Infof("Handling inbound connection from %s", peer.Addr())
		go func() {
			pl, err := n.open(peer)
			if err != nil {
				n.finish(peer, err)
				return
			}
			n.readLoop(peer, pl)
		}()
	}
}

// Connect dials a peer.
//
// The peer is registered as soon as the dial starts, so a second
// Connect to the same target fails with ErrAlreadyConnected until this
// one is done. Once connected, the peer's pipeline is built and the
// PeerConnected callbacks run before Connect returns.
func (n *Node) Connect(ctx context.Context, target string) (*Peer, error) {
	if !n.track() {
		return nil, ErrDestroyed
	}
	opts := n.Options()
	peer := newPeer(Outbound, target, opts.WriteTimeout)
	if !n.pool.addOutbound(peer) {
		n.wg.Done()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, target)
	}
	n.log().Infof("Opening connection to peer %s", target)

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	stop := context.AfterFunc(n.ctx, cancel)
	peer.setCancelDial(cancel)
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", target)
	stop()
	cancel()
	if err != nil {
		n.pool.remove(peer)
		peer.Close()
		n.wg.Done()
		return nil, fmt.Errorf("network: dialing %s: %w", target, err)
	}
	if !peer.attach(conn) {
		conn.Close()
		n.pool.remove(peer)
		n.wg.Done()
		return nil, ErrDestroyed
	}
	// Destroy may have missed a peer that finished dialing just now
	if n.ctx.Err() != nil {
		go n.finish(peer, nil)
		return nil, ErrDestroyed
	}
	pl, err := n.open(peer)
	if err != nil {
		go n.finish(peer, err)
		return nil, err
	}
	go n.readLoop(peer, pl)
	return peer, nil
}

// open builds a peer's pipeline and announces the peer
func (n *Node) open(peer *Peer) (*pipeline, error) {
	pl, err := n.assemble(peer)
	if err != nil {
		n.log().Errorf("Failed to build pipeline for %s: %v", peer.Addr(), err)
		return nil, err
	}
	n.log().Infof("Processing %s peer %s", peer.Direction(), peer.Addr())
	n.mu.RLock()
	callbacks := append([]func(*Peer){}, n.onConnected...)
	n.mu.RUnlock()
	for _, callback := range callbacks {
		callback(peer)
	}
	return pl, nil
}

// readLoop feeds the connection into the pipeline until either fails
func (n *Node) readLoop(peer *Peer, pl *pipeline) {
	conn := peer.getConn()
	buf := make([]byte, readBufferSize)
	var reason error
	for {
		amount, err := conn.Read(buf)
		if amount > 0 {
			chunk := make([]byte, amount)
			copy(chunk, buf[:amount])
			if perr := pl.feed(chunk); perr != nil {
				n.log().Errorf("Pipeline for %s failed: %v", peer.Addr(), perr)
				reason = perr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				reason = err
			}
			break
		}
	}
	n.finish(peer, reason)
}

// finish closes and deregisters a peer, then announces its departure
func (n *Node) finish(peer *Peer, reason error) {
	defer n.wg.Done()
	addr := peer.Addr()
	peer.Close()
	n.pool.remove(peer)
	if reason != nil {
		n.log().Warnf("Lost peer %s: %v", addr, reason)
	} else {
		n.log().Infof("Peer %s disconnected", addr)
	}
	n.mu.RLock()
	callbacks := append([]func(*Peer, error){}, n.onDisconnected...)
	n.mu.RUnlock()
	for _, callback := range callbacks {
		callback(peer, reason)
	}
}

// deliver hands the output of a pipeline to the data callbacks
func (n *Node) deliver(peer *Peer, record interface{}) {
	n.mu.RLock()
	callbacks := append([]func(*Peer, interface{}){}, n.onData...)
	n.mu.RUnlock()
	for _, callback := range callbacks {
		callback(peer, record)
	}
}

// OnPeerConnected registers a callback for every new peer
func (n *Node) OnPeerConnected(callback func(*Peer)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onConnected = append(n.onConnected, callback)
}

// OnPeerDisconnected registers a callback for every lost peer, along with
// the reason, nil meaning the connection was closed cleanly
func (n *Node) OnPeerDisconnected(callback func(*Peer, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDisconnected = append(n.onDisconnected, callback)
}

// OnData registers a callback for whatever the last stage of a pipeline emits.
//
// That's raw []byte chunks with no framing installed, and envelopes
// with the courier.
func (n *Node) OnData(callback func(*Peer, interface{})) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onData = append(n.onData, callback)
}

// Peers returns every connected peer, one per remote address
func (n *Node) Peers() []*Peer {
	return n.pool.established()
}

// EachPeer calls fn for every peer Peers would return
func (n *Node) EachPeer(fn func(*Peer)) {
	for _, peer := range n.Peers() {
		fn(peer)
	}
}

// Destroy closes every peer and the listener, and stops entering the network.
//
// It waits for every connection goroutine to exit, so it must not be
// called from a node callback.
func (n *Node) Destroy() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	l := n.listener
	n.mu.Unlock()

	n.cancel()
	var err error
	if l != nil {
		err = l.Close()
	}
	for _, peer := range n.pool.all() {
		peer.Close()
		n.pool.remove(peer)
	}
	n.wg.Wait()
	return err
}

// Write sends raw bytes to every peer, implementing io.Writer.
//
// A peer failing to receive them is logged and skipped.
func (n *Node) Write(data []byte) (int, error) {
	for _, peer := range n.Peers() {
		if _, err := peer.Write(data); err != nil {
			n.log().Warnf("Failed to write to peer %s: %v", peer.Addr(), err)
		}
	}
	return len(data), nil
}

// Push sends a value to every peer, serializing it with EncodeRecord
func (n *Node) Push(value interface{}) error {
	data, err := EncodeRecord(value)
	if err != nil {
		n.log().Errorf("Failed to serialize outbound data: %v", err)
		return err
	}
	_, err = n.Write(data)
	return err
}

// EnableBroadcast turns on Broadcast; calling it again changes nothing
func (n *Node) EnableBroadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = true
}

// Broadcast sends a typed message to every peer, through each peer's Sender
func (n *Node) Broadcast(typ string, body interface{}) error {
	n.mu.RLock()
	enabled := n.broadcast
	n.mu.RUnlock()
	if !enabled {
		return ErrBroadcastDisabled
	}
	for _, peer := range n.Peers() {
		if err := peer.Send(typ, body); err != nil {
			n.log().Warnf("Failed to send %q to peer %s: %v", typ, peer.Addr(), err)
		}
	}
	return nil
}

// EnableRouting creates the node's route table if it doesn't exist yet,
// and returns it
func (n *Node) EnableRouting() *RouteTable {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.routes == nil {
		n.routes = NewRouteTable()
	}
	return n.routes
}

// Routes returns the node's route table, nil until routing is enabled
func (n *Node) Routes() *RouteTable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.routes
}

// Route registers the handler for a message type, Wildcard catching the rest
func (n *Node) Route(match string, handler Handler) error {
	routes := n.Routes()
	if routes == nil {
		return ErrRoutingDisabled
	}
	return routes.Add(match, handler)
}

// Limit caps how often per second the handler for a route may run
func (n *Node) Limit(match string, perSecond int) error {
	routes := n.Routes()
	if routes == nil {
		return ErrRoutingDisabled
	}
	routes.Limit(match, perSecond)
	return nil
}
