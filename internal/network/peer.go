package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

var (
	// ErrNotConnected is returned when writing to a peer whose dial hasn't completed
	ErrNotConnected = errors.New("network: peer not connected")
	// ErrNoSender is returned by Send when no stage attached a Sender
	ErrNoSender = errors.New("network: peer has no sender, is a courier installed?")
)

// Direction tells us who opened a connection
type Direction int

const (
	// Inbound peers were accepted by our listener
	Inbound Direction = iota
	// Outbound peers were dialed by us
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Sender serializes a message and writes it to a peer
type Sender func(typ string, body interface{}) error

// Peer is a single connection to another node.
//
// Peers are created by the node when accepting or dialing, and live
// until their connection ends.
type Peer struct {
	direction Direction
	// target is the address we dialed, empty for inbound peers
	target       string
	writeTimeout time.Duration

	mu         sync.Mutex
	conn       net.Conn
	connecting bool
	closed     bool
	sender     Sender
	cancelDial context.CancelFunc

	// writeMu keeps writes from different goroutines from interleaving
	writeMu sync.Mutex
	done    chan struct{}
}

func newPeer(direction Direction, target string, writeTimeout time.Duration) *Peer {
	return &Peer{
		direction:    direction,
		target:       target,
		writeTimeout: writeTimeout,
		connecting:   direction == Outbound,
		done:         make(chan struct{}),
	}
}

// attach gives a peer its connection, failing if the peer was closed meanwhile
func (p *Peer) attach(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.conn = conn
	p.connecting = false
	p.cancelDial = nil
	return true
}

func (p *Peer) setCancelDial(cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelDial = cancel
}

func (p *Peer) getConn() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Direction returns whether we accepted or dialed this peer
func (p *Peer) Direction() Direction {
	return p.direction
}

// Target returns the address we dialed, or "" for inbound peers
func (p *Peer) Target() string {
	return p.target
}

// Addr returns the remote host:port of this peer.
//
// This is the key peers are deduplicated by. Until an outbound dial
// completes, this is the dialed target.
func (p *Peer) Addr() string {
	conn := p.getConn()
	if conn == nil || conn.RemoteAddr() == nil {
		return p.target
	}
	return conn.RemoteAddr().String()
}

// LocalAddr returns our end of the connection, nil while dialing
func (p *Peer) LocalAddr() net.Addr {
	conn := p.getConn()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Connecting is true while an outbound dial is pending
func (p *Peer) Connecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connecting
}

// Write sends raw bytes to this peer
func (p *Peer) Write(data []byte) (int, error) {
	conn := p.getConn()
	if conn == nil {
		return 0, ErrNotConnected
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	total := 0
	for total < len(data) {
		written, err := conn.Write(data[total:])
		total += written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SetSender attaches the function Send uses, replacing any previous one
func (p *Peer) SetSender(sender Sender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = sender
}

// Send writes a typed message to this peer, using the attached Sender
func (p *Peer) Send(typ string, body interface{}) error {
	p.mu.Lock()
	sender := p.sender
	p.mu.Unlock()
	if sender == nil {
		return ErrNoSender
	}
	return sender(typ, body)
}

// Close tears down the connection, or aborts a pending dial
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	cancel := p.cancelDial
	p.mu.Unlock()
	close(p.done)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Done is closed once the peer is closed
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// String formats a peer with its direction and address
func (p *Peer) String() string {
	return fmt.Sprintf("Peer[%s %s]", p.direction, p.Addr())
}
