package network

import (
	"net"
	"sync"
)

// peerPool holds both registries of a node.
//
// A peer sits in exactly one of the lists, but the same remote address
// may show up through both of them, which is why views are deduplicated
// by address rather than by identity.
type peerPool struct {
	mu       sync.RWMutex
	inbound  []*Peer
	outbound []*Peer
}

func makePeerPool() *peerPool {
	return &peerPool{}
}

func (pool *peerPool) addInbound(peer *Peer) {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	pool.inbound = append(pool.inbound, peer)
}

// addOutbound registers a peer before it is dialed, refusing a second
// registration for the same target
func (pool *peerPool) addOutbound(peer *Peer) bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	for _, other := range pool.outbound {
		if sameEndpoint(other.Target(), peer.Target()) || sameEndpoint(other.Addr(), peer.Target()) {
			return false
		}
	}
	pool.outbound = append(pool.outbound, peer)
	return true
}

// remove deletes a peer from whichever list holds it
func (pool *peerPool) remove(peer *Peer) bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()
	removed := false
	pool.inbound, removed = without(pool.inbound, peer)
	if removed {
		return true
	}
	pool.outbound, removed = without(pool.outbound, peer)
	return removed
}

func without(peers []*Peer, peer *Peer) ([]*Peer, bool) {
	for i, other := range peers {
		if other == peer {
			return append(peers[:i:i], peers[i+1:]...), true
		}
	}
	return peers, false
}

// hasOutbound checks if some outbound peer, pending or not, points at addr
func (pool *peerPool) hasOutbound(addr string) bool {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	for _, peer := range pool.outbound {
		if sameEndpoint(peer.Target(), addr) || sameEndpoint(peer.Addr(), addr) {
			return true
		}
	}
	return false
}

// activeOutbound counts the outbound peers that finished dialing
func (pool *peerPool) activeOutbound() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	count := 0
	for _, peer := range pool.outbound {
		if !peer.Connecting() {
			count++
		}
	}
	return count
}

// all returns every registered peer, including pending dials
func (pool *peerPool) all() []*Peer {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	peers := make([]*Peer, 0, len(pool.inbound)+len(pool.outbound))
	peers = append(peers, pool.inbound...)
	return append(peers, pool.outbound...)
}

// established returns the connected peers, inbound first, one per remote address
func (pool *peerPool) established() []*Peer {
	everyone := pool.all()
	seen := make(map[string]bool, len(everyone))
	peers := make([]*Peer, 0, len(everyone))
	for _, peer := range everyone {
		if peer.Connecting() {
			continue
		}
		addr := peer.Addr()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		peers = append(peers, peer)
	}
	return peers
}

// sameEndpoint compares two host:port strings, treating every name
// for the loopback interface as the same host
func sameEndpoint(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	hostA, portA, errA := net.SplitHostPort(a)
	hostB, portB, errB := net.SplitHostPort(b)
	if errA != nil || errB != nil || portA != portB {
		return false
	}
	return hostA == hostB || (isLoopbackHost(hostA) && isLoopbackHost(hostB))
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
