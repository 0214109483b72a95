package network

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// bootstrapLoop enters the network now, and again every retry interval
func (n *Node) bootstrapLoop() {
	defer n.wg.Done()
	n.enterNetwork()
	ticker := time.NewTicker(n.Options().RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.enterNetwork()
			// the interval may have been changed with Set
			ticker.Reset(n.Options().RetryInterval)
		}
	}
}

// enterNetwork dials the seeds we aren't connected to yet.
//
// Nothing happens once we have MinPeers established outbound peers.
// Failed dials are logged and left for the next attempt.
func (n *Node) enterNetwork() {
	opts := n.Options()
	if n.pool.activeOutbound() >= opts.MinPeers {
		return
	}
	var g errgroup.Group
	for _, seed := range opts.Seeds {
		seed := seed
		if n.pool.hasOutbound(seed) || n.isSelf(seed) {
			continue
		}
		g.Go(func() error {
			if _, err := n.Connect(n.ctx, seed); err != nil && !errors.Is(err, ErrDestroyed) {
				n.log().Errorf("Failed to connect to peer %s: %v", seed, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// isSelf checks if a seed points back at our own listener
func (n *Node) isSelf(seed string) bool {
	local, ok := n.Addr().(*net.TCPAddr)
	if !ok {
		return false
	}
	host, port, err := net.SplitHostPort(seed)
	if err != nil {
		return false
	}
	if localPort, err := net.LookupPort("tcp", port); err != nil || localPort != local.Port {
		return false
	}
	if isLoopbackHost(host) {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() || ip.Equal(local.IP) {
		return true
	}
	return local.IP.IsUnspecified() && isLocalIP(ip, net.InterfaceAddrs)
}

// isLocalIP checks if ip belongs to one of this host's interfaces
func isLocalIP(ip net.IP, interfaceAddrs func() ([]net.Addr, error)) bool {
	addrs, err := interfaceAddrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
			return true
		}
	}
	return false
}
