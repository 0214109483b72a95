package middleware

import (
	"crypto/sha1"

	"github.com/cronokirby/coalesce/internal/network"
)

// relayWindowFactor times the number of peers is how many digests a
// SmartRelay stage remembers
const relayWindowFactor = 3

// relay holds what both flooding stages need to reach the other peers
type relay struct {
	peer  *network.Peer
	peers func() []*network.Peer
	log   network.Logger
}

func (r *relay) Init(node *network.Node, peer *network.Peer) {
	r.peer = peer
	r.peers = node.Peers
	r.log = node.Logger()
}

func (r *relay) others() []*network.Peer {
	if r.peers == nil {
		return nil
	}
	return r.peers()
}

// forward writes data to every peer in peers apart from the one the
// record came from
func (r *relay) forward(peers []*network.Peer, data []byte) {
	for _, p := range peers {
		if p == r.peer {
			continue
		}
		if _, err := p.Write(data); err != nil {
			r.log.Warnf("Failed to relay to peer %s: %v", p.Addr(), err)
		}
	}
}

// Tattletale returns a middleware sending everything it sees to every
// other peer.
//
// Nothing stops a record from coming back, so a mesh with a cycle will
// keep relaying it forever.
func Tattletale() network.Middleware {
	return network.FactoryFunc(func(*network.Peer) network.Stage {
		return &tattletale{}
	})
}

type tattletale struct {
	relay
}

func (t *tattletale) Process(record interface{}, emit network.Emit) error {
	data, err := network.EncodeRecord(record)
	if err != nil {
		return err
	}
	t.forward(t.others(), data)
	return emit(record)
}

// SmartRelay returns a middleware flooding records like Tattletale, but
// only the first time each one reaches a connection.
//
// Every connection remembers the digests of the records it relayed
// recently, as many as three times the number of peers. A record seen
// again is still emitted, just not relayed.
func SmartRelay() network.Middleware {
	return network.FactoryFunc(func(*network.Peer) network.Stage {
		return &smartRelay{}
	})
}

type smartRelay struct {
	relay
	recent [][sha1.Size]byte
}

func (s *smartRelay) Process(record interface{}, emit network.Emit) error {
	data, err := network.EncodeRecord(record)
	if err != nil {
		return err
	}
	digest := sha1.Sum(data)
	if !s.seen(digest) {
		peers := s.others()
		s.remember(digest, len(peers)*relayWindowFactor)
		s.forward(peers, data)
	}
	return emit(record)
}

func (s *smartRelay) seen(digest [sha1.Size]byte) bool {
	for _, d := range s.recent {
		if d == digest {
			return true
		}
	}
	return false
}

// remember puts a digest at the front of the window, then trims it to size
func (s *smartRelay) remember(digest [sha1.Size]byte, size int) {
	s.recent = append(s.recent, digest)
	copy(s.recent[1:], s.recent)
	s.recent[0] = digest
	if size < 0 {
		size = 0
	}
	if len(s.recent) > size {
		s.recent = s.recent[:size]
	}
}
