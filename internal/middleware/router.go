package middleware

import (
	"errors"

	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

// Router returns a middleware dispatching envelopes to the node's routes.
//
// Installing it enables routing on the node. Every record is emitted
// unchanged after its handler ran, so later stages and the node's data
// callbacks still see it.
func Router() network.Middleware {
	return routerMiddleware{}
}

type routerMiddleware struct{}

func (routerMiddleware) Install(node *network.Node) {
	node.EnableRouting()
}

func (routerMiddleware) NewStage(peer *network.Peer) network.Stage {
	return &routerStage{peer: peer}
}

type routerStage struct {
	peer   *network.Peer
	routes *network.RouteTable
	log    network.Logger
}

func (s *routerStage) Init(node *network.Node, _ *network.Peer) {
	s.routes = node.EnableRouting()
	s.log = node.Logger()
}

func (s *routerStage) Process(record interface{}, emit network.Emit) error {
	env, ok := record.(*protocol.Envelope)
	if ok && s.routes != nil {
		err := s.routes.Dispatch(s.peer, env)
		if errors.Is(err, network.ErrRateLimited) {
			s.log.Warnf("Dropping %s from %s: %v", env, s.peer.Addr(), err)
		}
	}
	return emit(record)
}
