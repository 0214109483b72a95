package middleware

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
	settle  = 200 * time.Millisecond
)

// testNode is a listening node recording everything it sees
type testNode struct {
	*network.Node
	connected atomic.Int32

	mu      sync.Mutex
	records []interface{}
}

func newTestNode(t *testing.T, middleware ...network.Middleware) *testNode {
	t.Helper()
	opts := network.DefaultOptions()
	opts.Logger = network.NopLogger()
	tn := &testNode{Node: network.New(opts)}
	require.NoError(t, tn.Use(middleware...))
	tn.OnPeerConnected(func(*network.Peer) {
		tn.connected.Add(1)
	})
	tn.OnData(func(_ *network.Peer, record interface{}) {
		tn.mu.Lock()
		defer tn.mu.Unlock()
		tn.records = append(tn.records, record)
	})
	_, err := tn.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		tn.Destroy()
	})
	return tn
}

func (tn *testNode) connect(t *testing.T, to *testNode) *network.Peer {
	t.Helper()
	peer, err := tn.Connect(context.Background(), to.Addr().String())
	require.NoError(t, err)
	return peer
}

func (tn *testNode) data() []byte {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	var buf bytes.Buffer
	for _, r := range tn.records {
		if chunk, ok := r.([]byte); ok {
			buf.Write(chunk)
		}
	}
	return buf.Bytes()
}

func (tn *testNode) envelopes(typ string) []*protocol.Envelope {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	var out []*protocol.Envelope
	for _, r := range tn.records {
		if env, ok := r.(*protocol.Envelope); ok && env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func waitConnected(t *testing.T, count int32, nodes ...*testNode) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if n.connected.Load() != count {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func courier() []network.Middleware {
	return Courier(protocol.DefaultCodec())
}

func with(first []network.Middleware, rest ...network.Middleware) []network.Middleware {
	return append(append([]network.Middleware(nil), first...), rest...)
}

func TestSeedPeersUseRegisteredMiddleware(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	seed := newTestNode(t, courier()...)
	opts := network.DefaultOptions()
	opts.Logger = network.NopLogger()
	opts.Seeds = []string{seed.Addr().String()}
	n := network.New(opts)
	defer n.Destroy()

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, n.Peers())
	require.NoError(t, n.Use(courier()...))
	require.NoError(t, n.Start())
	require.Eventually(t, func() bool {
		return len(n.Peers()) == 1 && seed.connected.Load() == 1
	}, waitFor, tick)
	require.NoError(t, n.Peers()[0].Send("hello", nil))
	require.Eventually(t, func() bool {
		return len(seed.envelopes("hello")) == 1
	}, waitFor, tick)
}

func TestTattletaleLine(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	a := newTestNode(t)
	b := newTestNode(t, Tattletale())
	c := newTestNode(t)
	a.connect(t, b)
	b.connect(t, c)
	waitConnected(t, 1, a, c)
	waitConnected(t, 2, b)

	msg := []byte("beep boop\n")
	a.Write(msg)
	require.Eventually(t, func() bool {
		return bytes.Equal(c.data(), msg)
	}, waitFor, tick)
	time.Sleep(settle)
	require.Equal(t, msg, c.data())
	require.Equal(t, msg, b.data())
	require.Empty(t, a.data())
}

func TestTattletaleTriangleNeverSettles(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	a := newTestNode(t, Tattletale())
	b := newTestNode(t, Tattletale())
	c := newTestNode(t, Tattletale())
	a.connect(t, b)
	b.connect(t, c)
	c.connect(t, a)
	waitConnected(t, 2, a, b, c)

	msg := []byte("round and round\n")
	a.Write(msg)
	require.Eventually(t, func() bool {
		return len(a.data()) > 2*len(msg)
	}, waitFor, tick)
}

func TestSmartRelayTriangle(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	stack := with(courier(), SmartRelay())
	a := newTestNode(t, stack...)
	b := newTestNode(t, stack...)
	c := newTestNode(t, stack...)
	a.connect(t, b)
	b.connect(t, c)
	c.connect(t, a)
	waitConnected(t, 2, a, b, c)

	require.NoError(t, a.Broadcast("gossip", map[string]interface{}{"text": "hello"}))
	require.Eventually(t, func() bool {
		return len(a.envelopes("gossip")) == 2 &&
			len(b.envelopes("gossip")) == 3 &&
			len(c.envelopes("gossip")) == 3
	}, waitFor, tick)
	time.Sleep(settle)
	require.Len(t, a.envelopes("gossip"), 2)
	require.Len(t, b.envelopes("gossip"), 3)
	require.Len(t, c.envelopes("gossip"), 3)
	for _, env := range a.envelopes("gossip") {
		require.Equal(t, map[string]interface{}{"text": "hello"}, env.Body)
	}
}

func TestSmartRelayLine(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	stack := with(courier(), SmartRelay())
	a := newTestNode(t, stack...)
	b := newTestNode(t, stack...)
	c := newTestNode(t, stack...)
	a.connect(t, b)
	b.connect(t, c)
	waitConnected(t, 1, a, c)
	waitConnected(t, 2, b)

	require.NoError(t, a.Broadcast("gossip", "hi"))
	require.Eventually(t, func() bool {
		return len(c.envelopes("gossip")) == 1
	}, waitFor, tick)
	time.Sleep(settle)
	require.Len(t, c.envelopes("gossip"), 1)
	require.Len(t, b.envelopes("gossip"), 1)
	require.Empty(t, a.envelopes("gossip"))
}

func TestBroadcastReachesEveryPeer(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	hub := newTestNode(t, courier()...)
	left := newTestNode(t, courier()...)
	right := newTestNode(t, courier()...)
	left.connect(t, hub)
	right.connect(t, hub)
	waitConnected(t, 1, left, right)
	waitConnected(t, 2, hub)

	require.NoError(t, hub.Broadcast("news", map[string]interface{}{"headline": "x"}))
	for _, n := range []*testNode{left, right} {
		n := n
		require.Eventually(t, func() bool {
			return len(n.envelopes("news")) == 1
		}, waitFor, tick)
		require.Equal(t, map[string]interface{}{"headline": "x"}, n.envelopes("news")[0].Body)
	}
	require.Empty(t, hub.envelopes("news"))
}

func TestCustomCodecBetweenNodes(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	codec := protocol.Codec{TypeField: "kind", BodyField: "data", Terminator: "\r\n"}
	a := newTestNode(t, Courier(codec)...)
	b := newTestNode(t, Courier(codec)...)
	peer := a.connect(t, b)
	waitConnected(t, 1, a, b)

	require.NoError(t, peer.Send("hello", []interface{}{1.0, "two"}))
	require.Eventually(t, func() bool {
		return len(b.envelopes("hello")) == 1
	}, waitFor, tick)
	env := b.envelopes("hello")[0]
	require.Equal(t, []interface{}{1.0, "two"}, env.Body)
	require.Equal(t, `{"kind":"hello","data":[1,"two"]}`, string(env.Raw()))
}

func TestRouterReplies(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	server := newTestNode(t, with(courier(), Router())...)
	unknown := make(chan string, 4)
	require.NoError(t, server.Route("ping", func(peer *network.Peer, env *protocol.Envelope) {
		peer.Send("pong", env.Body)
	}))
	require.NoError(t, server.Route(network.Wildcard, func(_ *network.Peer, env *protocol.Envelope) {
		unknown <- env.Type
	}))
	client := newTestNode(t, courier()...)
	peer := client.connect(t, server)
	waitConnected(t, 1, client, server)

	require.NoError(t, peer.Send("ping", map[string]interface{}{"n": 1}))
	require.Eventually(t, func() bool {
		return len(client.envelopes("pong")) == 1
	}, waitFor, tick)
	require.Equal(t, map[string]interface{}{"n": 1.0}, client.envelopes("pong")[0].Body)

	require.NoError(t, peer.Send("mystery", nil))
	select {
	case typ := <-unknown:
		require.Equal(t, "mystery", typ)
	case <-time.After(waitFor):
		t.Fatal("wildcard route never ran")
	}
	require.Eventually(t, func() bool {
		return len(server.envelopes("ping")) == 1 && len(server.envelopes("mystery")) == 1
	}, waitFor, tick)
	require.Empty(t, unknown)
}

func TestRouterLimit(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}
	server := newTestNode(t, with(courier(), Router())...)
	require.NoError(t, server.Route("ping", func(peer *network.Peer, env *protocol.Envelope) {
		peer.Send("pong", env.Body)
	}))
	require.NoError(t, server.Limit("ping", 1))
	client := newTestNode(t, courier()...)
	peer := client.connect(t, server)
	waitConnected(t, 1, client, server)

	for i := 0; i < 5; i++ {
		require.NoError(t, peer.Send("ping", i))
	}
	require.Eventually(t, func() bool {
		return len(server.envelopes("ping")) == 5
	}, waitFor, tick)
	time.Sleep(settle)
	require.Len(t, client.envelopes("pong"), 1)
}
