package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

// run pushes records through a chain of stages, collecting the output
func run(t *testing.T, stages []network.Stage, records ...interface{}) []interface{} {
	t.Helper()
	var out []interface{}
	emits := make([]network.Emit, len(stages))
	for i := len(stages) - 1; i >= 0; i-- {
		if i == len(stages)-1 {
			emits[i] = func(r interface{}) error {
				out = append(out, r)
				return nil
			}
			continue
		}
		next, emit := stages[i+1], emits[i+1]
		emits[i] = func(r interface{}) error {
			return next.Process(r, emit)
		}
	}
	for _, r := range records {
		require.NoError(t, stages[0].Process(r, emits[0]))
	}
	return out
}

func courierStages(codec protocol.Codec) []network.Stage {
	var stages []network.Stage
	for _, m := range Courier(codec) {
		stages = append(stages, m.NewStage(nil))
	}
	return stages
}

func TestCourierFramesChunks(t *testing.T) {
	out := run(t, courierStages(protocol.DefaultCodec()),
		[]byte(`{"type":"a","bo`),
		[]byte(`dy":1}`+"\n"+`{"type":"b"}`+"\n"+`not json`),
		"\n",
	)
	require.Len(t, out, 3)
	first := out[0].(*protocol.Envelope)
	assert.Equal(t, "a", first.Type)
	assert.Equal(t, 1.0, first.Body)
	assert.Equal(t, `{"type":"a","body":1}`, string(first.Raw()))
	second := out[1].(*protocol.Envelope)
	assert.Equal(t, "b", second.Type)
	assert.Equal(t, map[string]interface{}{}, second.Body)
	third := out[2].(*protocol.Envelope)
	assert.Equal(t, "", third.Type)
	assert.Equal(t, map[string]interface{}{}, third.Body)
	assert.Equal(t, "not json", string(third.Raw()))
}

func TestCourierPassesEnvelopesThrough(t *testing.T) {
	env, err := protocol.DefaultCodec().NewEnvelope("x", nil)
	require.NoError(t, err)
	out := run(t, courierStages(protocol.DefaultCodec()), env)
	require.Equal(t, []interface{}{env}, out)
}

func TestCourierWrapsValues(t *testing.T) {
	stage := &envelopeStage{codec: protocol.DefaultCodec()}
	out := run(t, []network.Stage{stage}, map[string]interface{}{"type": "v", "body": "b"})
	require.Len(t, out, 1)
	env := out[0].(*protocol.Envelope)
	assert.Equal(t, "v", env.Type)
	assert.Equal(t, "b", env.Body)
	assert.JSONEq(t, `{"type":"v","body":"b"}`, string(env.Raw()))

	err := stage.Process(make(chan int), func(interface{}) error { return nil })
	assert.Error(t, err)
}

func TestCourierRecordTooLarge(t *testing.T) {
	stages := courierStages(protocol.Codec{MaxRecordSize: 4})
	var records []interface{}
	collect := func(r interface{}) error {
		records = append(records, r)
		return nil
	}
	err := stages[0].Process([]byte("abcdefgh"), collect)
	require.ErrorIs(t, err, protocol.ErrRecordTooLarge)
	assert.Empty(t, records)

	err = stages[0].Process([]byte("ok\nabcdefgh"), collect)
	require.ErrorIs(t, err, protocol.ErrRecordTooLarge)
	assert.Equal(t, []interface{}{[]byte("ok")}, records)
}

func TestCourierRejectsInvalidCodec(t *testing.T) {
	node := network.New(network.Options{Logger: network.NopLogger()})
	defer node.Destroy()
	err := node.Use(Courier(protocol.Codec{TypeField: "x", BodyField: "x"})...)
	require.ErrorIs(t, err, network.ErrInvalidMiddleware)
	require.ErrorIs(t, node.Broadcast("t", nil), network.ErrBroadcastDisabled)

	require.NoError(t, node.Use(Courier(protocol.DefaultCodec())...))
	require.NoError(t, node.Use(Courier(protocol.DefaultCodec())...))
	require.NoError(t, node.Broadcast("t", nil))
}

func TestRouterStage(t *testing.T) {
	routes := network.NewRouteTable()
	var seen []string
	require.NoError(t, routes.Add("a", func(_ *network.Peer, env *protocol.Envelope) {
		seen = append(seen, "a:"+env.Type)
	}))
	stage := &routerStage{routes: routes, log: network.NopLogger()}
	a, err := protocol.DefaultCodec().NewEnvelope("a", nil)
	require.NoError(t, err)
	b, err := protocol.DefaultCodec().NewEnvelope("b", nil)
	require.NoError(t, err)

	out := run(t, []network.Stage{stage}, a, b, []byte("raw"))
	assert.Equal(t, []interface{}{a, b, []byte("raw")}, out)
	assert.Equal(t, []string{"a:a"}, seen)
}

func TestRouterEnablesRouting(t *testing.T) {
	node := network.New(network.Options{Logger: network.NopLogger()})
	defer node.Destroy()
	require.ErrorIs(t, node.Route("x", func(*network.Peer, *protocol.Envelope) {}), network.ErrRoutingDisabled)
	require.NoError(t, node.Use(Router()))
	routes := node.Routes()
	require.NotNil(t, routes)
	require.NoError(t, node.Use(Router()))
	require.Same(t, routes, node.Routes())
	require.NoError(t, node.Route("x", func(*network.Peer, *protocol.Envelope) {}))
}
