package middleware

import (
	"fmt"

	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

// decoded is a parsed record travelling with the bytes it came from
type decoded struct {
	value interface{}
	raw   []byte
}

// Courier returns the three middleware turning a byte stream into envelopes.
//
// The first splits the stream into records, the second parses each
// record as JSON, and the third wraps the result in an envelope. The
// last one also gives every peer a Sender, and enables Broadcast on the
// node. A codec that fails Validate makes Use refuse the middleware.
func Courier(codec protocol.Codec) []network.Middleware {
	return []network.Middleware{
		splitMiddleware{codec},
		network.FactoryFunc(func(*network.Peer) network.Stage {
			return network.StageFunc(decode)
		}),
		envelopeMiddleware{codec},
	}
}

type splitMiddleware struct {
	codec protocol.Codec
}

func (m splitMiddleware) Validate() error {
	return m.codec.Validate()
}

func (m splitMiddleware) NewStage(*network.Peer) network.Stage {
	return &splitStage{splitter: m.codec.Splitter()}
}

type splitStage struct {
	splitter *protocol.Splitter
}

func (s *splitStage) Process(record interface{}, emit network.Emit) error {
	var chunk []byte
	switch data := record.(type) {
	case []byte:
		chunk = data
	case string:
		chunk = []byte(data)
	default:
		return emit(record)
	}
	records, err := s.splitter.Feed(chunk)
	for _, r := range records {
		if err := emit(r); err != nil {
			return err
		}
	}
	return err
}

func decode(record interface{}, emit network.Emit) error {
	raw, ok := record.([]byte)
	if !ok {
		return emit(record)
	}
	return emit(decoded{value: protocol.Decode(raw), raw: raw})
}

type envelopeMiddleware struct {
	codec protocol.Codec
}

func (m envelopeMiddleware) Validate() error {
	return m.codec.Validate()
}

func (m envelopeMiddleware) Install(node *network.Node) {
	node.EnableBroadcast()
}

func (m envelopeMiddleware) NewStage(*network.Peer) network.Stage {
	return &envelopeStage{codec: m.codec}
}

type envelopeStage struct {
	codec protocol.Codec
}

// Init lets the peer send envelopes encoded the way this stage reads them
func (s *envelopeStage) Init(_ *network.Node, peer *network.Peer) {
	codec := s.codec
	peer.SetSender(func(typ string, body interface{}) error {
		record, err := codec.Encode(typ, body)
		if err != nil {
			return err
		}
		if _, err := peer.Write(record); err != nil {
			return fmt.Errorf("middleware: sending %q: %w", typ, err)
		}
		return nil
	})
}

func (s *envelopeStage) Process(record interface{}, emit network.Emit) error {
	switch r := record.(type) {
	case *protocol.Envelope:
		return emit(r)
	case decoded:
		return emit(s.codec.Envelope(r.value, r.raw))
	case []byte:
		return emit(s.codec.Parse(r))
	case string:
		return emit(s.codec.Parse([]byte(r)))
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("middleware: wrapping %T in an envelope: %w", record, err)
	}
	return emit(s.codec.Envelope(record, raw))
}
