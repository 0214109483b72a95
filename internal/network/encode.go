package network

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/cronokirby/coalesce/internal/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeRecord turns a value into bytes for the wire.
//
// Bytes and strings are sent as they are, envelopes as the record they
// were decoded from, and anything else as a line of JSON.
func EncodeRecord(value interface{}) ([]byte, error) {
	switch data := value.(type) {
	case []byte:
		return data, nil
	case string:
		return []byte(data), nil
	case *protocol.Envelope:
		return data.Bytes(), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return append(data, protocol.DefaultTerminator...), nil
}
