package protocol

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultTypeField is the record field holding the message type
	DefaultTypeField = "type"
	// DefaultBodyField is the record field holding the message body
	DefaultBodyField = "body"
	// DefaultTerminator separates records on the wire
	DefaultTerminator = "\n"
	// DefaultMaxRecordSize bounds how much unterminated data a peer may send
	DefaultMaxRecordSize = 1 << 20
)

var (
	// ErrInvalidCodec is returned by Validate for unusable field names or terminators
	ErrInvalidCodec = errors.New("protocol: invalid codec")
	// ErrTerminatorInRecord means an encoded record would contain its own terminator
	ErrTerminatorInRecord = errors.New("protocol: terminator inside encoded record")
)

// Codec describes how envelopes map to and from wire records.
//
// The zero value is usable and means the defaults. The same Codec
// must be used to decode and to encode, so that a node can always read
// back what it writes.
type Codec struct {
	TypeField     string
	BodyField     string
	Terminator    string
	MaxRecordSize int
}

// DefaultCodec returns a Codec with every field filled with its default
func DefaultCodec() Codec {
	return Codec{}.normalized()
}

func (c Codec) normalized() Codec {
	if c.TypeField == "" {
		c.TypeField = DefaultTypeField
	}
	if c.BodyField == "" {
		c.BodyField = DefaultBodyField
	}
	if c.Terminator == "" {
		c.Terminator = DefaultTerminator
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	return c
}

// Validate checks that a codec can round trip its own records
func (c Codec) Validate() error {
	c = c.normalized()
	if c.TypeField == c.BodyField {
		return fmt.Errorf("%w: type and body field are both %q", ErrInvalidCodec, c.TypeField)
	}
	if c.MaxRecordSize < 0 {
		return fmt.Errorf("%w: negative max record size %d", ErrInvalidCodec, c.MaxRecordSize)
	}
	return nil
}

// Splitter returns a fresh Splitter for this codec's terminator
func (c Codec) Splitter() *Splitter {
	c = c.normalized()
	return NewSplitter(c.Terminator, c.MaxRecordSize)
}

// Envelope is the normalized form of a decoded record
type Envelope struct {
	// Type is the message type, the empty string meaning none
	Type string
	// Body is the decoded body, an empty object when absent
	Body  interface{}
	raw   []byte
	codec Codec
}

// Decode parses a record as JSON.
//
// If the record isn't valid JSON, the record is returned unchanged
// as a string, rather than failing.
func Decode(record []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(record, &v); err != nil {
		return string(record)
	}
	return v
}

// Envelope builds an envelope out of a decoded value and the record it came from.
//
// This never fails: values that aren't objects produce an envelope with
// no type and an empty body.
func (c Codec) Envelope(value interface{}, raw []byte) *Envelope {
	c = c.normalized()
	env := &Envelope{Body: map[string]interface{}{}, raw: raw, codec: c}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return env
	}
	if typ, ok := obj[c.TypeField].(string); ok {
		env.Type = typ
	}
	if body, ok := obj[c.BodyField]; ok && body != nil {
		env.Body = body
	}
	return env
}

// Parse decodes one record straight into an envelope
func (c Codec) Parse(record []byte) *Envelope {
	return c.Envelope(Decode(record), record)
}

// Encode serializes a type and body into a terminated record.
//
// A nil body is written as an empty object, matching what decoding
// produces for a missing body.
func (c Codec) Encode(typ string, body interface{}) ([]byte, error) {
	c = c.normalized()
	if body == nil {
		body = map[string]interface{}{}
	}
	var typeValue interface{}
	if typ != "" {
		typeValue = typ
	}
	typeField, err := json.Marshal(c.TypeField)
	if err != nil {
		return nil, err
	}
	typeBytes, err := json.Marshal(typeValue)
	if err != nil {
		return nil, err
	}
	bodyField, err := json.Marshal(c.BodyField)
	if err != nil {
		return nil, err
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: encoding body of %q: %w", typ, err)
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(typeField)
	buf.WriteByte(':')
	buf.Write(typeBytes)
	buf.WriteByte(',')
	buf.Write(bodyField)
	buf.WriteByte(':')
	buf.Write(bodyBytes)
	buf.WriteByte('}')
	if bytes.Contains(buf.Bytes(), []byte(c.Terminator)) {
		return nil, ErrTerminatorInRecord
	}
	buf.WriteString(c.Terminator)
	return buf.Bytes(), nil
}

// NewEnvelope builds an envelope as if it had been read off the wire
func (c Codec) NewEnvelope(typ string, body interface{}) (*Envelope, error) {
	record, err := c.Encode(typ, body)
	if err != nil {
		return nil, err
	}
	c = c.normalized()
	return c.Parse(record[:len(record)-len(c.Terminator)]), nil
}

// Raw returns the record this envelope was decoded from, without terminator
func (e *Envelope) Raw() []byte {
	return e.raw
}

// Bytes returns the original record followed by the terminator, ready to
// be written to another peer
func (e *Envelope) Bytes() []byte {
	term := e.codec.normalized().Terminator
	out := make([]byte, 0, len(e.raw)+len(term))
	out = append(out, e.raw...)
	return append(out, term...)
}

// Unmarshal decodes the body into v, as encoding/json would
func (e *Envelope) Unmarshal(v interface{}) error {
	data, err := json.Marshal(e.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// String formats an envelope for logging
func (e *Envelope) String() string {
	typ := e.Type
	if typ == "" {
		typ = "<none>"
	}
	return fmt.Sprintf("Envelope[%s %v]", typ, e.Body)
}
