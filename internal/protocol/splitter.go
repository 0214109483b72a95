package protocol

import (
	"bytes"
	"errors"
)

// ErrRecordTooLarge means a peer sent more unterminated data than allowed
var ErrRecordTooLarge = errors.New("protocol: record exceeds maximum size")

// Splitter cuts a byte stream into records at a terminator.
//
// Data after the last terminator is held until more arrives. A Splitter
// belongs to a single stream and isn't safe for concurrent use.
type Splitter struct {
	terminator []byte
	max        int
	buf        []byte
}

// NewSplitter creates a Splitter, max <= 0 meaning no bound on buffered data
func NewSplitter(terminator string, max int) *Splitter {
	if terminator == "" {
		terminator = DefaultTerminator
	}
	return &Splitter{terminator: []byte(terminator), max: max}
}

// Feed appends a chunk of the stream, and returns every record it completed
func (s *Splitter) Feed(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)
	var records [][]byte
	for {
		i := bytes.Index(s.buf, s.terminator)
		if i < 0 {
			break
		}
		record := make([]byte, i)
		copy(record, s.buf[:i])
		records = append(records, record)
		s.buf = s.buf[i+len(s.terminator):]
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	if s.max > 0 && len(s.buf) > s.max {
		s.buf = nil
		return records, ErrRecordTooLarge
	}
	return records, nil
}

// Buffered reports how many bytes are waiting for a terminator
func (s *Splitter) Buffered() int {
	return len(s.buf)
}
