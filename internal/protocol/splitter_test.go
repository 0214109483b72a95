package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitterBuffersPartialRecords(t *testing.T) {
	s := NewSplitter("\n", 0)
	records, err := s.Feed([]byte("hel"))
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 3, s.Buffered())

	records, err = s.Feed([]byte("lo\nwor"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hello")}, records)

	records, err = s.Feed([]byte("ld\n\nlast\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("world"), []byte(""), []byte("last")}, records)
	assert.Equal(t, 0, s.Buffered())
}

func TestSplitterMultiByteTerminator(t *testing.T) {
	s := NewSplitter("\r\n", 0)
	records, err := s.Feed([]byte("a\r"))
	require.NoError(t, err)
	assert.Empty(t, records)
	records, err = s.Feed([]byte("\nb\r\n"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, records)
}

func TestSplitterRecordsDontAlias(t *testing.T) {
	s := NewSplitter("\n", 0)
	chunk := []byte("abc\n")
	records, err := s.Feed(chunk)
	require.NoError(t, err)
	chunk[0] = 'z'
	assert.Equal(t, "abc", string(records[0]))
}

func TestSplitterBound(t *testing.T) {
	s := NewSplitter("\n", 4)
	records, err := s.Feed([]byte("ok\ntoolong"))
	assert.ErrorIs(t, err, ErrRecordTooLarge)
	assert.Equal(t, [][]byte{[]byte("ok")}, records)
	assert.Equal(t, 0, s.Buffered())
}
