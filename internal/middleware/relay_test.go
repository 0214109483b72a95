package middleware

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronokirby/coalesce/internal/network"
)

func TestSmartRelayWindow(t *testing.T) {
	s := &smartRelay{}
	digest := func(i byte) [sha1.Size]byte {
		return sha1.Sum([]byte{i})
	}
	for i := byte(0); i < 5; i++ {
		s.remember(digest(i), 3)
	}
	require.Len(t, s.recent, 3)
	assert.Equal(t, digest(4), s.recent[0])
	assert.True(t, s.seen(digest(2)))
	assert.False(t, s.seen(digest(1)))

	s.remember(digest(9), 0)
	assert.Empty(t, s.recent)
}

func TestRelayStagesEmitEverything(t *testing.T) {
	s := &smartRelay{}
	out := run(t, []network.Stage{s}, []byte("a\n"), []byte("a\n"), "b\n")
	assert.Equal(t, []interface{}{[]byte("a\n"), []byte("a\n"), "b\n"}, out)

	tt := &tattletale{}
	out = run(t, []network.Stage{tt}, []byte("a\n"), 3)
	assert.Equal(t, []interface{}{[]byte("a\n"), 3}, out)
}
