package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/cronokirby/coalesce/internal/middleware"
	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

var addrColor = color.New(color.FgGreen)

// NewRelay turns a node into a deduplicating relay printing every record
// it receives, one per line, after the address of the peer it came from
func NewRelay(node *network.Node, out io.Writer) error {
	stack := append(middleware.Courier(protocol.DefaultCodec()), middleware.SmartRelay())
	if err := node.Use(stack...); err != nil {
		return err
	}
	var mu sync.Mutex
	node.OnData(func(peer *network.Peer, record interface{}) {
		env, ok := record.(*protocol.Envelope)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		addrColor.Fprintf(out, "%s", peer.Addr())
		fmt.Fprintf(out, " %s\n", env.Raw())
	})
	return nil
}
