package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cronokirby/coalesce/internal/middleware"
	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

// SendOnce sends a single envelope to target, then prints every envelope
// coming back until wait is over or ctx is done.
//
// The body is parsed as JSON, falling back to a plain string.
func SendOnce(ctx context.Context, node *network.Node, target, typ, body string, wait time.Duration, out io.Writer) error {
	if err := node.Use(middleware.Courier(protocol.DefaultCodec())...); err != nil {
		return err
	}
	var mu sync.Mutex
	node.OnData(func(_ *network.Peer, record interface{}) {
		env, ok := record.(*protocol.Envelope)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s\n", env.Raw())
	})
	peer, err := node.Connect(ctx, target)
	if err != nil {
		return err
	}
	if err := peer.Send(typ, protocol.Decode([]byte(body))); err != nil {
		return err
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-peer.Done():
	}
	return nil
}
