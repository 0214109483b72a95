package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/cronokirby/coalesce/internal/middleware"
	"github.com/cronokirby/coalesce/internal/network"
	"github.com/cronokirby/coalesce/internal/protocol"
)

const (
	chatType   = "chat"
	handleType = "handle"
	// noticeUser is who notices about the mesh itself come from
	noticeUser = "*"
)

// ChatMessage is the body of a chat envelope
type ChatMessage struct {
	From   string `json:"from"`
	Handle string `json:"handle"`
	Text   string `json:"text,omitempty"`
}

// Receiver is told about every line the chat should show
type Receiver interface {
	ReceiveContent(user, content string)
}

// PrintReceiver writes chat lines to a terminal, with some color
type PrintReceiver struct {
	Out io.Writer
	mu  sync.Mutex
}

// NewPrintReceiver prints to standard output
func NewPrintReceiver() *PrintReceiver {
	return &PrintReceiver{Out: color.Output}
}

var (
	userColor   = color.New(color.FgCyan, color.Bold)
	noticeColor = color.New(color.FgYellow)
)

// ReceiveContent prints a single line
func (r *PrintReceiver) ReceiveContent(user, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user == noticeUser {
		noticeColor.Fprintf(r.Out, "%s %s\n", noticeUser, content)
		return
	}
	userColor.Fprintf(r.Out, "%s:", user)
	fmt.Fprintf(r.Out, " %s\n", content)
}

// Chat is a chat room spanning the whole mesh a node belongs to.
//
// Every message carries the id of the node that wrote it, handles being
// looked up by that id, since relayed messages don't come from their author.
type Chat struct {
	node    *network.Node
	handles *handleMap

	mu       sync.Mutex
	handle   string
	receiver Receiver
}

// NewChat installs the chat middleware on a node.
//
// The node must not be started or listening yet.
func NewChat(node *network.Node, handle string, receiver Receiver) (*Chat, error) {
	c := &Chat{
		node:     node,
		handles:  makeHandleMap(),
		handle:   handle,
		receiver: receiver,
	}
	if c.handle == "" {
		c.handle = shortID(node.ID())
	}
	stack := append([]network.Middleware{middleware.Tattletale()}, middleware.Courier(protocol.DefaultCodec())...)
	stack = append(stack, middleware.Router())
	if err := node.Use(stack...); err != nil {
		return nil, err
	}
	if err := node.Route(chatType, c.receiveChat); err != nil {
		return nil, err
	}
	if err := node.Route(handleType, c.receiveHandle); err != nil {
		return nil, err
	}
	node.OnPeerConnected(func(peer *network.Peer) {
		c.notice("connected to %s", peer.Addr())
	})
	node.OnPeerDisconnected(func(peer *network.Peer, reason error) {
		if reason != nil {
			c.notice("lost %s: %v", peer.Addr(), reason)
			return
		}
		c.notice("%s left", peer.Addr())
	})
	return c, nil
}

// SetReceiver replaces where chat lines go
func (c *Chat) SetReceiver(receiver Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = receiver
}

// Handle returns the name we're chatting under
func (c *Chat) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Input handles a line typed by the user, "!nick name" changing our handle
func (c *Chat) Input(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	var name string
	if _, err := fmt.Sscanf(line, "!nick %s", &name); err == nil {
		return c.SetHandle(name)
	}
	return c.Send(line)
}

// Send writes a message to the whole mesh
func (c *Chat) Send(text string) error {
	return c.node.Broadcast(chatType, ChatMessage{From: c.node.ID(), Handle: c.Handle(), Text: text})
}

// SetHandle changes our handle, and tells the mesh about it
func (c *Chat) SetHandle(handle string) error {
	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	return c.node.Broadcast(handleType, ChatMessage{From: c.node.ID(), Handle: handle})
}

func (c *Chat) receiveChat(_ *network.Peer, env *protocol.Envelope) {
	var msg ChatMessage
	if err := env.Unmarshal(&msg); err != nil || msg.From == "" {
		c.node.Logger().Warnf("Ignoring malformed chat message %s", env)
		return
	}
	if msg.Handle != "" {
		c.handles.set(msg.From, msg.Handle)
	}
	c.show(c.handles.get(msg.From), msg.Text)
}

func (c *Chat) receiveHandle(_ *network.Peer, env *protocol.Envelope) {
	var msg ChatMessage
	if err := env.Unmarshal(&msg); err != nil || msg.From == "" || msg.Handle == "" {
		c.node.Logger().Warnf("Ignoring malformed handle message %s", env)
		return
	}
	old := c.handles.get(msg.From)
	c.handles.set(msg.From, msg.Handle)
	if old != msg.Handle {
		c.notice("%s is now known as %s", old, msg.Handle)
	}
}

func (c *Chat) notice(format string, args ...interface{}) {
	c.show(noticeUser, fmt.Sprintf(format, args...))
}

func (c *Chat) show(user, content string) {
	c.mu.Lock()
	receiver := c.receiver
	c.mu.Unlock()
	if receiver != nil {
		receiver.ReceiveContent(user, content)
	}
}
