package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kingpin"

	"github.com/cronokirby/coalesce/internal/config"
	"github.com/cronokirby/coalesce/internal/network"
)

var (
	// App provides the starting point for command parsing
	App = kingpin.New("coalesce", "A peer to peer mesh of gossiping nodes")

	// ConfigPath is an optional YAML file with node settings
	ConfigPath = App.Flag("config", "YAML config file").Envar("COALESCE_CONFIG").String()
	// Listen is the address to accept peers on
	Listen = App.Flag("listen", "The address to listen on").Short('l').Envar("COALESCE_LISTEN").String()
	// Seeds are the peers used to enter the network
	Seeds = App.Flag("seed", "A peer to enter the network through, may be repeated").Short('s').Envar("COALESCE_SEEDS").Strings()
	// MinPeers overrides how many outbound peers we try to keep
	MinPeers = App.Flag("min-peers", "Outbound peers to keep").Envar("COALESCE_MIN_PEERS").Int()
	// Quiet silences connection logs
	Quiet = App.Flag("quiet", "Don't log connection events").Short('q').Envar("COALESCE_QUIET").Bool()

	// ChatCommand is the command for chatting with the mesh
	ChatCommand = App.Command("chat", "Chat with everyone in the mesh")
	// ChatHandle is the name to chat under
	ChatHandle = ChatCommand.Flag("handle", "The name to chat under").Envar("COALESCE_HANDLE").String()
	// ChatTUI switches to the terminal ui
	ChatTUI = ChatCommand.Flag("tui", "Use the terminal ui").Bool()

	// Relay is the command for running a relay
	Relay = App.Command("relay", "Relay and print everything received")

	// Send is the command for sending a single message
	Send = App.Command("send", "Send one message to a peer and print the replies")
	// SendTarget is the peer to send to
	SendTarget = Send.Arg("target", "The address of the peer").Required().String()
	// SendType is the type of the message
	SendType = Send.Arg("type", "The message type").Required().String()
	// SendBody is the body of the message, as JSON
	SendBody = Send.Arg("body", "The message body, as JSON").Default("{}").String()
	// SendWait is how long replies are waited for
	SendWait = Send.Flag("wait", "How long to wait for replies").Default("1s").Duration()
)

// settings merges the config file with the flags, flags winning
func settings() (network.Options, string, string, error) {
	file := &config.File{}
	if *ConfigPath != "" {
		var err error
		if file, err = config.Load(*ConfigPath); err != nil {
			return network.Options{}, "", "", err
		}
	}
	opts := file.Options()
	listen, handle := file.Listen, file.Handle
	if *Listen != "" {
		listen = *Listen
	}
	if *ChatHandle != "" {
		handle = *ChatHandle
	}
	if len(*Seeds) > 0 {
		opts.Seeds = *Seeds
	}
	if *MinPeers > 0 {
		opts.MinPeers = *MinPeers
	}
	if *Quiet {
		opts.Logger = network.NopLogger()
	}
	return opts, listen, handle, nil
}

// Run executes a parsed command
func Run(command string) error {
	opts, listen, handle, err := settings()
	if err != nil {
		return err
	}
	if command == ChatCommand.FullCommand() && *ChatTUI {
		// the terminal belongs to the ui
		opts.Logger = network.NopLogger()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	node := network.New(opts)
	defer node.Destroy()

	switch command {
	case ChatCommand.FullCommand():
		chat, err := NewChat(node, handle, NewPrintReceiver())
		if err != nil {
			return err
		}
		if err := listenOn(node, listen); err != nil {
			return err
		}
		if *ChatTUI {
			return RunTUI(chat)
		}
		Interact(ctx, chat, os.Stdin)
	case Relay.FullCommand():
		if err := NewRelay(node, os.Stdout); err != nil {
			return err
		}
		if err := listenOn(node, listen); err != nil {
			return err
		}
		<-ctx.Done()
	case Send.FullCommand():
		return SendOnce(ctx, node, *SendTarget, *SendType, *SendBody, *SendWait, os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// listenOn starts the node, listening on addr unless it's empty
func listenOn(node *network.Node, addr string) error {
	if addr == "" {
		return node.Start()
	}
	_, err := node.Listen(addr)
	return err
}

// Interact feeds lines from the terminal into a chat, until EOF or ctx is done
func Interact(ctx context.Context, chat *Chat, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := chat.Input(line); err != nil {
				chat.notice("%v", err)
			}
		}
	}
}
