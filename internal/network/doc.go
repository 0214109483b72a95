// Package network provides the actual logic of maintaining a coalesce mesh.
//
// As opposed to protocol, which contains definitions related
// to the wire format, this package actually deals with
// maintaining the tcp connections themselves: accepting and dialing
// peers, entering the network through seeds, and running every
// connection through its own pipeline of stages.
// The main way of interacting with this package is through
// the Node type.
package network
