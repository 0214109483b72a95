// Package protocol contains the wire format spoken between coalesce peers.
// Records are terminator-delimited JSON objects, and each record maps
// to a typed Envelope. Methods for splitting a byte stream into records,
// decoding them, and encoding new ones are provided here.
//
// Nothing in this package touches a network connection.
package protocol
