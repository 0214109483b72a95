// Package middleware contains the stages most coalesce nodes are built from.
//
// The Courier frames the byte stream into JSON envelopes, the Router
// dispatches envelopes by type, and Tattletale and SmartRelay flood
// whatever they receive to the rest of the mesh.
package middleware
