// Package mux shares one upstream subscription among many local listeners.
//
// A Multiplexer is Idle while no listener is registered and Active while at
// least one is. The first Subscribe opens exactly one subscription on the
// upstream Source; the last Unsubscribe closes it. Listener membership lives
// in the events.Bus the Multiplexer is built with, so the set that decides
// the upstream lifecycle is the same set that receives events.
//
// Source and Handler describe the remote ordered collection at its interface
// boundary. Package upstream implements Source over the gRPC feed; package
// syncarray implements Handler.
//
// A Source may still deliver events it buffered before Unsubscribe returned.
// Handlers that also implement Sessions get a fresh Handler per upstream
// subscription, so those late events can be told apart from the ones of the
// next subscription.
package mux
