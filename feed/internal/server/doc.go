// Package server implements feedrpc.FeedServer, streaming the child events of
// one or more collections to subscribers.
//
// A new subscriber first receives the current collection as a chain of added
// events followed by synced, then every later revision as it is published.
// Each subscriber gets a uuid and a bounded queue; a subscriber that falls
// more than SendBuffer events behind is disconnected with
// codes.ResourceExhausted rather than slowing the publisher down. Asking for
// an unknown collection fails with codes.NotFound.
package server
