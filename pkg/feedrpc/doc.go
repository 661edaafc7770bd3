// Package feedrpc declares the snapsync.feed.v1.Feed gRPC service shared by
// the feed server and the mirror's upstream client.
//
// The service has a single server-streaming method:
//
//	Subscribe(SubscribeRequest) returns (stream Event)
//
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype. Clients must pass grpc.CallContentSubtype("json");
// the Subscribe helper in this package does that for them.
//
// Event ordering follows the child-event protocol: every added or moved event
// names the key it follows (empty for the head of the collection), and a
// single synced event marks the end of the initial snapshot.
package feedrpc
