// Package upstream implements mux.Source over the gRPC Feed service.
//
// Each Subscribe opens one Feed/Subscribe stream and starts a goroutine that
// applies the received events to the handler in arrival order, so handler
// calls for one subscription never overlap. "synced" maps to
// OnInitialSyncComplete.
//
// The subscription ends with OnCancelled when the stream fails, when the
// feed closes it, or when the handler rejects an event: a rejected event
// means the mirror and the feed disagree about the collection, and nothing
// after it can be applied safely. Unsubscribe only cancels the stream's
// context; it never waits for the goroutine and never triggers OnCancelled.
//
// Dial builds transport credentials from config: mTLS, or plaintext for the
// apikey and none modes. The API key travels as per-stream metadata.
// CheckCerts reports how long the configured mTLS certificates stay valid.
package upstream
