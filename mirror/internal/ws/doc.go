// Package ws implements the WebSocket hub of the mirror.
//
// Hub is an events.Listener: the supervisor attaches it to every Array it
// builds, and the hub turns each change event into one JSON message for every
// connected client. Hub.ServeHTTP upgrades a connection, sends the current
// entries as a snapshot and then streams the events that follow it:
//
//	{"event": "snapshot", "data": {"items": [{"key": ..., "value": ...}]}}
//	{"event": "inserted", "index": 0, "key": "a", "value": {...}}
//	{"event": "moved", "index": 2, "old_index": 0, "key": "a"}
//	{"event": "reset"}
//	{"event": "synced"}
//	{"event": "cancelled", "error": "..."}
//
// Clients whose send buffer fills up are dropped. The upgrader accepts all
// origins; apply CORS restrictions at the reverse proxy. The endpoint is
// mounted at /ws/stream by the mirror.
package ws
