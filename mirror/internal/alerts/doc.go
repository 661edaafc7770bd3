// Package alerts notifies webhooks when the upstream cancels the mirror's
// subscription and again once a fresh subscription has finished its initial
// sync. Engine is an events.Listener attached by the supervisor.
package alerts
