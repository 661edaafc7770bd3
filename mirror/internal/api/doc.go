// Package api implements the HTTP REST API of the mirror.
//
// New(reader, gatherer, alerts, opts...) returns an http.Handler that serves:
//
//	GET /api/v1/items               ordered entries; stale before the first sync
//	GET /api/v1/items/{index}       one entry; 404 if out of range
//	GET /api/v1/keys/{key}          one entry by key; 404 if absent
//	GET /api/v1/status              supervisor state plus a metrics snapshot
//	GET /api/v1/alerts              firing and recently resolved upstream alerts
//	GET /api/v1/certs               expiry of the configured mTLS certificates
//	GET /api/v1/diagnostics/metrics Prometheus text exposition
//
// Every endpoint returns 405 for non-GET methods. JSON types are in types.go.
package api
