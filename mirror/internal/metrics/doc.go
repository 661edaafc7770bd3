// Package metrics exposes Prometheus metrics for the mirror.
//
// Collector implements the observer hooks of packages cache, mux and
// syncarray. A nil *Collector is valid and records nothing, so the core can be
// used without a registry.
package metrics
