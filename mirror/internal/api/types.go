package api

import (
	"encoding/json"

	"github.com/obsidianstack/snapsync/mirror/internal/supervisor"
)

// ItemResponse is one entry with its position.
type ItemResponse struct {
	Index int             `json:"index"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ItemsResponse is the payload for GET /api/v1/items.
type ItemsResponse struct {
	Items []ItemResponse `json:"items"`
	Count int            `json:"count"`
	// Stale is set while the entries come from a checkpoint because the
	// upstream has not finished its initial sync.
	Stale bool `json:"stale"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	supervisor.Status
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
