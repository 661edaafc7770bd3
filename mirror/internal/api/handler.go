package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/snapsync/mirror/internal/alerts"
	"github.com/obsidianstack/snapsync/mirror/internal/metrics"
	"github.com/obsidianstack/snapsync/mirror/internal/supervisor"
	"github.com/obsidianstack/snapsync/mirror/internal/upstream"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// Reader is the read side of the mirror. *supervisor.Supervisor satisfies it.
type Reader interface {
	Items() (entries []types.Entry, stale bool)
	Item(index int) (types.Entry, error)
	ItemByKey(key string) (types.Entry, int, error)
	Status() supervisor.Status
}

// AlertLister returns current alerts. *alerts.Engine satisfies it.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	reader   Reader
	gatherer prometheus.Gatherer
	alerts   AlertLister
	certs    func() []upstream.CertStatus
	mux      *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithCerts serves the result of check at /api/v1/certs.
func WithCerts(check func() []upstream.CertStatus) Option {
	return func(h *Handler) { h.certs = check }
}

// New creates a Handler reading entries from r, metrics from g and alerts
// from al. g and al may be nil.
func New(r Reader, g prometheus.Gatherer, al AlertLister, opts ...Option) http.Handler {
	h := &Handler{reader: r, gatherer: g, alerts: al, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("/api/v1/items", h.listItems)
	h.mux.HandleFunc("/api/v1/items/", h.getItem) // subtree, extracts {index}
	h.mux.HandleFunc("/api/v1/keys/", h.getByKey)
	h.mux.HandleFunc("/api/v1/status", h.status)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/certs", h.listCerts)
	h.mux.HandleFunc("/api/v1/diagnostics/metrics", h.metricsText)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// listItems returns GET /api/v1/items.
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries, stale := h.reader.Items()
	out := make([]ItemResponse, 0, len(entries))
	for i, e := range entries {
		out = append(out, toItemResponse(i, e))
	}
	jsonResp(w, http.StatusOK, ItemsResponse{Items: out, Count: len(out), Stale: stale})
}

// getItem returns GET /api/v1/items/{index}.
func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/items/")
	if raw == "" {
		h.listItems(w, r)
		return
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	e, err := h.reader.Item(index)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "item not found")
		return
	}
	jsonResp(w, http.StatusOK, toItemResponse(index, e))
}

// getByKey returns GET /api/v1/keys/{key}.
func (h *Handler) getByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/keys/")
	if key == "" {
		jsonErr(w, http.StatusBadRequest, "key required")
		return
	}

	e, index, err := h.reader.ItemByKey(key)
	switch {
	case supervisor.IsNotFound(err):
		jsonErr(w, http.StatusNotFound, "key not found")
		return
	case err != nil:
		slog.Error("api: lookup by key", "key", key, "err", err)
		jsonErr(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	jsonResp(w, http.StatusOK, toItemResponse(index, e))
}

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatusResponse{Status: h.reader.Status()}
	if h.gatherer != nil {
		snap, err := metrics.Snapshot(h.gatherer)
		if err != nil {
			// The status is still useful without metrics.
			slog.Warn("api: metrics snapshot", "err", err)
		}
		resp.Metrics = snap
	}
	jsonResp(w, http.StatusOK, resp)
}

// listAlerts returns GET /api/v1/alerts: the firing alert and alerts resolved
// within the past hour.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alerts.Active())
}

// listCerts returns GET /api/v1/certs: expiry of the configured mTLS
// certificates.
func (h *Handler) listCerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []upstream.CertStatus{}
	if h.certs != nil {
		out = append(out, h.certs()...)
	}
	jsonResp(w, http.StatusOK, out)
}

// metricsText returns GET /api/v1/diagnostics/metrics in the Prometheus text
// format.
func (h *Handler) metricsText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if h.gatherer == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := metrics.WriteText(w, h.gatherer); err != nil {
		slog.Error("api: write metrics", "err", err)
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toItemResponse(index int, e types.Entry) ItemResponse {
	v := e.Value
	if len(v) == 0 {
		v = json.RawMessage("null")
	}
	return ItemResponse{Index: index, Key: e.Key, Value: v}
}
