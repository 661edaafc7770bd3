package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/obsidianstack/snapsync/mirror/internal/config"
	"github.com/obsidianstack/snapsync/pkg/types"
)

const (
	ruleUpstreamCancelled = "upstream_cancelled"
	maxHistoryLen         = 200
	recentWindowHours     = 1
)

// Alert is one upstream outage as seen by the mirror.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Collection string     `json:"collection"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"` // "firing" | "resolved"

	// LastError is the cancellation reason reported by the upstream.
	LastError string `json:"last_error"`
	// Downtime is how long the mirror went without a synced subscription,
	// set on resolution.
	Downtime string `json:"downtime,omitempty"`
}

// Engine fires an alert when the upstream cancels and resolves it on the next
// initial sync. Webhook delivery runs in the background.
//
// Engine is safe for concurrent use.
type Engine struct {
	collection string
	webhooks   []config.WebhookConfig
	cooldown   time.Duration
	client     *http.Client

	mu       sync.Mutex
	active   *Alert
	lastFire time.Time
	history  []*Alert

	deliveries sync.WaitGroup
}

// New creates an Engine for collection. An Engine without webhooks still
// tracks alerts for the API.
func New(collection string, cfg config.AlertsConfig) *Engine {
	return &Engine{
		collection: collection,
		webhooks:   cfg.Webhooks,
		cooldown:   cfg.Cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// OnChange is part of events.Listener. Entry changes never alert.
func (e *Engine) OnChange(types.ChangeEvent) {}

// OnCancelled fires the upstream_cancelled alert unless one is already firing
// or the last one fired within the cooldown.
func (e *Engine) OnCancelled(err error) {
	now := time.Now()

	e.mu.Lock()
	if e.active != nil || (!e.lastFire.IsZero() && now.Sub(e.lastFire) <= e.cooldown) {
		e.mu.Unlock()
		return
	}
	a := &Alert{
		ID:         fmt.Sprintf("%s:%s:%d", ruleUpstreamCancelled, e.collection, now.UnixNano()),
		RuleName:   ruleUpstreamCancelled,
		Collection: e.collection,
		Severity:   "critical",
		Message:    fmt.Sprintf("upstream cancelled the subscription to %s: %v", e.collection, err),
		FiredAt:    now,
		State:      "firing",
		LastError:  err.Error(),
	}
	e.active = a
	e.lastFire = now
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alert fired", "rule", ruleUpstreamCancelled, "collection", e.collection, "err", err)
	e.deliverAsync(&alertCopy)
}

// OnInitialSyncComplete resolves a firing alert.
func (e *Engine) OnInitialSyncComplete() {
	e.mu.Lock()
	a := e.active
	if a == nil {
		e.mu.Unlock()
		return
	}
	resolved := time.Now()
	a.State = "resolved"
	a.ResolvedAt = &resolved
	a.Downtime = resolved.Sub(a.FiredAt).Round(time.Millisecond).String()
	a.Message = fmt.Sprintf("mirror of %s resynced after %s", e.collection, a.Downtime)
	e.active = nil

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alert resolved", "rule", ruleUpstreamCancelled, "collection", e.collection)
	e.deliverAsync(&alertCopy)
}

// Active returns the firing alert, if any, plus alerts resolved within the
// past hour.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, 1)
	if e.active != nil {
		cp := *e.active
		out = append(out, &cp)
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		a := e.history[i]
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

// Wait blocks until every started webhook delivery has finished.
func (e *Engine) Wait() {
	e.deliveries.Wait()
}

func (e *Engine) deliverAsync(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.deliveries.Add(1)
	go func() {
		defer e.deliveries.Done()
		e.deliver(a)
	}()
}
