package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// payloadFunc renders an alert in the body format of one webhook type.
type payloadFunc func(a *Alert) any

var payloads = map[string]payloadFunc{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every webhook with a resolvable URL. Failures are logged
// and never retried: the next state change produces a fresh delivery.
func (e *Engine) deliver(a *Alert) {
	log := slog.With("rule", a.RuleName, "collection", a.Collection, "state", a.State)
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := payloads[wh.Type]
		if !ok {
			log.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := json.Marshal(render(a))
		if err == nil {
			err = e.post(url, a, body)
		}
		if err != nil {
			log.Error("alerts: webhook delivery failed", "type", wh.Type, "err", err)
			continue
		}
		log.Debug("alerts: webhook delivered", "type", wh.Type)
	}
}

// facts are the mirror details every chat payload lists.
func facts(a *Alert) [][2]string {
	out := [][2]string{{"Collection", a.Collection}, {"Upstream error", a.LastError}}
	if a.Downtime != "" {
		out = append(out, [2]string{"Downtime", a.Downtime})
	}
	return out
}

func slackPayload(a *Alert) any {
	fields := make([]map[string]any, 0, 3)
	for _, f := range facts(a) {
		fields = append(fields, map[string]any{"title": f[0], "value": f[1], "short": f[0] != "Upstream error"})
	}
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s", headline(a), a.Message),
		"attachments": []map[string]any{{
			"color":  "#" + color(a),
			"fields": fields,
		}},
	}
}

func teamsPayload(a *Alert) any {
	list := make([]map[string]string, 0, 3)
	for _, f := range facts(a) {
		list = append(list, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color(a),
		"summary":    a.RuleName,
		"title":      fmt.Sprintf("snapsync mirror %s: %s", headline(a), a.Collection),
		"text":       a.Message,
		"sections":   []map[string]any{{"facts": list}},
	}
}

// httpPayload is the machine-readable form: the full alert under "alert".
func httpPayload(a *Alert) any {
	return map[string]any{"event": "alert." + a.State, "alert": a}
}

func (e *Engine) post(url string, a *Alert, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Snapsync-Collection", a.Collection)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func headline(a *Alert) string {
	if a.State == "resolved" {
		return "[RESYNCED]"
	}
	return "[UPSTREAM CANCELLED]"
}

func color(a *Alert) string {
	if a.State == "resolved" {
		return "2EB67D"
	}
	return "FF4F6A"
}
