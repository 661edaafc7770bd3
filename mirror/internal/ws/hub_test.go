package ws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	wsHub "github.com/obsidianstack/snapsync/mirror/internal/ws"
	"github.com/obsidianstack/snapsync/pkg/types"
)

// --- helpers ----------------------------------------------------------------

// entries is a Source over a plain slice.
type entries struct {
	mu   sync.Mutex
	list []types.Entry
}

func (e *entries) View(fn func([]types.Entry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(append([]types.Entry(nil), e.list...))
}

func (e *entries) Item(index int) (types.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.list) {
		return types.Entry{}, errors.New("out of range")
	}
	return e.list[index], nil
}

func (e *entries) set(list ...types.Entry) {
	e.mu.Lock()
	e.list = list
	e.mu.Unlock()
}

func entry(key, value string) types.Entry {
	return types.Entry{Key: key, Value: json.RawMessage(value)}
}

// startHub serves the hub over httptest and returns its ws:// URL.
func startHub(t *testing.T, src wsHub.Source) (string, *wsHub.Hub, context.CancelFunc) {
	t.Helper()

	hub := wsHub.New(src)
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return m
}

func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want %d", hub.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesSnapshot(t *testing.T) {
	src := &entries{}
	src.set(entry("a", `1`), entry("b", `{"x":true}`))
	wsURL, _, _ := startHub(t, src)

	m := readMessage(t, dial(t, wsURL))
	if m["event"] != "snapshot" {
		t.Fatalf("event: got %v, want snapshot", m["event"])
	}
	items := m["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 2 {
		t.Fatalf("items: got %d, want 2", len(items))
	}
	if k := items[0].(map[string]interface{})["key"]; k != "a" {
		t.Errorf("items[0].key: got %v, want a", k)
	}
}

func TestHub_EmptySnapshot_EmptyItems(t *testing.T) {
	wsURL, _, _ := startHub(t, &entries{})

	m := readMessage(t, dial(t, wsURL))
	items, ok := m["data"].(map[string]interface{})["items"].([]interface{})
	if !ok || len(items) != 0 {
		t.Errorf("items: got %v, want []", m["data"])
	}
}

func TestHub_ForwardsChangeEvents(t *testing.T) {
	src := &entries{}
	wsURL, hub, _ := startHub(t, src)
	conn := dial(t, wsURL)
	readMessage(t, conn) // snapshot

	src.set(entry("a", `{"n":1}`))
	hub.OnChange(types.InsertedAt("a", 0))
	hub.OnChange(types.MovedFrom("a", 0, 3))
	hub.OnChange(types.RemovedAt("a", 0))
	hub.OnChange(types.ResetAll())
	hub.OnInitialSyncComplete()
	hub.OnCancelled(errors.New("permission denied"))

	m := readMessage(t, conn)
	if m["event"] != "inserted" || m["key"] != "a" || m["index"] != float64(0) {
		t.Errorf("inserted: got %v", m)
	}
	if v, _ := m["value"].(map[string]interface{}); v["n"] != float64(1) {
		t.Errorf("inserted value: got %v", m["value"])
	}
	if _, ok := m["old_index"]; ok {
		t.Errorf("inserted: unexpected old_index")
	}

	m = readMessage(t, conn)
	if m["event"] != "moved" || m["index"] != float64(3) || m["old_index"] != float64(0) {
		t.Errorf("moved: got %v", m)
	}
	if _, ok := m["value"]; ok {
		t.Errorf("moved: unexpected value")
	}

	m = readMessage(t, conn)
	if m["event"] != "removed" || m["index"] != float64(0) {
		t.Errorf("removed: got %v", m)
	}

	m = readMessage(t, conn)
	if m["event"] != "reset" {
		t.Errorf("reset: got %v", m)
	}
	if _, ok := m["index"]; ok {
		t.Errorf("reset: unexpected index")
	}

	if m = readMessage(t, conn); m["event"] != "synced" {
		t.Errorf("synced: got %v", m)
	}
	m = readMessage(t, conn)
	if m["event"] != "cancelled" || m["error"] != "permission denied" {
		t.Errorf("cancelled: got %v", m)
	}
}

func TestHub_CountClients(t *testing.T) {
	wsURL, hub, _ := startHub(t, &entries{})

	var conns []*websocket.Conn
	for range 3 {
		c := dial(t, wsURL)
		readMessage(t, c)
		conns = append(conns, c)
	}
	waitCount(t, hub, 3)

	conns[0].Close()
	waitCount(t, hub, 2)
}

func TestHub_RunCancel_ClosesClients(t *testing.T) {
	wsURL, hub, cancel := startHub(t, &entries{})
	conn := dial(t, wsURL)
	readMessage(t, conn)

	cancel()
	waitCount(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("ReadMessage after shutdown: got nil error")
	}
}
