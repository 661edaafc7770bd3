package collection

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/snapsync/pkg/feedrpc"
)

var (
	ErrEmptyKey     = errors.New("empty key")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Item is one keyed entry of the collection.
type Item struct {
	Key   string
	Value json.RawMessage
}

type fileItem struct {
	Key   string    `yaml:"key"`
	Value yaml.Node `yaml:"value"`
}

type file struct {
	Items []fileItem `yaml:"items"`
}

// Load reads the collection file at path.
func Load(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collection: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a collection document.
func Parse(data []byte) ([]Item, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("collection: parse yaml: %w", err)
	}

	items := make([]Item, 0, len(f.Items))
	seen := make(map[string]bool, len(f.Items))
	for i, fi := range f.Items {
		if fi.Key == "" {
			return nil, fmt.Errorf("collection: items[%d]: %w", i, ErrEmptyKey)
		}
		if seen[fi.Key] {
			return nil, fmt.Errorf("collection: items[%d] %q: %w", i, fi.Key, ErrDuplicateKey)
		}
		seen[fi.Key] = true

		var v interface{}
		if fi.Value.Kind != 0 {
			if err := fi.Value.Decode(&v); err != nil {
				return nil, fmt.Errorf("collection: items[%d] %q: decode value: %w", i, fi.Key, err)
			}
		}
		raw, err := json.Marshal(jsonable(v))
		if err != nil {
			return nil, fmt.Errorf("collection: items[%d] %q: encode value: %w", i, fi.Key, err)
		}
		items = append(items, Item{Key: fi.Key, Value: raw})
	}
	return items, nil
}

// jsonable rewrites YAML maps with non-string keys so encoding/json accepts
// them.
func jsonable(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = jsonable(e)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = jsonable(e)
		}
		return m
	case []interface{}:
		for i, e := range t {
			t[i] = jsonable(e)
		}
		return t
	default:
		return v
	}
}

// Diff returns the events that turn old into next. Removals come first, in
// old order. Then every position of next is settled left to right: a new key
// is added after its predecessor, a key out of place is moved there, and a
// key whose value differs is changed.
func Diff(old, next []Item) []feedrpc.Event {
	nextKeys := make(map[string]bool, len(next))
	for _, it := range next {
		nextKeys[it.Key] = true
	}
	oldValues := make(map[string]json.RawMessage, len(old))
	for _, it := range old {
		oldValues[it.Key] = it.Value
	}

	var evs []feedrpc.Event
	cur := make([]string, 0, len(old))
	for _, it := range old {
		if !nextKeys[it.Key] {
			evs = append(evs, feedrpc.Event{Kind: feedrpc.KindRemoved, Key: it.Key})
			continue
		}
		cur = append(cur, it.Key)
	}

	for i, it := range next {
		prev := ""
		if i > 0 {
			prev = next[i-1].Key
		}

		// cur[:i] already equals next[:i].
		oldValue, existed := oldValues[it.Key]
		if !existed {
			evs = append(evs, feedrpc.Event{Kind: feedrpc.KindAdded, Key: it.Key, Value: it.Value, PrevKey: prev})
			cur = slices.Insert(cur, i, it.Key)
			continue
		}
		if j := slices.Index(cur, it.Key); j != i {
			evs = append(evs, feedrpc.Event{Kind: feedrpc.KindMoved, Key: it.Key, PrevKey: prev})
			cur = slices.Delete(cur, j, j+1)
			cur = slices.Insert(cur, i, it.Key)
		}
		if !bytes.Equal(oldValue, it.Value) {
			evs = append(evs, feedrpc.Event{Kind: feedrpc.KindChanged, Key: it.Key, Value: it.Value})
		}
	}
	return evs
}

// Collection is a named, ordered collection with live subscribers.
//
// Collection is safe for concurrent use.
type Collection struct {
	name string

	mu     sync.Mutex
	items  []Item
	subs   map[int]func([]feedrpc.Event)
	nextID int
}

// New creates a Collection holding items.
func New(name string, items []Item) *Collection {
	return &Collection{
		name:  name,
		items: slices.Clone(items),
		subs:  make(map[int]func([]feedrpc.Event)),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Items returns a copy of the current items.
func (c *Collection) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Subscribe returns the events that build the current collection from empty,
// terminated by a synced event, and registers fn for every later revision.
// No revision falls between the snapshot and the first call to fn. fn runs
// under the collection lock and must not block.
func (c *Collection) Subscribe(fn func([]feedrpc.Event)) (snapshot []feedrpc.Event, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot = append(Diff(nil, c.items), feedrpc.Event{Kind: feedrpc.KindSynced})
	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return snapshot, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Subscribers returns the number of registered subscribers.
func (c *Collection) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Replace installs next as the current revision and publishes the diff. It
// returns the number of events published.
func (c *Collection) Replace(next []Item) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evs := Diff(c.items, next)
	c.items = slices.Clone(next)
	if len(evs) == 0 {
		return 0
	}
	for _, fn := range c.subs {
		fn(evs)
	}
	return len(evs)
}
