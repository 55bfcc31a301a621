package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryStore keeps items in process. It backs tests and STORE_BACKEND=memory.
type MemoryStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	items map[Key]memEntry
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		items: make(map[Key]memEntry),
	}
}

func (m *MemoryStore) live(key Key) (memEntry, bool) {
	e, ok := m.items[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		delete(m.items, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) PutIfAbsent(ctx context.Context, item Item) error {
	return m.TransactWrite(ctx, []Item{item})
}

func (m *MemoryStore) Put(ctx context.Context, item Item) error {
	body, err := Encode(item.Value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Key] = memEntry{body: body, expiresAt: item.ExpiresAt}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key Key, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return ErrNotFound
	}
	body, err := ApplyUpdate(e.body, u)
	if err != nil {
		return err
	}
	e.body = body
	if !u.ExpiresAt.IsZero() {
		e.expiresAt = u.ExpiresAt
	}
	m.items[key] = e
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key Key, out any) error {
	m.mu.Lock()
	e, ok := m.live(key)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(e.body, out); err != nil {
		return fmt.Errorf("decode item %s: %w", key, err)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) TransactWrite(ctx context.Context, items []Item) error {
	bodies := make([][]byte, len(items))
	for i, item := range items {
		body, err := Encode(item.Value)
		if err != nil {
			return err
		}
		bodies[i] = body
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[Key]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.Key]; dup {
			return fmt.Errorf("transact write: duplicate key %s", item.Key)
		}
		seen[item.Key] = struct{}{}
		if _, ok := m.live(item.Key); ok {
			return ErrPreconditionFailed
		}
	}
	for i, item := range items {
		m.items[item.Key] = memEntry{body: bodies[i], expiresAt: item.ExpiresAt}
	}
	return nil
}

func (m *MemoryStore) Query(ctx context.Context, table, pk string, opts QueryOptions) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for key := range m.items {
		if key.Table != table || key.PK != pk || !strings.HasPrefix(key.SK, opts.Prefix) {
			continue
		}
		e, ok := m.live(key)
		if !ok {
			continue
		}
		out = append(out, Record{Key: key, Body: append(json.RawMessage(nil), e.body...)})
	}

	sort.Slice(out, func(i, j int) bool {
		if opts.Descending {
			return out[i].Key.SK > out[j].Key.SK
		}
		return out[i].Key.SK < out[j].Key.SK
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Len reports the number of live items in a table.
func (m *MemoryStore) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.items {
		if key.Table != table {
			continue
		}
		if _, ok := m.live(key); ok {
			n++
		}
	}
	return n
}
