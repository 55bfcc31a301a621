package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPreconditionFailed is returned when a conditional write finds the key already present.
	ErrPreconditionFailed = errors.New("store precondition failed")
	ErrNotFound           = errors.New("store item not found")
)

// Key addresses one item: a table, a partition key and a sort key.
type Key struct {
	Table string
	PK    string
	SK    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Table, k.PK, k.SK)
}

// Item is a write. Value must marshal to a JSON object.
// A zero ExpiresAt means the item never expires.
type Item struct {
	Key       Key
	Value     any
	ExpiresAt time.Time
}

// Update mutates top-level fields of an existing item.
// A non-zero ExpiresAt replaces the item's expiry; otherwise it is kept.
type Update struct {
	Set       map[string]any
	Increment map[string]int64
	ExpiresAt time.Time
}

type QueryOptions struct {
	Prefix     string // sort key prefix, empty matches all
	Descending bool
	Limit      int // 0 means no limit
}

// Record is one item returned by Query.
type Record struct {
	Key  Key
	Body json.RawMessage
}

func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Body, out)
}

// Store is a key-value store with conditional writes.
// Expired items behave as absent for every operation.
type Store interface {
	// PutIfAbsent writes the item only if no live item exists at its key.
	PutIfAbsent(ctx context.Context, item Item) error
	Put(ctx context.Context, item Item) error
	// Update applies u to an existing item and returns ErrNotFound if there is none.
	Update(ctx context.Context, key Key, u Update) error
	Get(ctx context.Context, key Key, out any) error
	Delete(ctx context.Context, key Key) error
	// TransactWrite commits every item with put-if-absent semantics or none of them.
	TransactWrite(ctx context.Context, items []Item) error
	Query(ctx context.Context, table, pk string, opts QueryOptions) ([]Record, error)
}

// Encode marshals an item value and checks it is a JSON object.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("encode item: value must be a JSON object, got %s", data)
	}
	return data, nil
}

// ApplyUpdate returns body with u applied. Missing counters start at zero.
func ApplyUpdate(body []byte, u Update) ([]byte, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	for k, v := range u.Set {
		fields[k] = v
	}
	for k, delta := range u.Increment {
		var cur int64
		switch n := fields[k].(type) {
		case float64:
			cur = int64(n)
		case nil:
		default:
			return nil, fmt.Errorf("increment %s: field is %T, not a number", k, n)
		}
		fields[k] = cur + delta
	}
	return Encode(fields)
}

// TTL converts an absolute expiry into a duration from now.
// It returns 0 for items that never expire and a negative value for items already expired.
func TTL(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d <= 0 {
		return -1
	}
	return d
}
