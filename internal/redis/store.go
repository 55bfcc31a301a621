package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/kiosk-booking/internal/store"
)

const maxUpdateRetries = 5

// Store implements store.Store on Redis. Each item is a string key holding
// its JSON body; a per-partition sorted set indexes sort keys for Query.
type Store struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewStore(client *redis.Client, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		client: client,
		clock:  clock,
	}
}

func itemKey(k store.Key) string {
	return fmt.Sprintf("kv|%s|%s|%s", k.Table, k.PK, k.SK)
}

func indexKey(table, pk string) string {
	return fmt.Sprintf("idx|%s|%s", table, pk)
}

// putIfAbsentScript writes every item only if none of the item keys exist.
// KEYS: item1, index1, item2, index2, ...
// ARGV: body1, ttlMillis1, sortKey1, body2, ...
// Returns 0 on success or the 1-based position of the first existing item.
var putIfAbsentScript = redis.NewScript(`
local n = #KEYS / 2
for i = 1, n do
  if redis.call("EXISTS", KEYS[2*i-1]) == 1 then
    return i
  end
end
for i = 1, n do
  local ttl = tonumber(ARGV[3*i-1])
  if ttl > 0 then
    redis.call("SET", KEYS[2*i-1], ARGV[3*i-2], "PX", ttl)
  else
    redis.call("SET", KEYS[2*i-1], ARGV[3*i-2])
  end
  redis.call("ZADD", KEYS[2*i], 0, ARGV[3*i])
end
return 0
`)

var deleteScript = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`)

func (s *Store) PutIfAbsent(ctx context.Context, item store.Item) error {
	return s.TransactWrite(ctx, []store.Item{item})
}

func (s *Store) TransactWrite(ctx context.Context, items []store.Item) error {
	if len(items) == 0 {
		return nil
	}

	now := s.clock.Now()
	keys := make([]string, 0, 2*len(items))
	args := make([]any, 0, 3*len(items))
	seen := make(map[store.Key]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.Key]; dup {
			return fmt.Errorf("transact write: duplicate key %s", item.Key)
		}
		seen[item.Key] = struct{}{}

		body, err := store.Encode(item.Value)
		if err != nil {
			return err
		}
		ttl := store.TTL(item.ExpiresAt, now)
		if ttl < 0 {
			return fmt.Errorf("transact write %s: item already expired", item.Key)
		}
		keys = append(keys, itemKey(item.Key), indexKey(item.Key.Table, item.Key.PK))
		args = append(args, string(body), ttl.Milliseconds(), item.Key.SK)
	}

	res, err := putIfAbsentScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("transact write: %w", err)
	}
	if res != 0 {
		return store.ErrPreconditionFailed
	}
	return nil
}

func (s *Store) Put(ctx context.Context, item store.Item) error {
	body, err := store.Encode(item.Value)
	if err != nil {
		return err
	}
	ttl := store.TTL(item.ExpiresAt, s.clock.Now())
	if ttl < 0 {
		return fmt.Errorf("put %s: item already expired", item.Key)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, itemKey(item.Key), body, ttl)
		pipe.ZAdd(ctx, indexKey(item.Key.Table, item.Key.PK), redis.Z{Member: item.Key.SK})
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", item.Key, err)
	}
	return nil
}

// Update uses optimistic locking: the item key is watched while the new
// body is computed, and the write is retried if another client changed it.
func (s *Store) Update(ctx context.Context, key store.Key, u store.Update) error {
	k := itemKey(key)

	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		next, err := store.ApplyUpdate(body, u)
		if err != nil {
			return err
		}
		args := redis.SetArgs{KeepTTL: true}
		if !u.ExpiresAt.IsZero() {
			ttl := store.TTL(u.ExpiresAt, s.clock.Now())
			if ttl < 0 {
				return fmt.Errorf("new expiry %s is in the past", u.ExpiresAt)
			}
			args = redis.SetArgs{TTL: ttl}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, k, next, args)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err != nil {
			return fmt.Errorf("update %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("update %s: too much contention", key)
}

func (s *Store) Get(ctx context.Context, key store.Key, out any) error {
	body, err := s.client.Get(ctx, itemKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode item %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key store.Key) error {
	keys := []string{itemKey(key), indexKey(key.Table, key.PK)}
	_, err := deleteScript.Run(ctx, s.client, keys, key.SK).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Query walks the partition index in lexical order. Index entries whose
// item has expired are skipped and pruned.
func (s *Store) Query(ctx context.Context, table, pk string, opts store.QueryOptions) ([]store.Record, error) {
	idx := indexKey(table, pk)

	min, max := "-", "+"
	if opts.Prefix != "" {
		min = "[" + opts.Prefix
		max = "[" + opts.Prefix + "\xff"
	}

	var (
		members []string
		err     error
	)
	if opts.Descending {
		members, err = s.client.ZRevRangeByLex(ctx, idx, &redis.ZRangeBy{Min: min, Max: max}).Result()
	} else {
		members, err = s.client.ZRangeByLex(ctx, idx, &redis.ZRangeBy{Min: min, Max: max}).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", idx, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, sk := range members {
		keys[i] = itemKey(store.Key{Table: table, PK: pk, SK: sk})
	}
	bodies, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", idx, err)
	}

	var (
		out   []store.Record
		stale []any
	)
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			stale = append(stale, members[i])
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			continue
		}
		out = append(out, store.Record{
			Key:  store.Key{Table: table, PK: pk, SK: members[i]},
			Body: json.RawMessage(body),
		})
	}

	if len(stale) > 0 {
		// pruning is opportunistic
		_ = s.client.ZRem(ctx, idx, stale...).Err()
	}
	return out, nil
}
