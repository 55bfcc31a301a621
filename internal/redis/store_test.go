package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/kiosk-booking/internal/store"
	"github.com/hackgods/kiosk-booking/internal/store/storetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *clockwork.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	return NewStore(client, clock), mr, clock
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		s, mr, clock := newTestStore(t)
		return storetest.Harness{
			Store: s,
			Clock: clock,
			Advance: func(d time.Duration) {
				clock.Advance(d)
				mr.FastForward(d)
			},
		}
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()
	key := store.Key{Table: "slot_locks", PK: "doctor#42", SK: "2025-03-10#09:30"}

	require.NoError(t, s.PutIfAbsent(ctx, store.Item{Key: key, Value: map[string]any{"patientId": "abc123"}}))

	assert.True(t, mr.Exists("kv|slot_locks|doctor#42|2025-03-10#09:30"))
	members, err := mr.ZMembers("idx|slot_locks|doctor#42")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-10#09:30"}, members)

	require.NoError(t, s.Delete(ctx, key))
	assert.False(t, mr.Exists("kv|slot_locks|doctor#42|2025-03-10#09:30"))
	assert.False(t, mr.Exists("idx|slot_locks|doctor#42"))
}

func TestStore_PutIfAbsentSetsTTL(t *testing.T) {
	s, mr, clock := newTestStore(t)
	key := store.Key{Table: "otp_sessions", PK: "+919876543210", SK: "s1"}

	require.NoError(t, s.PutIfAbsent(context.Background(), store.Item{
		Key:       key,
		Value:     map[string]any{"code": "123456"},
		ExpiresAt: clock.Now().Add(5 * time.Minute),
	}))
	assert.Equal(t, 5*time.Minute, mr.TTL("kv|otp_sessions|+919876543210|s1"))
}

func TestStore_UpdateKeepsTTL(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()
	key := store.Key{Table: "otp_sessions", PK: "+919876543210", SK: "s1"}

	require.NoError(t, s.Put(ctx, store.Item{
		Key:       key,
		Value:     map[string]any{"attempts": 0},
		ExpiresAt: clock.Now().Add(2 * time.Minute),
	}))
	require.NoError(t, s.Update(ctx, key, store.Update{Increment: map[string]int64{"attempts": 1}}))

	assert.Equal(t, 2*time.Minute, mr.TTL("kv|otp_sessions|+919876543210|s1"))
}

func TestStore_TransactWriteRejectsExpiredItem(t *testing.T) {
	s, _, clock := newTestStore(t)
	err := s.TransactWrite(context.Background(), []store.Item{{
		Key:       store.Key{Table: "t", PK: "p", SK: "s"},
		Value:     map[string]any{"a": 1},
		ExpiresAt: clock.Now().Add(-time.Second),
	}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrPreconditionFailed)
}

func TestStore_QueryPrunesStaleIndexEntries(t *testing.T) {
	s, mr, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, store.Item{
		Key:       store.Key{Table: "otp_sessions", PK: "+15550001111", SK: "a"},
		Value:     map[string]any{"n": 1},
		ExpiresAt: clock.Now().Add(time.Minute),
	}))
	require.NoError(t, s.Put(ctx, store.Item{
		Key:   store.Key{Table: "otp_sessions", PK: "+15550001111", SK: "b"},
		Value: map[string]any{"n": 2},
	}))
	mr.FastForward(2 * time.Minute)

	recs, err := s.Query(ctx, "otp_sessions", "+15550001111", store.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Key.SK)

	members, err := mr.ZMembers("idx|otp_sessions|+15550001111")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}
