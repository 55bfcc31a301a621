// Package storetest holds behaviour checks shared by every store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/kiosk-booking/internal/store"
)

// Harness is a fresh backend plus a way to move its notion of time forward.
type Harness struct {
	Store   store.Store
	Clock   *clockwork.FakeClock
	Advance func(d time.Duration)
}

type doc struct {
	Name     string `json:"name"`
	Attempts int64  `json:"attempts"`
}

// Run exercises the store contract against backends built by newHarness.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Run("PutIfAbsentRejectsExisting", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "locks", PK: "doctor#42", SK: "2025-03-10#09:30"}

		require.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "first"}}))
		err := h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "second"}})
		assert.ErrorIs(t, err, store.ErrPreconditionFailed)

		var got doc
		require.NoError(t, h.Store.Get(ctx, key, &got))
		assert.Equal(t, "first", got.Name)
	})

	t.Run("ConcurrentPutIfAbsentHasOneWinner", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "locks", PK: "doctor#7", SK: "2025-03-10#10:00"}

		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "x"}})
			}()
		}
		wg.Wait()
		close(results)

		wins, conflicts := 0, 0
		for err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrPreconditionFailed):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, conflicts)
	})

	t.Run("GetMissing", func(t *testing.T) {
		h := newHarness(t)
		var got doc
		err := h.Store.Get(context.Background(), store.Key{Table: "t", PK: "p", SK: "s"}, &got)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UpdateSetsAndIncrements", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "otp", PK: "+919876543210", SK: "s1"}

		require.NoError(t, h.Store.Put(ctx, store.Item{Key: key, Value: doc{Name: "a"}}))
		require.NoError(t, h.Store.Update(ctx, key, store.Update{Increment: map[string]int64{"attempts": 1}}))
		require.NoError(t, h.Store.Update(ctx, key, store.Update{
			Set:       map[string]any{"name": "b"},
			Increment: map[string]int64{"attempts": 2},
		}))

		var got doc
		require.NoError(t, h.Store.Get(ctx, key, &got))
		assert.Equal(t, "b", got.Name)
		assert.Equal(t, int64(3), got.Attempts)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		h := newHarness(t)
		err := h.Store.Update(context.Background(), store.Key{Table: "otp", PK: "p", SK: "gone"},
			store.Update{Set: map[string]any{"name": "x"}})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteThenPutIfAbsent", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "locks", PK: "lab#1", SK: "2025-01-01#08:00"}

		require.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "a"}}))
		require.NoError(t, h.Store.Delete(ctx, key))
		require.NoError(t, h.Store.Delete(ctx, key))
		assert.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "b"}}))
	})

	t.Run("TransactWriteAllOrNothing", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		taken := store.Key{Table: "locks", PK: "doctor#42", SK: "2025-03-10#09:30"}
		free := store.Key{Table: "locks", PK: "doctor#42", SK: "2025-03-10#10:00"}
		record := store.Key{Table: "appointments", PK: "patient-1", SK: "appt-1"}

		require.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{Key: taken, Value: doc{Name: "other"}}))

		err := h.Store.TransactWrite(ctx, []store.Item{
			{Key: free, Value: doc{Name: "mine"}},
			{Key: record, Value: doc{Name: "mine"}},
			{Key: taken, Value: doc{Name: "mine"}},
		})
		assert.ErrorIs(t, err, store.ErrPreconditionFailed)

		var got doc
		assert.ErrorIs(t, h.Store.Get(ctx, free, &got), store.ErrNotFound)
		assert.ErrorIs(t, h.Store.Get(ctx, record, &got), store.ErrNotFound)

		require.NoError(t, h.Store.TransactWrite(ctx, []store.Item{
			{Key: free, Value: doc{Name: "mine"}},
			{Key: record, Value: doc{Name: "mine"}},
		}))
		require.NoError(t, h.Store.Get(ctx, record, &got))
		assert.Equal(t, "mine", got.Name)
	})

	t.Run("QueryPrefixAndOrder", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		for _, sk := range []string{"2025-03-10#11:00", "2025-03-10#09:30", "2025-03-11#09:30", "2025-03-10#10:00"} {
			require.NoError(t, h.Store.Put(ctx, store.Item{
				Key:   store.Key{Table: "locks", PK: "doctor#42", SK: sk},
				Value: doc{Name: sk},
			}))
		}
		require.NoError(t, h.Store.Put(ctx, store.Item{
			Key:   store.Key{Table: "locks", PK: "doctor#43", SK: "2025-03-10#09:00"},
			Value: doc{Name: "other doctor"},
		}))

		recs, err := h.Store.Query(ctx, "locks", "doctor#42", store.QueryOptions{Prefix: "2025-03-10#"})
		require.NoError(t, err)
		var sks []string
		for _, r := range recs {
			sks = append(sks, r.Key.SK)
		}
		assert.Equal(t, []string{"2025-03-10#09:30", "2025-03-10#10:00", "2025-03-10#11:00"}, sks)

		recs, err = h.Store.Query(ctx, "locks", "doctor#42", store.QueryOptions{Descending: true, Limit: 1})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "2025-03-11#09:30", recs[0].Key.SK)

		var got doc
		require.NoError(t, recs[0].Decode(&got))
		assert.Equal(t, "2025-03-11#09:30", got.Name)
	})

	t.Run("ExpiredItemsAreAbsent", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "otp", PK: "+15550001111", SK: "s1"}

		require.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{
			Key:       key,
			Value:     doc{Name: "short"},
			ExpiresAt: h.Clock.Now().Add(30 * time.Second),
		}))
		var got doc
		require.NoError(t, h.Store.Get(ctx, key, &got))

		h.Advance(31 * time.Second)

		assert.ErrorIs(t, h.Store.Get(ctx, key, &got), store.ErrNotFound)
		assert.ErrorIs(t, h.Store.Update(ctx, key, store.Update{Set: map[string]any{"name": "x"}}), store.ErrNotFound)
		recs, err := h.Store.Query(ctx, "otp", "+15550001111", store.QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.NoError(t, h.Store.PutIfAbsent(ctx, store.Item{Key: key, Value: doc{Name: "again"}}))
	})

	t.Run("UpdateExtendsExpiry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		key := store.Key{Table: "otp", PK: "+15550002222", SK: "s1"}

		require.NoError(t, h.Store.Put(ctx, store.Item{
			Key:       key,
			Value:     doc{Name: "a"},
			ExpiresAt: h.Clock.Now().Add(time.Minute),
		}))
		h.Advance(50 * time.Second)
		require.NoError(t, h.Store.Update(ctx, key, store.Update{
			Set:       map[string]any{"name": "b"},
			ExpiresAt: h.Clock.Now().Add(time.Minute),
		}))
		h.Advance(50 * time.Second)

		var got doc
		require.NoError(t, h.Store.Get(ctx, key, &got))
		assert.Equal(t, "b", got.Name)

		h.Advance(11 * time.Second)
		assert.ErrorIs(t, h.Store.Get(ctx, key, &got), store.ErrNotFound)
	})

	t.Run("RejectsNonObjectValues", func(t *testing.T) {
		h := newHarness(t)
		err := h.Store.Put(context.Background(), store.Item{Key: store.Key{Table: "t", PK: "p", SK: "s"}, Value: "plain"})
		assert.Error(t, err)
	})
}
