package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"

	"github.com/hackgods/kiosk-booking/internal/store"
)

// KVStore implements store.Store on the kv_items table. Liveness is decided
// against the injected clock, so an expired row is treated as absent even
// before the janitor purges it.
type KVStore struct {
	conn  Conn
	clock clockwork.Clock
}

func NewKVStore(conn Conn, clock clockwork.Clock) *KVStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &KVStore{conn: conn, clock: clock}
}

const insertIfAbsentSQL = `
	INSERT INTO kv_items (tbl, pk, sk, body, expires_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (tbl, pk, sk) DO UPDATE
	SET body = EXCLUDED.body, expires_at = EXCLUDED.expires_at, created_at = now()
	WHERE kv_items.expires_at IS NOT NULL AND kv_items.expires_at <= $6
`

func expiresAt(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *KVStore) PutIfAbsent(ctx context.Context, item store.Item) error {
	body, err := store.Encode(item.Value)
	if err != nil {
		return err
	}
	tag, err := s.conn.Exec(ctx, insertIfAbsentSQL,
		item.Key.Table, item.Key.PK, item.Key.SK, body, expiresAt(item.ExpiresAt), s.clock.Now())
	if err != nil {
		return fmt.Errorf("put if absent %s: %w", item.Key, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrPreconditionFailed
	}
	return nil
}

func (s *KVStore) Put(ctx context.Context, item store.Item) error {
	body, err := store.Encode(item.Value)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO kv_items (tbl, pk, sk, body, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tbl, pk, sk) DO UPDATE
		SET body = EXCLUDED.body, expires_at = EXCLUDED.expires_at
	`, item.Key.Table, item.Key.PK, item.Key.SK, body, expiresAt(item.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put %s: %w", item.Key, err)
	}
	return nil
}

func (s *KVStore) TransactWrite(ctx context.Context, items []store.Item) error {
	if len(items) == 0 {
		return nil
	}

	bodies := make([][]byte, len(items))
	for i, item := range items {
		body, err := store.Encode(item.Value)
		if err != nil {
			return err
		}
		bodies[i] = body
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transact write: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.clock.Now()
	for i, item := range items {
		tag, err := tx.Exec(ctx, insertIfAbsentSQL,
			item.Key.Table, item.Key.PK, item.Key.SK, bodies[i], expiresAt(item.ExpiresAt), now)
		if err != nil {
			return fmt.Errorf("transact write %s: %w", item.Key, err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrPreconditionFailed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transact write: %w", err)
	}
	return nil
}

func (s *KVStore) Update(ctx context.Context, key store.Key, u store.Update) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	var body []byte
	err = tx.QueryRow(ctx, `
		SELECT body FROM kv_items
		WHERE tbl = $1 AND pk = $2 AND sk = $3
		  AND (expires_at IS NULL OR expires_at > $4)
		FOR UPDATE
	`, key.Table, key.PK, key.SK, s.clock.Now()).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}

	next, err := store.ApplyUpdate(body, u)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE kv_items SET body = $4, expires_at = COALESCE($5, expires_at)
		WHERE tbl = $1 AND pk = $2 AND sk = $3
	`, key.Table, key.PK, key.SK, next, expiresAt(u.ExpiresAt)); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, key store.Key, out any) error {
	var body []byte
	err := s.conn.QueryRow(ctx, `
		SELECT body FROM kv_items
		WHERE tbl = $1 AND pk = $2 AND sk = $3
		  AND (expires_at IS NULL OR expires_at > $4)
	`, key.Table, key.PK, key.SK, s.clock.Now()).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *KVStore) Delete(ctx context.Context, key store.Key) error {
	_, err := s.conn.Exec(ctx, `DELETE FROM kv_items WHERE tbl = $1 AND pk = $2 AND sk = $3`,
		key.Table, key.PK, key.SK)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Query(ctx context.Context, table, pk string, opts store.QueryOptions) ([]store.Record, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, err := s.conn.Query(ctx, `
		SELECT sk, body FROM kv_items
		WHERE tbl = $1 AND pk = $2 AND starts_with(sk, $3)
		  AND (expires_at IS NULL OR expires_at > $4)
		ORDER BY sk `+order+`
		LIMIT $5
	`, table, pk, opts.Prefix, s.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", table, pk, err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var (
			sk   string
			body []byte
		)
		if err := rows.Scan(&sk, &body); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", table, pk, err)
		}
		out = append(out, store.Record{
			Key:  store.Key{Table: table, PK: pk, SK: sk},
			Body: json.RawMessage(body),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", table, pk, err)
	}
	return out, nil
}

// PurgeExpired deletes rows whose expiry has passed and returns how many were removed.
func (s *KVStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.conn.Exec(ctx, `
		DELETE FROM kv_items
		WHERE expires_at IS NOT NULL AND expires_at <= $1
	`, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired items: %w", err)
	}
	return tag.RowsAffected(), nil
}
