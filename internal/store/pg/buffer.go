package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/craftline/waroute/internal/store"
)

// BufferStore implements store.BufferStore on Postgres. Entries live in
// buffer_entries ordered by a global sequence; batch timing lives in
// buffer_batches. Drain uses DELETE ... RETURNING so a concurrent check and
// append settle on each entry being dispatched exactly once.
type BufferStore struct {
	db *sql.DB
}

func NewBufferStore(db *sql.DB) *BufferStore {
	return &BufferStore{db: db}
}

func (s *BufferStore) Append(ctx context.Context, key string, payload []byte, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin buffer append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO buffer_entries (conversation_key, payload, arrived_at) VALUES ($1, $2, $3)`,
		key, payload, now,
	); err != nil {
		return false, fmt.Errorf("append buffer entry %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO buffer_batches (conversation_key, first_at, last_at)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (conversation_key) DO UPDATE SET last_at = excluded.last_at`,
		key, now,
	); err != nil {
		return false, fmt.Errorf("touch buffer batch %s: %w", key, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM buffer_entries WHERE conversation_key = $1`, key,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("count buffer entries %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit buffer append: %w", err)
	}
	return count == 1, nil
}

func (s *BufferStore) Batch(ctx context.Context, key string) (*store.BatchInfo, error) {
	var info store.BatchInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT b.conversation_key, b.first_at, b.last_at,
		        (SELECT count(*) FROM buffer_entries e WHERE e.conversation_key = b.conversation_key)
		 FROM buffer_batches b WHERE b.conversation_key = $1`, key,
	).Scan(&info.Key, &info.FirstAt, &info.LastAt, &info.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select buffer batch %s: %w", key, err)
	}
	if info.Count == 0 {
		return nil, nil
	}
	return &info, nil
}

func (s *BufferStore) Drain(ctx context.Context, key string) ([][]byte, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin buffer drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`WITH drained AS (
		   DELETE FROM buffer_entries WHERE conversation_key = $1 RETURNING seq, payload
		 )
		 SELECT payload FROM drained ORDER BY seq`, key,
	)
	if err != nil {
		return nil, fmt.Errorf("drain buffer %s: %w", key, err)
	}

	var payloads [][]byte
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan drained entry: %w", err)
		}
		payloads = append(payloads, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drained entries: %w", err)
	}

	// Remove the batch marker unless a concurrent append slipped in new
	// entries after our delete; those form the start of a fresh batch.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM buffer_batches b
		 WHERE b.conversation_key = $1
		   AND NOT EXISTS (SELECT 1 FROM buffer_entries e WHERE e.conversation_key = $1)`,
		key,
	); err != nil {
		return nil, fmt.Errorf("clear buffer batch %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit buffer drain: %w", err)
	}
	return payloads, nil
}

func (s *BufferStore) StaleKeys(ctx context.Context, maxAge time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.conversation_key FROM buffer_batches b
		 WHERE b.first_at < now() - $1::interval
		   AND EXISTS (SELECT 1 FROM buffer_entries e WHERE e.conversation_key = b.conversation_key)`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale buffer keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan stale key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
