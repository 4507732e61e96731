package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DedupStore implements store.DedupStore on Postgres. The insert-if-absent
// race between concurrent webhook deliveries is settled by the primary key
// on (conversation_key, message_id): exactly one caller wins.
type DedupStore struct {
	db *sql.DB
}

func NewDedupStore(db *sql.DB) *DedupStore {
	return &DedupStore{db: db}
}

func (s *DedupStore) Insert(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error) {
	// An expired record is overwritten rather than treated as a duplicate,
	// which lets the same provider id legitimately reappear after the window.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_entries (conversation_key, message_id, expires_at)
		 VALUES ($1, $2, now() + $3::interval)
		 ON CONFLICT (conversation_key, message_id)
		 DO UPDATE SET expires_at = excluded.expires_at
		 WHERE dedup_entries.expires_at <= now()`,
		key, messageID, fmt.Sprintf("%d seconds", int(ttl.Seconds())),
	)
	if err != nil {
		return false, fmt.Errorf("dedup insert %s/%s: %w", key, messageID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *DedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge dedup entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
