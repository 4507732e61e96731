package lite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DedupStore implements store.DedupStore on SQLite. Expiry is tracked as
// unix seconds; the single-writer connection makes the upsert atomic.
type DedupStore struct {
	db *sql.DB
}

func NewDedupStore(db *sql.DB) *DedupStore {
	return &DedupStore{db: db}
}

func (s *DedupStore) Insert(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_entries (conversation_key, message_id, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (conversation_key, message_id)
		 DO UPDATE SET expires_at = excluded.expires_at
		 WHERE dedup_entries.expires_at <= ?`,
		key, messageID, now+int64(ttl.Seconds()), now,
	)
	if err != nil {
		return false, fmt.Errorf("dedup insert %s/%s: %w", key, messageID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *DedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE expires_at <= ?`, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge dedup entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
