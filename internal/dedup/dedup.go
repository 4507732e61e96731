// Package dedup absorbs duplicate webhook deliveries. Providers retry
// webhooks that are not acknowledged fast enough, so the same provider
// message id can arrive several times within their retry window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/craftline/waroute/internal/store"
)

// Deduplicator answers "have I seen this provider message id before" with a
// time-bounded, atomic set-if-absent record. The first delivery to insert
// the record wins; every later delivery inside the TTL is a duplicate.
type Deduplicator struct {
	store store.DedupStore
	ttl   time.Duration
}

// New creates a Deduplicator. The TTL must exceed the provider's maximum
// retry interval (30-120s observed for WhatsApp) so retries are absorbed;
// ids reappearing after expiry are treated as new deliveries and settled
// against the message table's unique external_id instead.
func New(st store.DedupStore, ttl time.Duration) *Deduplicator {
	return &Deduplicator{store: st, ttl: ttl}
}

// IsDuplicate reports whether (messageID, conversationKey) was already seen
// within the TTL. A store failure is returned loudly: the caller cannot
// determine duplication and is expected to log and proceed rather than
// drop the message.
func (d *Deduplicator) IsDuplicate(ctx context.Context, messageID, conversationKey string) (bool, error) {
	inserted, err := d.store.Insert(ctx, conversationKey, messageID, d.ttl)
	if err != nil {
		return false, fmt.Errorf("dedup check %s/%s: %w", conversationKey, messageID, err)
	}
	return !inserted, nil
}
