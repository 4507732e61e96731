// Package store defines the persistence interfaces for conversations,
// messages, deduplication records, and buffered batches. Implementations
// live in store/pg (Postgres, production) and store/lite (SQLite,
// standalone mode).
package store

import (
	"context"
	"time"
)

// ConversationStore persists conversation rows and their intervention flag.
type ConversationStore interface {
	// RecordInbound performs the find-or-create + flag read + message insert
	// for one inbound event as a single transaction. The message insert is
	// idempotent on ExternalID: a replay reports MessageInserted == false.
	RecordInbound(ctx context.Context, rec InboundRecord) (InboundResult, error)

	// GetByPhone returns the conversation for a phone, or nil if unseen.
	GetByPhone(ctx context.Context, phone string) (*Conversation, error)

	// SetIntervention flips the intervention flag. Returns false if no
	// conversation exists for the phone. Idempotent.
	SetIntervention(ctx context.Context, phone string, required bool) (bool, error)
}

// MessageStore persists outbound messages and delivery-status updates.
type MessageStore interface {
	// InsertOutbound appends an outbound message and advances the
	// conversation's last-message pointer in the same transaction.
	InsertOutbound(ctx context.Context, rec OutboundRecord) (int64, error)

	// UpdateStatus sets the delivery status for the message with the given
	// provider id. Returns false if no such message exists.
	UpdateStatus(ctx context.Context, externalID, status string) (bool, error)

	// GetByExternalID looks up a message by provider id (reply-context).
	GetByExternalID(ctx context.Context, externalID string) (*Message, error)
}

// DedupStore is the atomic set-if-absent record behind the Deduplicator.
type DedupStore interface {
	// Insert records (key, messageID) with the given TTL. Returns true when
	// this caller created the record (the "first delivery" winner), false
	// when an unexpired record already existed.
	Insert(ctx context.Context, key, messageID string, ttl time.Duration) (bool, error)

	// PurgeExpired removes expired records and reports how many.
	PurgeExpired(ctx context.Context) (int64, error)
}

// BufferStore holds not-yet-dispatched canonical messages per conversation
// key. Entries are ordered by arrival; Drain is atomic with Append so each
// message is dispatched exactly once.
type BufferStore interface {
	// Append adds one serialized message. Returns true when the batch was
	// empty before the append (first message of a new batch).
	Append(ctx context.Context, key string, payload []byte, now time.Time) (bool, error)

	// Batch returns the pending batch metadata, or nil when the key is idle.
	Batch(ctx context.Context, key string) (*BatchInfo, error)

	// Drain atomically removes and returns all pending payloads in arrival
	// order. Returns nil when the batch was already drained.
	Drain(ctx context.Context, key string) ([][]byte, error)

	// StaleKeys returns keys whose batches have been pending longer than
	// maxAge without being drained (crash recovery for lost checks).
	StaleKeys(ctx context.Context, maxAge time.Duration) ([]string, error)
}

// Stores bundles every store the service uses.
type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore
	Dedup         DedupStore
	Buffer        BufferStore

	// Close releases the underlying database handle.
	Close func() error
}

// Config selects and configures a storage backend.
type Config struct {
	// Mode is "postgres" (production) or "sqlite" (standalone).
	Mode string
	// PostgresDSN comes from the environment only, never from config files.
	PostgresDSN string
	// SQLitePath is the database file for standalone mode.
	SQLitePath string
}
