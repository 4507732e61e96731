package pg

import (
	"fmt"

	"github.com/craftline/waroute/internal/store"
)

// NewStores creates all stores backed by Postgres.
func NewStores(cfg store.Config) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres stores: %w", err)
	}

	return &store.Stores{
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Dedup:         NewDedupStore(db),
		Buffer:        NewBufferStore(db),
		Close:         db.Close,
	}, nil
}
