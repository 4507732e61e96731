package lite

import (
	"fmt"

	"github.com/craftline/waroute/internal/store"
)

// NewStores creates all stores backed by a single SQLite file.
func NewStores(cfg store.Config) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "waroute.db"
	}

	db, err := OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite stores: %w", err)
	}

	return &store.Stores{
		Conversations: NewConversationStore(db),
		Messages:      NewMessageStore(db),
		Dedup:         NewDedupStore(db),
		Buffer:        NewBufferStore(db),
		Close:         db.Close,
	}, nil
}
