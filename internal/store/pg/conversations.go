package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/craftline/waroute/internal/store"
)

// ConversationStore implements store.ConversationStore on Postgres.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// RecordInbound runs the conversation upsert, intervention-flag read, and
// inbound message insert as one transaction. Two concurrent deliveries for
// the same phone agree on a single conversation row via the unique phone
// index, and on a single message row via the unique external_id index.
func (s *ConversationStore) RecordInbound(ctx context.Context, rec store.InboundRecord) (store.InboundResult, error) {
	var res store.InboundResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin inbound tx: %w", err)
	}
	defer tx.Rollback()

	// Find-or-create the conversation.
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (phone, name)
		 VALUES ($1, $2)
		 ON CONFLICT (phone) DO NOTHING
		 RETURNING id, human_intervention_required`,
		rec.Phone, rec.Name,
	).Scan(&res.ConversationID, &res.InterventionRequired)
	switch {
	case err == nil:
		res.ConversationCreated = true
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRowContext(ctx,
			`SELECT id, human_intervention_required FROM conversations WHERE phone = $1`,
			rec.Phone,
		).Scan(&res.ConversationID, &res.InterventionRequired); err != nil {
			return res, fmt.Errorf("select conversation %s: %w", rec.Phone, err)
		}
	default:
		return res, fmt.Errorf("upsert conversation %s: %w", rec.Phone, err)
	}

	mediaJSON, err := mediaToJSON(rec.Media)
	if err != nil {
		return res, err
	}

	// Idempotent insert: a replayed external_id after the dedup window is
	// absorbed here instead of producing a second message row.
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages
		   (conversation_id, direction, sender_type, external_id, has_text,
		    message_text, media_info, status, provider_ts, extra_metadata)
		 VALUES ($1, 'inbound', 'customer', $2, $3, $4, $5, 'delivered', $6, $7)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING id`,
		res.ConversationID, rec.ExternalID, rec.Text != "",
		nullStr(rec.Text), mediaJSON, rec.ProviderTS, nullRaw(rec.Metadata),
	).Scan(&res.MessageID)
	switch {
	case err == nil:
		res.MessageInserted = true
	case errors.Is(err, sql.ErrNoRows):
		res.MessageInserted = false
	default:
		return res, fmt.Errorf("insert inbound message %s: %w", rec.ExternalID, err)
	}

	if res.MessageInserted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_id = $1, updated_at = now() WHERE id = $2`,
			res.MessageID, res.ConversationID,
		); err != nil {
			return res, fmt.Errorf("advance last message pointer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit inbound tx: %w", err)
	}
	return res, nil
}

func (s *ConversationStore) GetByPhone(ctx context.Context, phone string) (*store.Conversation, error) {
	var c store.Conversation
	var lastMsg sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, name, human_intervention_required, last_message_id, created_at, updated_at
		 FROM conversations WHERE phone = $1`, phone,
	).Scan(&c.ID, &c.Phone, &c.Name, &c.HumanInterventionRequired, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation %s: %w", phone, err)
	}
	if lastMsg.Valid {
		c.LastMessageID = &lastMsg.Int64
	}
	return &c, nil
}

func (s *ConversationStore) SetIntervention(ctx context.Context, phone string, required bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET human_intervention_required = $1, updated_at = now() WHERE phone = $2`,
		required, phone,
	)
	if err != nil {
		return false, fmt.Errorf("set intervention %s: %w", phone, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
