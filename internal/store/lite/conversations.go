package lite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/craftline/waroute/internal/store"
)

// ConversationStore implements store.ConversationStore on SQLite.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) RecordInbound(ctx context.Context, rec store.InboundRecord) (store.InboundResult, error) {
	var res store.InboundResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin inbound tx: %w", err)
	}
	defer tx.Rollback()

	insRes, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (phone, name) VALUES (?, ?)
		 ON CONFLICT (phone) DO NOTHING`,
		rec.Phone, rec.Name,
	)
	if err != nil {
		return res, fmt.Errorf("upsert conversation %s: %w", rec.Phone, err)
	}
	if n, _ := insRes.RowsAffected(); n > 0 {
		res.ConversationCreated = true
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT id, human_intervention_required FROM conversations WHERE phone = ?`,
		rec.Phone,
	).Scan(&res.ConversationID, &res.InterventionRequired); err != nil {
		return res, fmt.Errorf("select conversation %s: %w", rec.Phone, err)
	}

	mediaJSON, err := mediaToJSON(rec.Media)
	if err != nil {
		return res, err
	}

	msgRes, err := tx.ExecContext(ctx,
		`INSERT INTO messages
		   (conversation_id, direction, sender_type, external_id, has_text,
		    message_text, media_info, status, provider_ts, extra_metadata)
		 VALUES (?, 'inbound', 'customer', ?, ?, ?, ?, 'delivered', ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		res.ConversationID, rec.ExternalID, rec.Text != "",
		nullStr(rec.Text), mediaJSON, rec.ProviderTS, nullRaw(rec.Metadata),
	)
	if err != nil {
		return res, fmt.Errorf("insert inbound message %s: %w", rec.ExternalID, err)
	}
	if n, _ := msgRes.RowsAffected(); n > 0 {
		res.MessageInserted = true
		res.MessageID, _ = msgRes.LastInsertId()
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?`,
			res.MessageID, time.Now().UTC(), res.ConversationID,
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
		 FROM conversations WHERE phone = ?`, phone,
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
		`UPDATE conversations SET human_intervention_required = ?, updated_at = ? WHERE phone = ?`,
		required, time.Now().UTC(), phone,
	)
	if err != nil {
		return false, fmt.Errorf("set intervention %s: %w", phone, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- shared helpers ---

func mediaToJSON(media *store.MediaInfo) ([]byte, error) {
	if media == nil {
		return nil, nil
	}
	b, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("encode media_info: %w", err)
	}
	return b, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
