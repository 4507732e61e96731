package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/craftline/waroute/internal/store"
)

// MessageStore implements store.MessageStore on Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) InsertOutbound(ctx context.Context, rec store.OutboundRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbound tx: %w", err)
	}
	defer tx.Rollback()

	mediaJSON, err := mediaToJSON(rec.Media)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO messages
		   (conversation_id, direction, sender_type, sender_id, external_id,
		    has_text, message_text, media_info, status, provider_ts, extra_metadata)
		 VALUES ($1, 'outbound', $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
		 RETURNING id`,
		rec.ConversationID, rec.SenderType, nullStr(rec.SenderID), nullStr(rec.ExternalID),
		rec.Text != "", nullStr(rec.Text), mediaJSON, rec.ProviderTS, nullRaw(rec.Metadata),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert outbound message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = $1, updated_at = now() WHERE id = $2`,
		id, rec.ConversationID,
	); err != nil {
		return 0, fmt.Errorf("advance last message pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbound tx: %w", err)
	}
	return id, nil
}

func (s *MessageStore) UpdateStatus(ctx context.Context, externalID, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE external_id = $2`,
		status, externalID,
	)
	if err != nil {
		return false, fmt.Errorf("update message status %s: %w", externalID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *MessageStore) GetByExternalID(ctx context.Context, externalID string) (*store.Message, error) {
	var m store.Message
	var text, senderID sql.NullString
	var mediaJSON, metadata []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, direction, sender_type, sender_id, external_id,
		        has_text, message_text, media_info, status, provider_ts, extra_metadata, created_at
		 FROM messages WHERE external_id = $1`, externalID,
	).Scan(&m.ID, &m.ConversationID, &m.Direction, &m.SenderType, &senderID, &m.ExternalID,
		&m.HasText, &text, &mediaJSON, &m.Status, &m.ProviderTS, &metadata, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select message %s: %w", externalID, err)
	}

	m.Text = text.String
	m.SenderID = senderID.String
	m.Metadata = metadata
	if len(mediaJSON) > 0 {
		var media store.MediaInfo
		if err := json.Unmarshal(mediaJSON, &media); err != nil {
			return nil, fmt.Errorf("decode media_info for %s: %w", externalID, err)
		}
		m.Media = &media
	}
	return &m, nil
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
