// Package intervention owns the operator takeover lifecycle: flipping a
// conversation between AI and human control, and delivering operator
// messages to the customer while keeping the agent's history current.
//
// The routing flag is written durably and synchronously; the agent-side
// mirror is queued to the worker pool and retried. Routing never reads the
// mirror, so a lagging mirror only affects the agent's context quality.
package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftline/waroute/internal/agent"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/whatsapp"
)

// ErrConversationNotFound reports a takeover or handback for a phone
// number with no conversation on record.
var ErrConversationNotFound = fmt.Errorf("conversation not found")

// Sender is the outbound surface the controller needs.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*whatsapp.SendResult, error)
	SendMediaByID(ctx context.Context, to, kind, mediaID, caption string) (*whatsapp.SendResult, error)
	Upload(ctx context.Context, filename, mimeType string, data []byte) (string, error)
}

// Jobs queues retried background work. Satisfied by the worker pool.
type Jobs interface {
	Submit(name string, run func(context.Context) error) error
}

// Controller implements takeover, handback, and the operator send paths.
type Controller struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	mirror        agent.SessionMirror
	sender        Sender
	jobs          Jobs
	hub           *events.Hub
	media         *BackendClient // nil when no operator backend is configured
}

// New creates a Controller. media may be nil when the operator console has
// no media backend.
func New(
	conversations store.ConversationStore,
	messages store.MessageStore,
	mirror agent.SessionMirror,
	sender Sender,
	jobs Jobs,
	hub *events.Hub,
	media *BackendClient,
) *Controller {
	return &Controller{
		conversations: conversations,
		messages:      messages,
		mirror:        mirror,
		sender:        sender,
		jobs:          jobs,
		hub:           hub,
		media:         media,
	}
}

// Takeover puts the conversation under operator control. Idempotent: taking
// over an already-held conversation succeeds and re-queues the mirror sync.
func (c *Controller) Takeover(ctx context.Context, phone, actor string) error {
	return c.setIntervention(ctx, phone, actor, true)
}

// Handback returns the conversation to the AI.
func (c *Controller) Handback(ctx context.Context, phone, actor string) error {
	return c.setIntervention(ctx, phone, actor, false)
}

func (c *Controller) setIntervention(ctx context.Context, phone, actor string, required bool) error {
	found, err := c.conversations.SetIntervention(ctx, phone, required)
	if err != nil {
		return fmt.Errorf("set intervention for %s: %w", phone, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, phone)
	}

	kind := events.KindTakeover
	jobName := "mirror_takeover"
	if !required {
		kind = events.KindHandback
		jobName = "mirror_handback"
	}
	slog.Info("intervention flag updated", "phone", phone, "required", required, "actor", actor)

	// Mirror to the agent session off the request path. The flag above is
	// what routing reads, so a delayed mirror cannot misroute messages.
	if err := c.jobs.Submit(jobName, func(jctx context.Context) error {
		return c.mirror.SetOperatorActive(jctx, phone, required)
	}); err != nil {
		slog.Error("mirror sync not queued", "phone", phone, "required", required, "error", err)
	}

	c.hub.Broadcast(events.Event{Kind: kind, Phone: phone, Actor: actor})
	return nil
}

// SendText delivers an operator text message: send to the customer, persist
// the outbound row, then queue the agent history append. Returns the
// provider message id.
func (c *Controller) SendText(ctx context.Context, phone, text, senderID string) (string, error) {
	sent, err := c.sender.SendText(ctx, phone, text)
	if err != nil {
		return "", fmt.Errorf("send operator message to %s: %w", phone, err)
	}

	c.persistOperatorMessage(ctx, phone, senderID, sent.MessageID, text, nil)
	c.queueHistoryAppend(phone, text)
	return sent.MessageID, nil
}

// QueueMedia schedules the slow media path in the background: fetch the
// file from the operator backend, upload it to the provider, send, persist.
// The HTTP handler answers 202 as soon as this returns.
func (c *Controller) QueueMedia(phone, fileID, mimeType, caption, senderID string) error {
	if c.media == nil {
		return fmt.Errorf("operator media backend not configured")
	}
	return c.jobs.Submit("operator_media", func(ctx context.Context) error {
		return c.sendMedia(ctx, phone, fileID, mimeType, caption, senderID)
	})
}

func (c *Controller) sendMedia(ctx context.Context, phone, fileID, mimeType, caption, senderID string) error {
	data, err := c.media.Fetch(ctx, fileID, mimeType)
	if err != nil {
		return fmt.Errorf("fetch operator media %s: %w", fileID, err)
	}

	kind, ext := mediaKind(mimeType)
	mediaID, err := c.sender.Upload(ctx, fileID+ext, mimeType, data)
	if err != nil {
		return fmt.Errorf("upload operator media %s: %w", fileID, err)
	}

	sent, err := c.sender.SendMediaByID(ctx, phone, kind, mediaID, caption)
	if err != nil {
		return fmt.Errorf("send operator media %s to %s: %w", mediaID, phone, err)
	}

	c.persistOperatorMessage(ctx, phone, senderID, sent.MessageID, caption,
		&store.MediaInfo{ID: mediaID, MimeType: mimeType})
	if caption != "" {
		c.queueHistoryAppend(phone, caption)
	}
	slog.Info("operator media delivered", "phone", phone, "media_id", mediaID, "kind", kind)
	return nil
}

// persistOperatorMessage records the outbound row. A store failure here is
// logged, not returned: the customer already has the message and a retry
// would resend it.
func (c *Controller) persistOperatorMessage(ctx context.Context, phone, senderID, externalID, text string, media *store.MediaInfo) {
	conv, err := c.conversations.GetByPhone(ctx, phone)
	if err != nil || conv == nil {
		slog.Error("operator message not persisted, conversation lookup failed", "phone", phone, "error", err)
		return
	}

	if _, err := c.messages.InsertOutbound(ctx, store.OutboundRecord{
		ConversationID: conv.ID,
		SenderType:     store.SenderOperator,
		SenderID:       senderID,
		ExternalID:     externalID,
		Text:           text,
		Media:          media,
		ProviderTS:     time.Now().UTC(),
	}); err != nil {
		slog.Error("operator message not persisted", "phone", phone, "external_id", externalID, "error", err)
	}
}

func (c *Controller) queueHistoryAppend(phone, text string) {
	if err := c.jobs.Submit("mirror_operator_message", func(ctx context.Context) error {
		return c.mirror.AppendOperatorMessage(ctx, phone, text)
	}); err != nil {
		slog.Error("operator history append not queued", "phone", phone, "error", err)
	}
}

// mediaKind maps a mime type to the provider message type and a filename
// extension for the upload.
func mediaKind(mimeType string) (kind, ext string) {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return "image", ".jpg"
	case "image/png":
		return "image", ".png"
	case "image/webp":
		return "image", ".webp"
	case "video/mp4":
		return "video", ".mp4"
	case "video/3gpp":
		return "video", ".3gp"
	case "audio/aac":
		return "audio", ".aac"
	case "audio/mp4":
		return "audio", ".m4a"
	case "audio/mpeg":
		return "audio", ".mp3"
	case "audio/amr":
		return "audio", ".amr"
	case "audio/ogg":
		return "audio", ".ogg"
	case "application/pdf":
		return "document", ".pdf"
	default:
		return "document", ".bin"
	}
}
