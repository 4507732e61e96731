package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
)

// Downloader fetches media bytes by provider media id.
type Downloader interface {
	Download(ctx context.Context, mediaID string) (*whatsapp.Media, error)
}

// InputBuilder turns a canonical inbound message into agent input. Replies
// to earlier messages are resolved through the message store so the agent
// sees the quoted text or media alongside the new message.
type InputBuilder struct {
	messages     store.MessageStore
	media        Downloader
	maxImageEdge int
}

// NewInputBuilder creates an InputBuilder. maxImageEdge bounds the longest
// side of inbound images before they are base64-encoded for the agent;
// zero disables downscaling.
func NewInputBuilder(messages store.MessageStore, media Downloader, maxImageEdge int) *InputBuilder {
	return &InputBuilder{messages: messages, media: media, maxImageEdge: maxImageEdge}
}

// Build shapes msg into an Input. Lookup and download failures degrade to
// a text-only turn rather than dropping the message.
func (b *InputBuilder) Build(ctx context.Context, msg wamsg.Message) (Input, error) {
	switch msg.Class {
	case wamsg.ClassMedia:
		return b.buildMedia(ctx, msg)
	default:
		if msg.ReplyTo != "" {
			return b.buildReply(ctx, msg)
		}
		return Text(msg.Text), nil
	}
}

// buildMedia handles a standalone media message, downloading the bytes and
// pairing them with the caption.
func (b *InputBuilder) buildMedia(ctx context.Context, msg wamsg.Message) (Input, error) {
	dl, err := b.media.Download(ctx, msg.MediaID)
	if err != nil {
		slog.Warn("media download failed, degrading to caption only",
			"media_id", msg.MediaID, "phone", msg.Phone, "error", err)
		if msg.Text == "" {
			return Input{}, fmt.Errorf("download media %s: %w", msg.MediaID, err)
		}
		return Text(msg.Text), nil
	}

	block := b.mediaBlock(msg.Category, dl.Data, dl.MimeType)
	intro := fmt.Sprintf("User sent a %s with the caption: %s. Process this appropriately.", msg.Category, msg.Text)
	return Input{Blocks: []ContentBlock{{Type: "text", Text: intro}, block}}, nil
}

// buildReply handles a text message quoting an earlier message.
func (b *InputBuilder) buildReply(ctx context.Context, msg wamsg.Message) (Input, error) {
	quoted, err := b.messages.GetByExternalID(ctx, msg.ReplyTo)
	if err != nil || quoted == nil {
		if err != nil {
			slog.Warn("reply context lookup failed", "external_id", msg.ReplyTo, "error", err)
		}
		return Text(msg.Text), nil
	}

	if quoted.Media != nil {
		dl, err := b.media.Download(ctx, quoted.Media.ID)
		if err != nil {
			slog.Warn("reply media download failed, using text context",
				"media_id", quoted.Media.ID, "error", err)
			return Text(replyPrompt(msg.Text, quoted.Text)), nil
		}
		category := categoryFor(quoted.Media.MimeType)
		prompt := fmt.Sprintf(`The user's reply message is: %s
Generate a response that takes into account both the content of the %s and the user's reply.
Respond naturally, as if continuing the conversation, without repeating the %s description.
If the user's reply asks a question, answer it using the %s context.
If it's just a reaction, respond in a relevant, concise way.`, msg.Text, category, category, category)

		return Input{Blocks: []ContentBlock{
			{Type: "text", Text: prompt},
			b.mediaBlock(category, dl.Data, dl.MimeType),
		}}, nil
	}

	if quoted.Text != "" {
		return Text(replyPrompt(msg.Text, quoted.Text)), nil
	}
	return Text(msg.Text), nil
}

func replyPrompt(reply, previous string) string {
	return fmt.Sprintf(`The user's reply message is: %s
The previous message in the conversation was: %s
Generate a response that takes into account both the previous message and the user's reply.
Respond naturally, as if continuing the conversation, without repeating the previous message.
If the user's reply asks a question, answer it using the previous message context.
If it's just a reaction, respond in a relevant, concise way.`, reply, previous)
}

// mediaBlock builds the content block for one media object. Images go as a
// data URI after downscaling; audio and video go as raw base64 blocks.
func (b *InputBuilder) mediaBlock(category string, data []byte, mimeType string) ContentBlock {
	if category == "image" {
		if !strings.HasPrefix(mimeType, "image/") {
			slog.Warn("unexpected image mime type, defaulting to image/jpeg", "mime_type", mimeType)
			mimeType = "image/jpeg"
		}
		data, mimeType = shrinkImage(data, mimeType, b.maxImageEdge)
		encoded := base64.StdEncoding.EncodeToString(data)
		return ContentBlock{
			Type:     "image_url",
			ImageURL: "data:" + mimeType + ";base64," + encoded,
		}
	}

	// Voice notes arrive as audio/ogg; codecs=opus, which the agent's
	// transcoder rejects.
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return ContentBlock{
		Type:     "media",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}
}

// categoryFor maps a mime type to the coarse media category.
func categoryFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "file"
	}
}
