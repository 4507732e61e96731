package buffer

import (
	"strings"

	"github.com/craftline/waroute/internal/wamsg"
)

// Combine merges a batch of canonical messages into one, preserving arrival
// order. All-text batches concatenate their bodies with newlines, keeping
// phone/name from the first message and message-id/timestamp/reply-context
// from the last. Batches containing media take the media identity from the
// last media message and use the joined texts (captions included) as its
// caption. A single-message batch passes through unchanged.
func Combine(batch []wamsg.Message) wamsg.Message {
	if len(batch) == 0 {
		return wamsg.Message{}
	}
	if len(batch) == 1 {
		return batch[0]
	}

	first := batch[0]
	last := batch[len(batch)-1]

	var texts []string
	var lastMedia *wamsg.Message
	for i := range batch {
		if batch[i].Text != "" {
			texts = append(texts, batch[i].Text)
		}
		if batch[i].Class == wamsg.ClassMedia {
			lastMedia = &batch[i]
		}
	}
	joined := strings.Join(texts, "\n")

	if lastMedia != nil {
		return wamsg.Message{
			Class:     wamsg.ClassMedia,
			Category:  lastMedia.Category,
			Timestamp: lastMedia.Timestamp,
			Phone:     first.Phone,
			Name:      first.Name,
			MessageID: lastMedia.MessageID,
			Text:      joined,
			MediaID:   lastMedia.MediaID,
			MimeType:  lastMedia.MimeType,
			ReplyTo:   lastMedia.ReplyTo,
		}
	}

	return wamsg.Message{
		Class:     wamsg.ClassText,
		Timestamp: last.Timestamp,
		Phone:     first.Phone,
		Name:      first.Name,
		MessageID: last.MessageID,
		Text:      joined,
		ReplyTo:   last.ReplyTo,
	}
}
