package wamsg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Cloud API webhook payload shapes. Only the fields this service reads.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value changeValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type changeValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string        `json:"id"`
		Type      string        `json:"type"`
		Timestamp string        `json:"timestamp"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text"`
		Image   *mediaPart `json:"image"`
		Audio   *mediaPart `json:"audio"`
		Video   *mediaPart `json:"video"`
		Context *struct {
			ID string `json:"id"`
		} `json:"context"`
	} `json:"messages"`
	Statuses []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"statuses"`
}

type mediaPart struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// Normalize converts a raw webhook POST body into a canonical Event.
// Unsupported message types yield KindUnsupported rather than an error so the
// webhook handler can acknowledge them without further processing.
func Normalize(body []byte) (Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Event{}, fmt.Errorf("parse webhook payload: %w", err)
	}

	if len(payload.Entry) == 0 || len(payload.Entry[0].Changes) == 0 {
		return Event{}, fmt.Errorf("webhook payload has no entry changes")
	}
	value := payload.Entry[0].Changes[0].Value

	if len(value.Statuses) > 0 {
		st := value.Statuses[0]
		return Event{
			Kind:   KindStatus,
			Status: &StatusUpdate{MessageID: st.ID, Status: st.Status},
		}, nil
	}

	if len(value.Messages) == 0 || len(value.Contacts) == 0 {
		return Event{Kind: KindUnsupported, RawType: "unknown"}, nil
	}

	raw := value.Messages[0]
	contact := value.Contacts[0]

	msg := Message{
		Phone:     contact.WaID,
		Name:      contact.Profile.Name,
		MessageID: raw.ID,
		Timestamp: parseEpoch(raw.Timestamp),
	}
	if raw.Context != nil {
		msg.ReplyTo = raw.Context.ID
	}

	switch raw.Type {
	case "text":
		if raw.Text == nil {
			return Event{Kind: KindUnsupported, RawType: raw.Type}, nil
		}
		msg.Class = ClassText
		msg.Text = raw.Text.Body

	case "image", "audio", "video":
		var part *mediaPart
		switch raw.Type {
		case "image":
			part = raw.Image
		case "audio":
			part = raw.Audio
		case "video":
			part = raw.Video
		}
		if part == nil {
			return Event{Kind: KindUnsupported, RawType: raw.Type}, nil
		}
		msg.Class = ClassMedia
		msg.Category = raw.Type
		msg.MediaID = part.ID
		msg.MimeType = part.MimeType
		msg.Text = part.Caption

	default:
		// Stickers, reactions, locations, etc. are acknowledged but not routed.
		return Event{Kind: KindUnsupported, RawType: raw.Type}, nil
	}

	return Event{Kind: KindInbound, Message: &msg}, nil
}

func parseEpoch(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
