// Package wamsg defines the canonical, provider-agnostic message shape that
// the buffering and routing layers consume, plus the normalizer that produces
// it from WhatsApp Cloud API webhook payloads.
package wamsg

import "time"

// Message classes.
const (
	ClassText  = "text"
	ClassMedia = "media"
)

// Delivery statuses reported by the provider for outbound messages.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is one normalized inbound event. Phone is the conversation key:
// it addresses the buffer, the conversation row, and the AI session thread.
type Message struct {
	Class     string    `json:"class"`              // ClassText or ClassMedia
	Category  string    `json:"category,omitempty"` // media subtype: "image", "audio", "video"
	Timestamp time.Time `json:"timestamp"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	MessageID string    `json:"message_id"` // provider message id, unique in the provider's id-space
	Text      string    `json:"text,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	ReplyTo   string    `json:"reply_to,omitempty"` // provider id of the message this replies to
}

// HasText reports whether the message carries a text body or caption.
func (m Message) HasText() bool { return m.Text != "" }

// StatusUpdate is a delivery-status event for a previously sent message,
// correlated by the provider message id.
type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Event kinds produced by Normalize.
type EventKind int

const (
	KindInbound EventKind = iota
	KindStatus
	KindUnsupported
)

// Event is the union of the shapes a webhook POST can carry.
type Event struct {
	Kind    EventKind
	Message *Message      // set when Kind == KindInbound
	Status  *StatusUpdate // set when Kind == KindStatus
	RawType string        // provider message type, for logging unsupported shapes
}
