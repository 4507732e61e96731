package store

import (
	"encoding/json"
	"time"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Sender types.
const (
	SenderCustomer = "customer"
	SenderAI       = "ai"
	SenderOperator = "operator"
)

// Conversation is one durable customer thread, keyed by phone.
type Conversation struct {
	ID                        int64
	Phone                     string
	Name                      string
	HumanInterventionRequired bool
	LastMessageID             *int64
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// MediaInfo is the JSON media descriptor stored alongside a message.
type MediaInfo struct {
	ID          string `json:"id"`
	MimeType    string `json:"mime_type"`
	Description string `json:"description"`
}

// Message is one append-only message row. Status is the only field mutated
// after creation, by delivery-status webhook events keyed on ExternalID.
type Message struct {
	ID             int64
	ConversationID int64
	Direction      string
	SenderType     string
	SenderID       string
	ExternalID     string
	HasText        bool
	Text           string
	Media          *MediaInfo
	Status         string
	ProviderTS     time.Time
	Metadata       json.RawMessage
	CreatedAt      time.Time
}

// InboundRecord is the input to ConversationStore.RecordInbound.
type InboundRecord struct {
	Phone      string
	Name       string
	ExternalID string
	Text       string
	Media      *MediaInfo
	ProviderTS time.Time
	Metadata   json.RawMessage
}

// InboundResult reports what RecordInbound did inside its transaction.
type InboundResult struct {
	ConversationID       int64
	MessageID            int64
	ConversationCreated  bool
	MessageInserted      bool // false when ExternalID already existed (replay)
	InterventionRequired bool
}

// OutboundRecord is the input to MessageStore.InsertOutbound.
type OutboundRecord struct {
	ConversationID int64
	SenderType     string // SenderAI or SenderOperator
	SenderID       string
	ExternalID     string
	Text           string
	Media          *MediaInfo
	ProviderTS     time.Time
	Metadata       json.RawMessage
}

// BatchInfo describes a pending buffer batch for one conversation key.
type BatchInfo struct {
	Key     string
	Count   int
	FirstAt time.Time
	LastAt  time.Time
}
