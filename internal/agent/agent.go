// Package agent is the boundary to the external AI agent service. The
// service owns the model, tools, and per-conversation history; this package
// shapes user turns into its content-block format and mirrors the operator
// takeover state into its sessions.
package agent

import (
	"context"
	"encoding/json"
)

// ContentBlock is one element of a structured agent input.
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image_url", "media"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // data URI for images
	Data     string `json:"data,omitempty"`      // base64 for audio/video
	MimeType string `json:"mime_type,omitempty"`
}

// Input is one user turn handed to the agent.
type Input struct {
	Blocks []ContentBlock `json:"blocks"`
}

// Text builds a plain single-block input.
func Text(s string) Input {
	return Input{Blocks: []ContentBlock{{Type: "text", Text: s}}}
}

// Reply is the agent's answer to one turn.
type Reply struct {
	Text string `json:"content"`
	// Metadata is opaque model bookkeeping persisted alongside the
	// outbound message.
	Metadata json.RawMessage `json:"metadata,omitempty"`
	// InterventionRequested is set when the agent invoked its takeover
	// tool during the turn and a human should own the conversation.
	InterventionRequested bool `json:"intervention_requested,omitempty"`
}

// Responder produces one agent reply per combined user turn. SessionID is
// the conversation key (the customer phone number).
type Responder interface {
	Respond(ctx context.Context, sessionID string, input Input) (*Reply, error)
}

// SessionMirror keeps the agent's session state consistent with the durable
// routing flag. Calls are retried by the worker pool; implementations only
// need to be idempotent.
type SessionMirror interface {
	// SetOperatorActive flips the agent-side takeover state so a later
	// handback resumes with correct context.
	SetOperatorActive(ctx context.Context, sessionID string, active bool) error
	// AppendOperatorMessage records a human operator's outbound text in
	// the agent's history without generating a reply.
	AppendOperatorMessage(ctx context.Context, sessionID, text string) error
}
