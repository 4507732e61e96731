// Package router decides what happens to each combined inbound turn: new
// conversations and AI-owned conversations get an agent reply, conversations
// under operator control are persisted and surfaced to the console, replays
// are absorbed.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftline/waroute/internal/agent"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
)

// Sender is the outbound message surface the router needs.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*whatsapp.SendResult, error)
	MarkReadWithTyping(ctx context.Context, messageID string) error
}

// Escalator flips a conversation to operator control. Implemented by the
// intervention controller.
type Escalator interface {
	Takeover(ctx context.Context, phone, actor string) error
}

// Options carry the router's tunables.
type Options struct {
	// ApologyText is sent when the agent fails after retries so the
	// customer is not left on read.
	ApologyText string
}

func (o *Options) defaults() {
	if o.ApologyText == "" {
		o.ApologyText = "Sorry, something went wrong on our side. We'll get back to you shortly."
	}
}

// Router wires the conversation store, agent, and outbound sender together.
type Router struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	inputs        *agent.InputBuilder
	responder     agent.Responder
	sender        Sender
	escalator     Escalator
	hub           *events.Hub
	opts          Options
	tracer        trace.Tracer
}

// New creates a Router. escalator may be set later via SetEscalator when
// construction order requires it.
func New(
	conversations store.ConversationStore,
	messages store.MessageStore,
	inputs *agent.InputBuilder,
	responder agent.Responder,
	sender Sender,
	hub *events.Hub,
	opts Options,
) *Router {
	opts.defaults()
	return &Router{
		conversations: conversations,
		messages:      messages,
		inputs:        inputs,
		responder:     responder,
		sender:        sender,
		hub:           hub,
		opts:          opts,
		tracer:        otel.Tracer("waroute/router"),
	}
}

// SetEscalator attaches the intervention controller. The controller needs
// the store and agent mirror, the router needs the controller, so the loop
// is closed after both exist.
func (r *Router) SetEscalator(e Escalator) { r.escalator = e }

// HandleInbound routes one combined customer turn. It is the buffer
// engine's dispatch target and runs under the worker pool's retry budget,
// so every step before the side effects must stay idempotent.
func (r *Router) HandleInbound(ctx context.Context, msg wamsg.Message) error {
	ctx, span := r.tracer.Start(ctx, "router.handle_inbound",
		trace.WithAttributes(
			attribute.String("message.id", msg.MessageID),
			attribute.String("message.class", msg.Class),
		))
	defer span.End()

	res, err := r.conversations.RecordInbound(ctx, inboundRecord(msg))
	if err != nil {
		return fmt.Errorf("record inbound %s: %w", msg.MessageID, err)
	}

	if !res.MessageInserted {
		// The external id already exists: a provider replay that outlived
		// the dedup window. The original turn already got its reply.
		slog.Info("replayed message absorbed", "message_id", msg.MessageID, "phone", msg.Phone)
		return nil
	}

	if res.ConversationCreated {
		slog.Info("conversation started", "phone", msg.Phone, "conversation_id", res.ConversationID)
	}

	r.hub.Broadcast(events.Event{
		Kind:           events.KindCustomerMessage,
		Phone:          msg.Phone,
		ConversationID: res.ConversationID,
		MessageID:      msg.MessageID,
		Text:           msg.Text,
	})

	if res.InterventionRequired {
		slog.Info("message held for operator", "phone", msg.Phone, "conversation_id", res.ConversationID)
		r.hub.Broadcast(events.Event{
			Kind:           events.KindHeldForOperator,
			Phone:          msg.Phone,
			ConversationID: res.ConversationID,
			MessageID:      msg.MessageID,
			Text:           msg.Text,
		})
		return nil
	}

	return r.respondWithAI(ctx, res.ConversationID, msg)
}

// respondWithAI runs one agent turn and delivers the reply. Failures after
// the send are logged, not returned: a retry would double-message the
// customer.
func (r *Router) respondWithAI(ctx context.Context, conversationID int64, msg wamsg.Message) error {
	start := time.Now()

	if err := r.sender.MarkReadWithTyping(ctx, msg.MessageID); err != nil {
		slog.Debug("typing indicator failed", "message_id", msg.MessageID, "error", err)
	}

	input, err := r.inputs.Build(ctx, msg)
	if err != nil {
		return fmt.Errorf("build agent input for %s: %w", msg.MessageID, err)
	}

	reply, err := r.responder.Respond(ctx, msg.Phone, input)
	if err != nil {
		slog.Error("agent turn failed, sending apology", "phone", msg.Phone, "error", err)
		reply = &agent.Reply{Text: r.opts.ApologyText}
	}

	sent, err := r.sender.SendText(ctx, msg.Phone, reply.Text)
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", msg.Phone, err)
	}

	if _, err := r.messages.InsertOutbound(ctx, store.OutboundRecord{
		ConversationID: conversationID,
		SenderType:     store.SenderAI,
		ExternalID:     sent.MessageID,
		Text:           reply.Text,
		ProviderTS:     time.Now().UTC(),
		Metadata:       reply.Metadata,
	}); err != nil {
		slog.Error("outbound persist failed", "external_id", sent.MessageID, "error", err)
	}

	r.hub.Broadcast(events.Event{
		Kind:           events.KindAIReply,
		Phone:          msg.Phone,
		ConversationID: conversationID,
		MessageID:      sent.MessageID,
		Text:           reply.Text,
	})

	elapsed := time.Since(start)
	slog.Info("turn processed", "phone", msg.Phone, "elapsed", elapsed)
	if elapsed > 10*time.Second {
		slog.Warn("slow turn", "phone", msg.Phone, "elapsed", elapsed)
	}

	if reply.InterventionRequested && r.escalator != nil {
		if err := r.escalator.Takeover(ctx, msg.Phone, "agent"); err != nil {
			slog.Error("agent-requested takeover failed", "phone", msg.Phone, "error", err)
		}
	}
	return nil
}

// HandleStatus applies one delivery-status update by provider message id.
// Unknown ids are logged and dropped: status events can outrun the send
// path's insert or describe messages sent outside this system.
func (r *Router) HandleStatus(ctx context.Context, su wamsg.StatusUpdate) error {
	found, err := r.messages.UpdateStatus(ctx, su.MessageID, su.Status)
	if err != nil {
		return fmt.Errorf("status update %s -> %s: %w", su.MessageID, su.Status, err)
	}
	if !found {
		slog.Warn("status update for unknown message", "external_id", su.MessageID, "status", su.Status)
		return nil
	}

	r.hub.Broadcast(events.Event{
		Kind:      events.KindStatusUpdate,
		MessageID: su.MessageID,
		Status:    su.Status,
	})
	return nil
}

func inboundRecord(msg wamsg.Message) store.InboundRecord {
	rec := store.InboundRecord{
		Phone:      msg.Phone,
		Name:       msg.Name,
		ExternalID: msg.MessageID,
		Text:       msg.Text,
		ProviderTS: msg.Timestamp,
	}
	if msg.Class == wamsg.ClassMedia {
		rec.Media = &store.MediaInfo{ID: msg.MediaID, MimeType: msg.MimeType}
	}
	return rec
}
