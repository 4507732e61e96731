package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/craftline/waroute/internal/agent"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
)

type fakeConversations struct {
	result   store.InboundResult
	err      error
	recorded []store.InboundRecord
}

func (f *fakeConversations) RecordInbound(_ context.Context, rec store.InboundRecord) (store.InboundResult, error) {
	f.recorded = append(f.recorded, rec)
	return f.result, f.err
}

func (f *fakeConversations) GetByPhone(context.Context, string) (*store.Conversation, error) {
	return nil, nil
}

func (f *fakeConversations) SetIntervention(context.Context, string, bool) (bool, error) {
	return true, nil
}

type fakeMessages struct {
	outbound     []store.OutboundRecord
	statusCalls  map[string]string
	statusFound  bool
	byExternalID *store.Message
}

func (f *fakeMessages) InsertOutbound(_ context.Context, rec store.OutboundRecord) (int64, error) {
	f.outbound = append(f.outbound, rec)
	return int64(len(f.outbound)), nil
}

func (f *fakeMessages) UpdateStatus(_ context.Context, externalID, status string) (bool, error) {
	if f.statusCalls == nil {
		f.statusCalls = make(map[string]string)
	}
	f.statusCalls[externalID] = status
	return f.statusFound, nil
}

func (f *fakeMessages) GetByExternalID(context.Context, string) (*store.Message, error) {
	return f.byExternalID, nil
}

type fakeResponder struct {
	reply *agent.Reply
	err   error
	calls int
}

func (f *fakeResponder) Respond(context.Context, string, agent.Input) (*agent.Reply, error) {
	f.calls++
	return f.reply, f.err
}

type fakeSender struct {
	sent   []string
	typing []string
}

func (f *fakeSender) SendText(_ context.Context, _, body string) (*whatsapp.SendResult, error) {
	f.sent = append(f.sent, body)
	return &whatsapp.SendResult{MessageID: "wamid.out"}, nil
}

func (f *fakeSender) MarkReadWithTyping(_ context.Context, messageID string) error {
	f.typing = append(f.typing, messageID)
	return nil
}

type fakeDownloader struct{}

func (fakeDownloader) Download(context.Context, string) (*whatsapp.Media, error) {
	return nil, errors.New("no media in tests")
}

type fakeEscalator struct {
	takeovers []string
}

func (f *fakeEscalator) Takeover(_ context.Context, phone, _ string) error {
	f.takeovers = append(f.takeovers, phone)
	return nil
}

func newTestRouter(conv *fakeConversations, msgs *fakeMessages, resp *fakeResponder, snd *fakeSender) *Router {
	inputs := agent.NewInputBuilder(msgs, fakeDownloader{}, 0)
	return New(conv, msgs, inputs, resp, snd, events.NewHub(), Options{})
}

func inbound(text string) wamsg.Message {
	return wamsg.Message{
		Class:     wamsg.ClassText,
		Phone:     "919876543210",
		Name:      "Asha",
		MessageID: "wamid.in",
		Text:      text,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestHandleInbound_AIOwnedConversation(t *testing.T) {
	conv := &fakeConversations{result: store.InboundResult{
		ConversationID: 7, MessageID: 1, MessageInserted: true,
	}}
	msgs := &fakeMessages{}
	resp := &fakeResponder{reply: &agent.Reply{Text: "Happy to help!"}}
	snd := &fakeSender{}
	rt := newTestRouter(conv, msgs, resp, snd)

	if err := rt.HandleInbound(context.Background(), inbound("Hi")); err != nil {
		t.Fatal(err)
	}

	if resp.calls != 1 {
		t.Errorf("agent calls = %d, want 1", resp.calls)
	}
	if len(snd.sent) != 1 || snd.sent[0] != "Happy to help!" {
		t.Errorf("sent = %v, want the agent reply", snd.sent)
	}
	if len(msgs.outbound) != 1 {
		t.Fatalf("outbound rows = %d, want 1", len(msgs.outbound))
	}
	out := msgs.outbound[0]
	if out.SenderType != store.SenderAI || out.ExternalID != "wamid.out" || out.ConversationID != 7 {
		t.Errorf("outbound row = %+v, want ai/wamid.out/conversation 7", out)
	}
	if len(snd.typing) != 1 {
		t.Errorf("typing indicators = %d, want 1", len(snd.typing))
	}
}

func TestHandleInbound_OperatorHeldConversation(t *testing.T) {
	conv := &fakeConversations{result: store.InboundResult{
		ConversationID: 7, MessageID: 1, MessageInserted: true, InterventionRequired: true,
	}}
	msgs := &fakeMessages{}
	resp := &fakeResponder{reply: &agent.Reply{Text: "should not happen"}}
	snd := &fakeSender{}
	rt := newTestRouter(conv, msgs, resp, snd)

	if err := rt.HandleInbound(context.Background(), inbound("Hi")); err != nil {
		t.Fatal(err)
	}

	if resp.calls != 0 {
		t.Errorf("agent calls = %d, want 0 while operator holds the conversation", resp.calls)
	}
	if len(snd.sent) != 0 {
		t.Errorf("sent = %v, want nothing", snd.sent)
	}
	if len(conv.recorded) != 1 {
		t.Errorf("recorded = %d, want message still persisted", len(conv.recorded))
	}
}

func TestHandleInbound_ReplayAbsorbed(t *testing.T) {
	conv := &fakeConversations{result: store.InboundResult{
		ConversationID: 7, MessageInserted: false,
	}}
	msgs := &fakeMessages{}
	resp := &fakeResponder{reply: &agent.Reply{Text: "nope"}}
	snd := &fakeSender{}
	rt := newTestRouter(conv, msgs, resp, snd)

	if err := rt.HandleInbound(context.Background(), inbound("Hi")); err != nil {
		t.Fatal(err)
	}

	if resp.calls != 0 || len(snd.sent) != 0 || len(msgs.outbound) != 0 {
		t.Error("replayed message triggered side effects, want none")
	}
}

func TestHandleInbound_AgentFailureSendsApology(t *testing.T) {
	conv := &fakeConversations{result: store.InboundResult{
		ConversationID: 7, MessageInserted: true,
	}}
	msgs := &fakeMessages{}
	resp := &fakeResponder{err: errors.New("model overloaded")}
	snd := &fakeSender{}
	rt := newTestRouter(conv, msgs, resp, snd)

	if err := rt.HandleInbound(context.Background(), inbound("Hi")); err != nil {
		t.Fatal(err)
	}

	if len(snd.sent) != 1 {
		t.Fatalf("sent = %d messages, want apology", len(snd.sent))
	}
	want := Options{}
	want.defaults()
	if snd.sent[0] != want.ApologyText {
		t.Errorf("sent %q, want apology text", snd.sent[0])
	}
}

func TestHandleInbound_AgentRequestsIntervention(t *testing.T) {
	conv := &fakeConversations{result: store.InboundResult{
		ConversationID: 7, MessageInserted: true,
	}}
	msgs := &fakeMessages{}
	resp := &fakeResponder{reply: &agent.Reply{Text: "Let me get a human.", InterventionRequested: true}}
	snd := &fakeSender{}
	rt := newTestRouter(conv, msgs, resp, snd)

	esc := &fakeEscalator{}
	rt.SetEscalator(esc)

	if err := rt.HandleInbound(context.Background(), inbound("complex query")); err != nil {
		t.Fatal(err)
	}

	if len(esc.takeovers) != 1 || esc.takeovers[0] != "919876543210" {
		t.Errorf("takeovers = %v, want one for the customer", esc.takeovers)
	}
	// The reply is still delivered before escalation.
	if len(snd.sent) != 1 {
		t.Errorf("sent = %d, want the final AI reply delivered", len(snd.sent))
	}
}

func TestHandleStatus(t *testing.T) {
	t.Run("known message", func(t *testing.T) {
		msgs := &fakeMessages{statusFound: true}
		rt := newTestRouter(&fakeConversations{}, msgs, &fakeResponder{}, &fakeSender{})

		err := rt.HandleStatus(context.Background(), wamsg.StatusUpdate{MessageID: "wamid.out", Status: "read"})
		if err != nil {
			t.Fatal(err)
		}
		if msgs.statusCalls["wamid.out"] != "read" {
			t.Errorf("status = %q, want read", msgs.statusCalls["wamid.out"])
		}
	})

	t.Run("unknown message is dropped", func(t *testing.T) {
		msgs := &fakeMessages{statusFound: false}
		rt := newTestRouter(&fakeConversations{}, msgs, &fakeResponder{}, &fakeSender{})

		err := rt.HandleStatus(context.Background(), wamsg.StatusUpdate{MessageID: "wamid.ghost", Status: "read"})
		if err != nil {
			t.Errorf("error = %v, want unknown ids dropped silently", err)
		}
	})
}
