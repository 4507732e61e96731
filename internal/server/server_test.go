package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/craftline/waroute/internal/agent"
	"github.com/craftline/waroute/internal/buffer"
	"github.com/craftline/waroute/internal/config"
	"github.com/craftline/waroute/internal/dedup"
	"github.com/craftline/waroute/internal/events"
	"github.com/craftline/waroute/internal/intervention"
	"github.com/craftline/waroute/internal/router"
	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
)

type fakeConvStore struct {
	known map[string]bool
}

func (f *fakeConvStore) RecordInbound(context.Context, store.InboundRecord) (store.InboundResult, error) {
	return store.InboundResult{ConversationID: 1, MessageInserted: true}, nil
}

func (f *fakeConvStore) GetByPhone(_ context.Context, phone string) (*store.Conversation, error) {
	if f.known[phone] {
		return &store.Conversation{ID: 1, Phone: phone}, nil
	}
	return nil, nil
}

func (f *fakeConvStore) SetIntervention(_ context.Context, phone string, _ bool) (bool, error) {
	return f.known[phone], nil
}

type fakeMsgStore struct{}

func (fakeMsgStore) InsertOutbound(context.Context, store.OutboundRecord) (int64, error) {
	return 1, nil
}
func (fakeMsgStore) UpdateStatus(context.Context, string, string) (bool, error) { return true, nil }
func (fakeMsgStore) GetByExternalID(context.Context, string) (*store.Message, error) {
	return nil, nil
}

type fakeDedupStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeDedupStore) Insert(_ context.Context, key, messageID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key + "|" + messageID
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

func (f *fakeDedupStore) PurgeExpired(context.Context) (int64, error) { return 0, nil }

type fakeBufStore struct {
	mu      sync.Mutex
	appends int
}

func (f *fakeBufStore) Append(context.Context, string, []byte, time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	// Never report first so no timers fire during tests.
	return false, nil
}

func (f *fakeBufStore) Batch(context.Context, string) (*store.BatchInfo, error)   { return nil, nil }
func (f *fakeBufStore) Drain(context.Context, string) ([][]byte, error)           { return nil, nil }
func (f *fakeBufStore) StaleKeys(context.Context, time.Duration) ([]string, error) { return nil, nil }

func (f *fakeBufStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appends
}

type fakeWA struct{}

func (fakeWA) SendText(context.Context, string, string) (*whatsapp.SendResult, error) {
	return &whatsapp.SendResult{MessageID: "wamid.out"}, nil
}
func (fakeWA) MarkReadWithTyping(context.Context, string) error { return nil }
func (fakeWA) SendMediaByID(context.Context, string, string, string, string) (*whatsapp.SendResult, error) {
	return &whatsapp.SendResult{MessageID: "wamid.media"}, nil
}
func (fakeWA) Upload(context.Context, string, string, []byte) (string, error) {
	return "media-up", nil
}
func (fakeWA) Download(context.Context, string) (*whatsapp.Media, error) {
	return &whatsapp.Media{Data: []byte("x"), MimeType: "image/jpeg"}, nil
}
func (fakeWA) MediaURL(_ context.Context, mediaID string) (string, error) {
	return "https://cdn.example/" + mediaID, nil
}

type fakeResponder struct{}

func (fakeResponder) Respond(context.Context, string, agent.Input) (*agent.Reply, error) {
	return &agent.Reply{Text: "ok"}, nil
}

type fakeMirror struct{}

func (fakeMirror) SetOperatorActive(context.Context, string, bool) error    { return nil }
func (fakeMirror) AppendOperatorMessage(context.Context, string, string) error { return nil }

type recordingJobs struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingJobs) Submit(name string, run func(context.Context) error) error {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return run(context.Background())
}

func (r *recordingJobs) submitted(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

type testEnv struct {
	srv  *httptest.Server
	buf  *fakeBufStore
	jobs *recordingJobs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conv := &fakeConvStore{known: map[string]bool{"919876543210": true}}
	msgs := fakeMsgStore{}
	bufStore := &fakeBufStore{}
	jobs := &recordingJobs{}
	hub := events.NewHub()
	wa := fakeWA{}

	dd := dedup.New(&fakeDedupStore{seen: make(map[string]bool)}, time.Minute)
	eng := buffer.New(bufStore, func(context.Context, wamsg.Message) error { return nil }, buffer.Options{})
	t.Cleanup(eng.Close)

	inputs := agent.NewInputBuilder(msgs, wa, 0)
	rt := router.New(conv, msgs, inputs, fakeResponder{}, wa, hub, router.Options{})
	ctrl := intervention.New(conv, msgs, fakeMirror{}, wa, jobs, hub, nil)
	rt.SetEscalator(ctrl)

	s := New(config.ServerConfig{VerifyToken: "sesame"}, dd, eng, rt, ctrl, wa, hub, jobs, "test")
	ts := httptest.NewServer(s.BuildMux())
	t.Cleanup(ts.Close)

	return &testEnv{srv: ts, buf: bufStore, jobs: jobs}
}

func inboundPayload(msgID string) string {
	return `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"919876543210","profile":{"name":"Asha"}}],
		"messages":[{"id":"` + msgID + `","type":"text","timestamp":"1700000000","text":{"body":"Hi"}}]
	}}]}]}`
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookVerify(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid token echoes challenge", func(t *testing.T) {
		resp, err := http.Get(env.srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=sesame&hub.challenge=12345")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "12345" {
			t.Errorf("body = %q, want the challenge echoed", body)
		}
	})

	t.Run("bad token rejected", func(t *testing.T) {
		resp, err := http.Get(env.srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want 403", resp.StatusCode)
		}
	})
}

func TestWebhookInbound(t *testing.T) {
	env := newTestEnv(t)

	resp := post(t, env.srv.URL+"/webhook", inboundPayload("wamid.1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.buf.count() != 1 {
		t.Errorf("buffer appends = %d, want 1", env.buf.count())
	}

	// Same provider id again: the dedup layer drops it before the buffer.
	resp = post(t, env.srv.URL+"/webhook", inboundPayload("wamid.1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", resp.StatusCode)
	}
	if env.buf.count() != 1 {
		t.Errorf("buffer appends after duplicate = %d, want still 1", env.buf.count())
	}
}

func TestWebhookStatus(t *testing.T) {
	env := newTestEnv(t)

	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.out","status":"read"}]}}]}]}`
	resp := post(t, env.srv.URL+"/webhook", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !env.jobs.submitted("update_status") {
		t.Error("status update job not queued")
	}
}

func TestWebhookUnsupportedStillAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	body := `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"1","profile":{"name":"A"}}],
		"messages":[{"id":"wamid.s","type":"sticker","timestamp":"1700000000"}]
	}}]}]}`
	resp := post(t, env.srv.URL+"/webhook", body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 for unsupported types", resp.StatusCode)
	}
}

func TestTakeoverEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("known conversation", func(t *testing.T) {
		resp := post(t, env.srv.URL+"/takeover", `{"phone":"919876543210"}`)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("unknown conversation", func(t *testing.T) {
		resp := post(t, env.srv.URL+"/takeover", `{"phone":"910000000000"}`)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("missing phone", func(t *testing.T) {
		resp := post(t, env.srv.URL+"/takeover", `{}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestOperatorMessageEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("text message", func(t *testing.T) {
		body := `{"receiverPhone":"919876543210","message":"On it","senderId":"op-1"}`
		resp := post(t, env.srv.URL+"/operatormsg", body)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := post(t, env.srv.URL+"/operatormsg", `{"receiverPhone":"919876543210"}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "message") || !strings.Contains(string(body), "senderId") {
			t.Errorf("body = %s, want the missing field names", body)
		}
	})
}

func TestMediaURLEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/media?id=media-7")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "https://cdn.example/media-7") {
		t.Errorf("body = %s, want resolved url", body)
	}

	resp2, err := http.Get(env.srv.URL + "/media")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("status without id = %d, want 400", resp2.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
