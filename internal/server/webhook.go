package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/craftline/waroute/internal/wamsg"
)

const maxWebhookBody = 1 << 20

// handleWebhookVerify answers the provider's subscription handshake: echo
// hub.challenge when the verify token matches, 403 otherwise.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	challenge := r.URL.Query().Get("hub.challenge")
	token := r.URL.Query().Get("hub.verify_token")

	if mode == "subscribe" && token == s.cfg.VerifyToken {
		slog.Info("webhook verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}

	slog.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "Invalid Token", http.StatusForbidden)
}

// handleWebhookEvent takes one provider POST. Anything the payload parser
// can classify is acknowledged with 200 so the provider stops redelivering;
// only infrastructure failures surface as 5xx, which makes the provider
// retry into the dedup layer.
func (s *Server) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	if s.limiter.Enabled() && !s.limiter.Allow(remoteKey(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	event, err := wamsg.Normalize(body)
	if err != nil {
		slog.Warn("unparseable webhook payload", "error", err)
		s.ok(w)
		return
	}

	switch event.Kind {
	case wamsg.KindInbound:
		s.acceptInbound(w, r, *event.Message)
	case wamsg.KindStatus:
		s.acceptStatus(w, *event.Status)
	default:
		slog.Warn("unsupported webhook event", "raw_type", event.RawType)
		s.ok(w)
	}
}

func (s *Server) acceptInbound(w http.ResponseWriter, r *http.Request, msg wamsg.Message) {
	ctx := r.Context()

	dup, err := s.dedup.IsDuplicate(ctx, msg.MessageID, msg.Phone)
	if err != nil {
		slog.Error("dedup check failed", "message_id", msg.MessageID, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	if dup {
		slog.Info("duplicate delivery ignored", "message_id", msg.MessageID, "phone", msg.Phone)
		s.ok(w)
		return
	}

	if _, err := s.buffer.Add(ctx, msg); err != nil {
		slog.Error("buffer add failed", "message_id", msg.MessageID, "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	s.ok(w)
}

func (s *Server) acceptStatus(w http.ResponseWriter, su wamsg.StatusUpdate) {
	if err := s.jobs.Submit("update_status", func(ctx context.Context) error {
		return s.router.HandleStatus(ctx, su)
	}); err != nil {
		slog.Error("status update not queued", "external_id", su.MessageID, "error", err)
	}
	s.ok(w)
}

func (s *Server) ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// remoteKey extracts the client key for rate limiting, preferring the
// proxy-provided address.
func remoteKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
