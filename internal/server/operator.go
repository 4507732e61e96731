package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/craftline/waroute/internal/intervention"
)

type interventionRequest struct {
	Phone    string `json:"phone"`
	SenderID string `json:"senderId,omitempty"`
}

// handleTakeover flips a conversation to operator control.
func (s *Server) handleTakeover(w http.ResponseWriter, r *http.Request) {
	s.handleIntervention(w, r, true)
}

// handleHandback returns a conversation to the AI.
func (s *Server) handleHandback(w http.ResponseWriter, r *http.Request) {
	s.handleIntervention(w, r, false)
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request, takeover bool) {
	var req interventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phone is required"})
		return
	}

	actor := req.SenderID
	if actor == "" {
		actor = "operator"
	}

	var err error
	status := "takeover_complete"
	if takeover {
		err = s.intervention.Takeover(r.Context(), req.Phone, actor)
	} else {
		status = "handback_complete"
		err = s.intervention.Handback(r.Context(), req.Phone, actor)
	}

	switch {
	case errors.Is(err, intervention.ErrConversationNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "error": "unknown conversation"})
	case err != nil:
		slog.Error("intervention request failed", "phone", req.Phone, "takeover", takeover, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}

type operatorMessageRequest struct {
	ReceiverPhone string `json:"receiverPhone"`
	Message       string `json:"message"`
	SenderID      string `json:"senderId"`
	Media         string `json:"media,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
}

func (r operatorMessageRequest) missing() []string {
	var fields []string
	if r.ReceiverPhone == "" {
		fields = append(fields, "receiverPhone")
	}
	if r.Message == "" {
		fields = append(fields, "message")
	}
	if r.SenderID == "" {
		fields = append(fields, "senderId")
	}
	return fields
}

// handleOperatorMessage sends an operator message to the customer. Text is
// synchronous; media is queued and answered with 202.
func (s *Server) handleOperatorMessage(w http.ResponseWriter, r *http.Request) {
	var req operatorMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid JSON: " + err.Error()})
		return
	}

	if missing := req.missing(); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status":  "error",
			"message": "Missing: " + strings.Join(missing, ", "),
		})
		return
	}

	if req.Media != "" && req.MimeType != "" {
		if err := s.intervention.QueueMedia(req.ReceiverPhone, req.Media, req.MimeType, req.Message, req.SenderID); err != nil {
			slog.Error("operator media not queued", "phone", req.ReceiverPhone, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"message": "Media message queued for processing",
		})
		return
	}

	messageID, err := s.intervention.SendText(r.Context(), req.ReceiverPhone, req.Message, req.SenderID)
	if err != nil {
		slog.Error("operator message failed", "phone", req.ReceiverPhone, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message_id": messageID})
}

// handleOperatorPing lets the console backend probe availability.
func (s *Server) handleOperatorPing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "THIS ENDPOINT IS UP AND RUNNING")
}

// handleMediaURL resolves a provider media id to its short-lived download
// URL for the operator console.
func (s *Server) handleMediaURL(w http.ResponseWriter, r *http.Request) {
	mediaID := r.URL.Query().Get("id")
	if mediaID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "Missing media id"})
		return
	}

	url, err := s.media.MediaURL(r.Context(), mediaID)
	if err != nil {
		slog.Error("media url lookup failed", "media_id", mediaID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
