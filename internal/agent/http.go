package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAgent talks to the agent service over JSON HTTP. It implements both
// Responder and SessionMirror.
type HTTPAgent struct {
	baseURL string
	token   string
	client  *http.Client
}

type HTTPOption func(*HTTPAgent)

// WithTimeout bounds a single agent turn end to end.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAgent) {
		if d > 0 {
			a.client.Timeout = d
		}
	}
}

// WithClient replaces the underlying HTTP client, used by tests.
func WithClient(hc *http.Client) HTTPOption {
	return func(a *HTTPAgent) { a.client = hc }
}

// NewHTTP creates an HTTPAgent for the given base URL.
func NewHTTP(baseURL, token string, opts ...HTTPOption) *HTTPAgent {
	a := &HTTPAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Respond runs one agent turn for the session.
func (a *HTTPAgent) Respond(ctx context.Context, sessionID string, input Input) (*Reply, error) {
	req := struct {
		SessionID string `json:"session_id"`
		Input     Input  `json:"input"`
	}{SessionID: sessionID, Input: input}

	var reply Reply
	if err := a.post(ctx, "/v1/respond", req, &reply); err != nil {
		return nil, fmt.Errorf("agent respond for %s: %w", sessionID, err)
	}
	return &reply, nil
}

// SetOperatorActive mirrors the takeover flag into the agent session.
func (a *HTTPAgent) SetOperatorActive(ctx context.Context, sessionID string, active bool) error {
	req := struct {
		SessionID      string `json:"session_id"`
		OperatorActive bool   `json:"operator_active"`
	}{SessionID: sessionID, OperatorActive: active}

	if err := a.post(ctx, "/v1/session/state", req, nil); err != nil {
		return fmt.Errorf("agent set operator_active=%t for %s: %w", active, sessionID, err)
	}
	return nil
}

// AppendOperatorMessage adds an operator turn to the session history.
func (a *HTTPAgent) AppendOperatorMessage(ctx context.Context, sessionID, text string) error {
	req := struct {
		SessionID string `json:"session_id"`
		Role      string `json:"role"`
		Text      string `json:"text"`
	}{SessionID: sessionID, Role: "operator", Text: text}

	if err := a.post(ctx, "/v1/session/messages", req, nil); err != nil {
		return fmt.Errorf("agent append operator message for %s: %w", sessionID, err)
	}
	return nil
}

func (a *HTTPAgent) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
