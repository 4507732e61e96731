// Package whatsapp is a thin client for the WhatsApp Business Cloud API.
// It covers exactly the surface the router and operator paths need: text
// sends, media sends by id, typing indicators, and media transfer.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://graph.facebook.com/v23.0"

// Known Cloud API error codes worth a specific hint in logs.
var errorHints = map[int]string{
	0:   "auth exception, get a new access token",
	3:   "failed API method, check app permissions",
	10:  "permission denied",
	190: "access token expired",
	368: "temporarily blocked for policy violations",
}

// APIError is a structured error returned by the Cloud API.
type APIError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"-"` // HTTP status
}

func (e *APIError) Error() string {
	hint := errorHints[e.Code]
	if hint != "" {
		return fmt.Sprintf("whatsapp api error %d (%s): %s", e.Code, hint, e.Message)
	}
	return fmt.Sprintf("whatsapp api error %d: %s", e.Code, e.Message)
}

// Client talks to the Cloud API for one phone number. Sends are paced with
// a token bucket so burst flushes do not trip provider throughput limits.
type Client struct {
	token         string
	phoneNumberID string
	baseURL       string
	client        *http.Client
	limiter       *rate.Limiter
}

type Option func(*Client)

// WithBaseURL overrides the Graph API endpoint, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithSendRate sets the outbound pacing in messages per second.
func WithSendRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
		}
	}
}

// New creates a Client for the given access token and phone number id.
func New(token, phoneNumberID string, opts ...Option) *Client {
	c := &Client{
		token:         token,
		phoneNumberID: phoneNumberID,
		baseURL:       defaultBaseURL,
		client:        &http.Client{Timeout: 30 * time.Second},
		limiter:       rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendResult holds the provider-assigned id of an accepted message.
type SendResult struct {
	MessageID string
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText delivers a plain text message to a phone number and returns the
// provider message id.
func (c *Client) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.sendMessage(ctx, to, payload)
}

// SendMediaByID sends previously uploaded media, addressed by media id.
// Kind is the Cloud API message type: image, video, audio, document.
func (c *Client) SendMediaByID(ctx context.Context, to, kind, mediaID, caption string) (*SendResult, error) {
	media := map[string]string{"id": mediaID}
	if caption != "" {
		media["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              kind,
		kind:                media,
	}
	return c.sendMessage(ctx, to, payload)
}

func (c *Client) sendMessage(ctx context.Context, to string, payload map[string]any) (*SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send pacing: %w", err)
	}

	var resp sendResponse
	if err := c.postJSON(ctx, "/messages", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("whatsapp send to %s: response carried no message id", to)
	}
	slog.Debug("whatsapp message sent", "to", to, "message_id", resp.Messages[0].ID)
	return &SendResult{MessageID: resp.Messages[0].ID}, nil
}

// MarkReadWithTyping marks the given inbound message as read and shows a
// typing indicator to the sender. Failures here are cosmetic: callers log
// and proceed.
func (c *Client) MarkReadWithTyping(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
		"typing_indicator":  map[string]string{"type": "text"},
	}
	return c.postJSON(ctx, "/messages", payload, nil)
}

// postJSON issues a POST under the phone-number path and decodes the
// response into out when non-nil.
func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp request: %w", err)
	}

	url := c.baseURL + "/" + c.phoneNumberID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode whatsapp response: %w", err)
		}
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var wrapper struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Error.Message == "" {
		return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	wrapper.Error.Status = resp.StatusCode
	return &wrapper.Error
}
