package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

const maxMediaDownload = 64 << 20 // Cloud API caps media well below this

// Media is a downloaded media object.
type Media struct {
	Data        []byte
	MimeType    string
	ContentType string
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

// MediaURL resolves a media id to its short-lived download URL.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (string, error) {
	info, err := c.mediaInfo(ctx, mediaID)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// Download fetches the bytes behind a media id. The lookup URL expires
// quickly so resolve and fetch happen in one call.
func (c *Client) Download(ctx context.Context, mediaID string) (*Media, error) {
	info, err := c.mediaInfo(ctx, mediaID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaDownload))
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", mediaID, err)
	}

	slog.Debug("media downloaded", "media_id", mediaID, "bytes", len(data), "mime_type", info.MimeType)
	return &Media{
		Data:        data,
		MimeType:    info.MimeType,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Upload pushes media bytes to the Cloud API and returns the media id,
// ready for SendMediaByID.
func (c *Client) Upload(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", fmt.Errorf("build media upload: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build media upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build media upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build media upload: %w", err)
	}

	url := c.baseURL + "/" + c.phoneNumberID + "/media"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("build media upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode media upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("media upload returned no id")
	}
	slog.Info("media uploaded", "media_id", out.ID, "filename", filename, "bytes", len(data))
	return out.ID, nil
}

func (c *Client) mediaInfo(ctx context.Context, mediaID string) (*mediaInfo, error) {
	url := c.baseURL + "/" + mediaID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode media lookup response: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media lookup for %s returned no url", mediaID)
	}
	return &info, nil
}
