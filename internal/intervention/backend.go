package intervention

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBackendDownload = 128 << 20

// BackendClient fetches files the operator attached in the console UI. The
// console backend stores them and exposes a download endpoint keyed by
// file id.
type BackendClient struct {
	baseURL string
	client  *http.Client
}

// NewBackendClient creates a client for the operator console backend.
func NewBackendClient(baseURL string) *BackendClient {
	return &BackendClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Fetch downloads one file by id.
func (b *BackendClient) Fetch(ctx context.Context, fileID, mimeType string) ([]byte, error) {
	q := url.Values{}
	q.Set("fileId", fileID)
	q.Set("type", mimeType)
	u := b.baseURL + "/api/v1/get-sent-media?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build backend media request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend media request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend media request: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendDownload))
	if err != nil {
		return nil, fmt.Errorf("read backend media: %w", err)
	}
	return data, nil
}
