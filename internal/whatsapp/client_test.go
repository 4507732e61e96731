package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.sent"}},
		})
	}))
	defer srv.Close()

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	res, err := c.SendText(context.Background(), "919876543210", "hello")
	if err != nil {
		t.Fatal(err)
	}

	if res.MessageID != "wamid.sent" {
		t.Errorf("MessageID = %q, want wamid.sent", res.MessageID)
	}
	if gotPath != "/12345/messages" {
		t.Errorf("path = %q, want /12345/messages", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("auth = %q, want bearer token", gotAuth)
	}
	if gotBody["messaging_product"] != "whatsapp" || gotBody["to"] != "919876543210" || gotBody["type"] != "text" {
		t.Errorf("body = %v, want whatsapp text payload", gotBody)
	}
	text, _ := gotBody["text"].(map[string]any)
	if text["body"] != "hello" {
		t.Errorf("text.body = %v, want hello", text["body"])
	}
}

func TestSendText_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 190, "message": "Session expired"},
		})
	}))
	defer srv.Close()

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	_, err := c.SendText(context.Background(), "1", "x")
	if err == nil {
		t.Fatal("error = nil, want API error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != 190 || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("APIError = %+v, want code 190 status 401", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "access token expired") {
		t.Errorf("Error() = %q, want the code hint", apiErr.Error())
	}
}

func TestMarkReadWithTyping(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	if err := c.MarkReadWithTyping(context.Background(), "wamid.in"); err != nil {
		t.Fatal(err)
	}
	if gotBody["status"] != "read" || gotBody["message_id"] != "wamid.in" {
		t.Errorf("body = %v, want read receipt for wamid.in", gotBody)
	}
	if _, ok := gotBody["typing_indicator"]; !ok {
		t.Error("body missing typing_indicator")
	}
}

func TestDownload(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("GET /media-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"url":       srv.URL + "/download/media-1",
			"mime_type": "image/jpeg",
		})
	})
	mux.HandleFunc("GET /download/media-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpegbytes"))
	})

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	media, err := c.Download(context.Background(), "media-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(media.Data) != "jpegbytes" {
		t.Errorf("Data = %q, want jpegbytes", media.Data)
	}
	if media.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", media.MimeType)
	}
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/12345/media" {
			t.Errorf("path = %q, want /12345/media", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("messaging_product") != "whatsapp" {
			t.Errorf("messaging_product = %q", r.FormValue("messaging_product"))
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "media-new"})
	}))
	defer srv.Close()

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	id, err := c.Upload(context.Background(), "invoice.pdf", "application/pdf", []byte("pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if id != "media-new" {
		t.Errorf("media id = %q, want media-new", id)
	}
}

func TestSendMediaByID(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.v"}},
		})
	}))
	defer srv.Close()

	c := New("tok-1", "12345", WithBaseURL(srv.URL))
	res, err := c.SendMediaByID(context.Background(), "919876543210", "video", "media-3", "3d sample")
	if err != nil {
		t.Fatal(err)
	}
	if res.MessageID != "wamid.v" {
		t.Errorf("MessageID = %q, want wamid.v", res.MessageID)
	}
	video, _ := gotBody["video"].(map[string]any)
	if video["id"] != "media-3" || video["caption"] != "3d sample" {
		t.Errorf("video payload = %v, want id and caption", video)
	}
}
