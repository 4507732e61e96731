package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/craftline/waroute/internal/store"
	"github.com/craftline/waroute/internal/wamsg"
	"github.com/craftline/waroute/internal/whatsapp"
)

type fakeMessages struct {
	byExternal map[string]*store.Message
	err        error
}

func (f *fakeMessages) InsertOutbound(context.Context, store.OutboundRecord) (int64, error) {
	return 0, errors.New("not used")
}

func (f *fakeMessages) UpdateStatus(context.Context, string, string) (bool, error) {
	return false, errors.New("not used")
}

func (f *fakeMessages) GetByExternalID(_ context.Context, externalID string) (*store.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byExternal[externalID], nil
}

type fakeDownloader struct {
	media map[string]*whatsapp.Media
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, mediaID string) (*whatsapp.Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.media[mediaID]
	if !ok {
		return nil, errors.New("no such media")
	}
	return m, nil
}

func TestBuildPlainText(t *testing.T) {
	b := NewInputBuilder(&fakeMessages{}, &fakeDownloader{}, 0)

	in, err := b.Build(context.Background(), wamsg.Message{
		Class: wamsg.ClassText,
		Text:  "What are your rates?",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(in.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(in.Blocks))
	}
	if in.Blocks[0].Type != "text" || in.Blocks[0].Text != "What are your rates?" {
		t.Errorf("block = %+v, want plain text passthrough", in.Blocks[0])
	}
}

func TestBuildReplyToText(t *testing.T) {
	msgs := &fakeMessages{byExternal: map[string]*store.Message{
		"wamid.prev": {ExternalID: "wamid.prev", HasText: true, Text: "We open at 9am."},
	}}
	b := NewInputBuilder(msgs, &fakeDownloader{}, 0)

	in, err := b.Build(context.Background(), wamsg.Message{
		Class:   wamsg.ClassText,
		Text:    "Even on Sundays?",
		ReplyTo: "wamid.prev",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	got := in.Blocks[0].Text
	if !strings.Contains(got, "Even on Sundays?") {
		t.Errorf("prompt missing the reply text:\n%s", got)
	}
	if !strings.Contains(got, "We open at 9am.") {
		t.Errorf("prompt missing the quoted text:\n%s", got)
	}
}

func TestBuildReplyLookupMissDegradesToPlainText(t *testing.T) {
	b := NewInputBuilder(&fakeMessages{}, &fakeDownloader{}, 0)

	in, err := b.Build(context.Background(), wamsg.Message{
		Class:   wamsg.ClassText,
		Text:    "ok",
		ReplyTo: "wamid.gone",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if in.Blocks[0].Text != "ok" {
		t.Errorf("text = %q, want the bare reply on a lookup miss", in.Blocks[0].Text)
	}
}

func TestBuildMedia(t *testing.T) {
	raw := []byte("audio-bytes")
	dl := &fakeDownloader{media: map[string]*whatsapp.Media{
		"m-1": {Data: raw, MimeType: "audio/ogg; codecs=opus"},
	}}
	b := NewInputBuilder(&fakeMessages{}, dl, 0)

	in, err := b.Build(context.Background(), wamsg.Message{
		Class:    wamsg.ClassMedia,
		Category: "audio",
		MediaID:  "m-1",
		Text:     "listen to this",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(in.Blocks) != 2 {
		t.Fatalf("blocks = %d, want intro + media", len(in.Blocks))
	}
	if !strings.Contains(in.Blocks[0].Text, "listen to this") {
		t.Errorf("intro = %q, want the caption included", in.Blocks[0].Text)
	}
	media := in.Blocks[1]
	if media.Type != "media" {
		t.Errorf("block type = %q, want media", media.Type)
	}
	if media.MimeType != "audio/ogg" {
		t.Errorf("mime = %q, want the codec suffix stripped", media.MimeType)
	}
	if media.Data != base64.StdEncoding.EncodeToString(raw) {
		t.Error("media data not base64 of the downloaded bytes")
	}
}

func TestBuildMediaDownloadFailure(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("cdn timeout")}
	b := NewInputBuilder(&fakeMessages{}, dl, 0)

	t.Run("with caption degrades to text", func(t *testing.T) {
		in, err := b.Build(context.Background(), wamsg.Message{
			Class: wamsg.ClassMedia, Category: "image", MediaID: "m-2", Text: "the leaky pipe",
		})
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if in.Blocks[0].Text != "the leaky pipe" {
			t.Errorf("text = %q, want caption only", in.Blocks[0].Text)
		}
	})

	t.Run("without caption errors", func(t *testing.T) {
		_, err := b.Build(context.Background(), wamsg.Message{
			Class: wamsg.ClassMedia, Category: "image", MediaID: "m-2",
		})
		if err == nil {
			t.Fatal("Build() = nil error, want failure when nothing is salvageable")
		}
	})
}

func TestBuildReplyToMedia(t *testing.T) {
	msgs := &fakeMessages{byExternal: map[string]*store.Message{
		"wamid.img": {
			ExternalID: "wamid.img",
			Media:      &store.MediaInfo{ID: "m-3", MimeType: "image/png"},
		},
	}}
	dl := &fakeDownloader{media: map[string]*whatsapp.Media{
		"m-3": {Data: []byte{0x01}, MimeType: "image/png"},
	}}
	b := NewInputBuilder(msgs, dl, 0)

	in, err := b.Build(context.Background(), wamsg.Message{
		Class:   wamsg.ClassText,
		Text:    "is that the right part?",
		ReplyTo: "wamid.img",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(in.Blocks) != 2 {
		t.Fatalf("blocks = %d, want prompt + image", len(in.Blocks))
	}
	if !strings.Contains(in.Blocks[0].Text, "is that the right part?") {
		t.Errorf("prompt missing the reply text:\n%s", in.Blocks[0].Text)
	}
	if in.Blocks[1].Type != "image_url" || !strings.HasPrefix(in.Blocks[1].ImageURL, "data:image/png;base64,") {
		t.Errorf("image block = %+v, want a png data URI", in.Blocks[1])
	}
}

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", "image"},
		{"video/mp4", "video"},
		{"audio/ogg", "audio"},
		{"application/pdf", "file"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := categoryFor(tt.mime); got != tt.want {
			t.Errorf("categoryFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}
