package agent

import (
	"bytes"
	"image/jpeg"
	"log/slog"

	"github.com/disintegration/imaging"
)

// shrinkImage downscales an image so its longest edge is at most maxEdge,
// re-encoding as JPEG. Phone cameras routinely send 4000px originals, which
// waste agent tokens without helping the model. On any decode or encode
// problem the original bytes pass through unchanged.
func shrinkImage(data []byte, mimeType string, maxEdge int) ([]byte, string) {
	if maxEdge <= 0 {
		return data, mimeType
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("image decode failed, passing original", "error", err)
		return data, mimeType
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxEdge && bounds.Dy() <= maxEdge {
		return data, mimeType
	}

	if bounds.Dx() >= bounds.Dy() {
		img = imaging.Resize(img, maxEdge, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		slog.Debug("image encode failed, passing original", "error", err)
		return data, mimeType
	}

	slog.Debug("image downscaled",
		"from_bytes", len(data), "to_bytes", buf.Len(),
		"width", bounds.Dx(), "height", bounds.Dy())
	return buf.Bytes(), "image/jpeg"
}
