// Package extractor turns image bytes into fixed-length descriptors used for
// similarity matching between event photos and guest selfies.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kozaktomas/event-photos/internal/config"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrInvalidImage means the input cannot be turned into a descriptor. Not retryable.
	ErrInvalidImage = errors.New("invalid image")
	// ErrExtractionUnavailable means the extraction backend failed. Retryable.
	ErrExtractionUnavailable = errors.New("extraction unavailable")
)

// maxPixels rejects decompression bombs before allocating the full bitmap.
const maxPixels = 50_000_000

// Extractor computes a descriptor for an image. Implementations are deterministic:
// the same bytes always produce a bit-identical descriptor of length Dim().
type Extractor interface {
	Extract(ctx context.Context, imageData []byte) ([]float32, error)
	Dim() int
	Model() string
}

// New creates the extractor selected by configuration.
func New(cfg config.ExtractorConfig) (Extractor, error) {
	switch cfg.Backend {
	case "", "classical":
		return NewClassical(cfg.Dim)
	case "remote":
		return NewRemote(cfg.URL, cfg.Mode, cfg.Dim, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Backend)
	}
}

// Decode decodes an image after checking its header, wrapping every failure in ErrInvalidImage.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: image too large (%dx%d)", ErrInvalidImage, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// DetectMIMEType detects the MIME type from image magic bytes.
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}

// AllowedImageType reports whether uploads of this MIME type are accepted.
func AllowedImageType(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}

// ExtensionFor returns the file extension used for blobs of the given MIME type.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ""
}
