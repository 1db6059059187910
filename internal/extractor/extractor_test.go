package extractor

import (
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/event-photos/internal/config"
)

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"jpeg", encodeJPEG(createGradientImage(10, 10)), "image/jpeg"},
		{"png", encodePNG(createGradientImage(10, 10)), "image/png"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"short", []byte{0xFF, 0xD8}, "application/octet-stream"},
		{"text", []byte("hello world"), "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectMIMEType(tc.data); got != tc.expected {
				t.Errorf("DetectMIMEType() = %s; want %s", got, tc.expected)
			}
		})
	}
}

func TestAllowedImageType(t *testing.T) {
	for _, m := range []string{"image/jpeg", "image/png", "image/gif", "image/webp"} {
		if !AllowedImageType(m) {
			t.Errorf("expected %s to be allowed", m)
		}
		if ExtensionFor(m) == "" {
			t.Errorf("expected an extension for %s", m)
		}
	}
	for _, m := range []string{"image/bmp", "application/pdf", ""} {
		if AllowedImageType(m) {
			t.Errorf("expected %s to be rejected", m)
		}
	}
}

func TestDecode_RejectsInvalid(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage for empty input, got %v", err)
	}
	if _, err := Decode([]byte("GIF89a")); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage for header-only gif, got %v", err)
	}
	if _, err := Decode(encodePNG(createGradientImage(5, 5))); err != nil {
		t.Errorf("expected valid png to decode, got %v", err)
	}
}

func TestNew(t *testing.T) {
	ex, err := New(config.ExtractorConfig{Backend: "classical", Dim: 32})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Dim() != 32 || ex.Model() != "dct-32" {
		t.Errorf("unexpected extractor %s/%d", ex.Model(), ex.Dim())
	}

	ex, err = New(config.ExtractorConfig{Backend: "remote", URL: "http://embed:8000", Mode: "face", Dim: 512, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Model() != "remote-face" {
		t.Errorf("expected remote-face, got %s", ex.Model())
	}

	if _, err := New(config.ExtractorConfig{Backend: "onnx"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
