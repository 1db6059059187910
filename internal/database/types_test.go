package database

import (
	"regexp"
	"testing"
)

func TestNewEventCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := make(map[string]bool)

	for range 100 {
		code, err := NewEventCode()
		if err != nil {
			t.Fatalf("NewEventCode failed: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Errorf("code %q is not 8 uppercase hex characters", code)
		}
		seen[code] = true
	}
	if len(seen) < 90 {
		t.Errorf("expected mostly unique codes, got %d distinct of 100", len(seen))
	}
}

func TestNormalizeEventCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abcd1234", "ABCD1234"},
		{"  ABCD1234\n", "ABCD1234"},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := NormalizeEventCode(tc.in); got != tc.want {
				t.Errorf("NormalizeEventCode(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail(" Jane@Example.COM "); got != "jane@example.com" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}

func TestPhotoIndexed(t *testing.T) {
	p := Photo{}
	if p.Indexed() {
		t.Error("photo without descriptor must not be indexed")
	}
	p.Descriptor = []float32{1}
	if !p.Indexed() {
		t.Error("photo with descriptor must be indexed")
	}
}
