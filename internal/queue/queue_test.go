package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func TestSubjects(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"uploaded", UploadedSubject("ev1"), "photos.uploaded.ev1"},
		{"indexed", IndexedSubject("ev1"), "photos.indexed.ev1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.subject != tc.expected {
				t.Errorf("got %q; want %q", tc.subject, tc.expected)
			}
			if id := EventIDFromSubject(tc.subject); id != "ev1" {
				t.Errorf("EventIDFromSubject(%q) = %q; want ev1", tc.subject, id)
			}
		})
	}
}

func TestEventIDFromSubject_NoDot(t *testing.T) {
	if got := EventIDFromSubject("plain"); got != "plain" {
		t.Errorf("expected plain, got %q", got)
	}
}

func TestStreamConfigs(t *testing.T) {
	configs := streamConfigs()
	if len(configs) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(configs))
	}

	uploads, indexed := configs[0], configs[1]
	if uploads.Retention != jetstream.WorkQueuePolicy {
		t.Error("uploads must be a work queue so each photo is indexed once")
	}
	if uploads.Subjects[0] != "photos.uploaded.>" {
		t.Errorf("unexpected uploads subject %q", uploads.Subjects[0])
	}
	if indexed.Retention != jetstream.LimitsPolicy {
		t.Error("indexed stream must keep messages for every subscriber")
	}
	if indexed.Subjects[0] != "photos.indexed.>" {
		t.Errorf("unexpected indexed subject %q", indexed.Subjects[0])
	}
}

func TestPhotoIndexed_JSON(t *testing.T) {
	msg := PhotoIndexed{EventID: "e", PhotoID: "p", Descriptor: []float32{0.5, -1}, Model: "classical-v1"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"eventId", "photoId", "descriptor", "model"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in %s", key, data)
		}
	}
}

func TestDecode(t *testing.T) {
	var m PhotoUploaded
	if err := decode([]byte(`{"eventId":"e","photoId":"p"}`), &m); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.EventID != "e" || m.PhotoID != "p" {
		t.Errorf("unexpected message %+v", m)
	}

	if err := decode([]byte(`not json`), &m); !errors.Is(err, ErrPermanent) {
		t.Errorf("expected ErrPermanent for malformed payload, got %v", err)
	}
}

func TestRedeliveryDelay(t *testing.T) {
	tests := []struct {
		delivered uint64
		want      time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{7, 5 * time.Minute},
		{uploadMaxDeliver, 5 * time.Minute},
	}

	var total time.Duration
	for n := uint64(1); n < uploadMaxDeliver; n++ {
		total += redeliveryDelay(n)
	}
	if total < time.Hour {
		t.Errorf("redeliveries span %s, want at least an hour", total)
	}

	for _, tc := range tests {
		if got := redeliveryDelay(tc.delivered); got != tc.want {
			t.Errorf("redeliveryDelay(%d) = %s, want %s", tc.delivered, got, tc.want)
		}
	}
}
