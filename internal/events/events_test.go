package events

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/database/mock"
	"github.com/kozaktomas/event-photos/internal/storage"
)

func newTestService(t *testing.T) (*Service, *mock.MockEventRepository, *storage.LocalStore) {
	t.Helper()
	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	repo := mock.NewMockEventRepository()
	svc := NewService(repo, blobs, config.ServerConfig{PublicURL: "https://photos.example.com/", Port: 8080})
	return svc, repo, blobs
}

func TestService_Create(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	ctx := context.Background()
	date := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)

	e, err := svc.Create(ctx, "ph-1", "  Wedding  ", date)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if e.Name != "Wedding" || !e.IsActive || e.PhotographerID != "ph-1" || !e.Date.Equal(date) {
		t.Errorf("unexpected event %+v", e)
	}
	if len(e.Code) != 8 || strings.ToUpper(e.Code) != e.Code {
		t.Errorf("expected 8 uppercase hex chars, got %q", e.Code)
	}

	stored, err := repo.GetByID(ctx, e.ID)
	if err != nil || stored.QRRef == "" {
		t.Fatalf("expected stored event with qr ref, got %+v, %v", stored, err)
	}
	data, err := blobs.Fetch(ctx, stored.QRRef)
	if err != nil {
		t.Fatalf("qr code not stored: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("qr code is not a png: %v", err)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name      string
		eventName string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"too long", strings.Repeat("x", 201)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "ph-1", tc.eventName, time.Time{})
			if !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}

func TestService_CreateDefaultsDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	e, err := svc.Create(context.Background(), "ph-1", "Party", time.Time{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if e.Date.IsZero() {
		t.Error("expected date to default to today")
	}
}

func TestService_CreateRepositoryError(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.CreateError = errors.New("database down")

	if _, err := svc.Create(context.Background(), "ph-1", "Party", time.Time{}); !errors.Is(err, repo.CreateError) {
		t.Errorf("expected wrapped repository error, got %v", err)
	}
}

func TestService_CreateGivesUpOnCodeCollisions(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.CreateError = database.ErrEventCodeTaken

	if _, err := svc.Create(context.Background(), "ph-1", "Party", time.Time{}); !errors.Is(err, database.ErrEventCodeTaken) {
		t.Errorf("expected ErrEventCodeTaken, got %v", err)
	}
}

func TestService_QRCodeRendersMissingBlob(t *testing.T) {
	svc, _, _ := newTestService(t)
	e := &database.Event{Code: "ABCD1234", QRRef: "sha256/" + strings.Repeat("0", 64) + ".png"}

	data, err := svc.QRCode(context.Background(), e)
	if err != nil {
		t.Fatalf("QRCode failed: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("expected png, got %v", err)
	}
}

func TestService_GuestURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	if got := svc.GuestURL("ABCD1234"); got != "https://photos.example.com/event.html?code=ABCD1234" {
		t.Errorf("unexpected guest url %q", got)
	}
}
