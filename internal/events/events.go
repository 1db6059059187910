// Package events creates events together with their guest QR codes.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/storage"
	"github.com/skip2/go-qrcode"
)

// QRSize is the edge length of generated QR codes in pixels.
const QRSize = 512

// maxCodeAttempts bounds retries on event code collisions.
const maxCodeAttempts = 5

// ErrInvalidEvent is returned for events that fail validation.
var ErrInvalidEvent = errors.New("invalid event")

// Service creates and removes events.
type Service struct {
	events database.EventRepository
	blobs  storage.BlobStore
	server config.ServerConfig
}

// NewService creates an event service.
func NewService(events database.EventRepository, blobs storage.BlobStore, server config.ServerConfig) *Service {
	return &Service{events: events, blobs: blobs, server: server}
}

// Create stores a new active event with a fresh code and its QR code.
func (s *Service) Create(ctx context.Context, photographerID, name string, date time.Time) (*database.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if len(name) > 200 {
		return nil, fmt.Errorf("%w: name is too long", ErrInvalidEvent)
	}
	if date.IsZero() {
		date = time.Now().UTC().Truncate(24 * time.Hour)
	}

	for range maxCodeAttempts {
		code, err := database.NewEventCode()
		if err != nil {
			return nil, err
		}

		png, err := s.render(code)
		if err != nil {
			return nil, err
		}
		qrRef, err := s.blobs.Store(ctx, png, "image/png")
		if err != nil {
			return nil, fmt.Errorf("store qr code: %w", err)
		}

		e := &database.Event{
			Code:           code,
			Name:           name,
			Date:           date,
			PhotographerID: photographerID,
			QRRef:          qrRef,
			IsActive:       true,
		}
		err = s.events.Create(ctx, e)
		if errors.Is(err, database.ErrEventCodeTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create event: %w", err)
		}
		return e, nil
	}
	return nil, fmt.Errorf("create event: %w after %d attempts", database.ErrEventCodeTaken, maxCodeAttempts)
}

// QRCode returns the PNG QR code of an event, rendering it again if the stored
// copy is missing.
func (s *Service) QRCode(ctx context.Context, e *database.Event) ([]byte, error) {
	if e.QRRef != "" {
		data, err := s.blobs.Fetch(ctx, e.QRRef)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("fetch qr code: %w", err)
		}
	}
	return s.render(e.Code)
}

// GuestURL returns the address encoded in an event's QR code.
func (s *Service) GuestURL(code string) string {
	return s.server.EventURL(code)
}

func (s *Service) render(code string) ([]byte, error) {
	png, err := qrcode.Encode(s.server.EventURL(code), qrcode.Medium, QRSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
