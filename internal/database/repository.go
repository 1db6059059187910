package database

import (
	"context"
)

// PhotographerRepository stores photographer accounts.
type PhotographerRepository interface {
	// Create inserts a photographer, filling ID and CreatedAt. Returns ErrEmailTaken on duplicates.
	Create(ctx context.Context, p *Photographer) error
	GetByID(ctx context.Context, id string) (*Photographer, error)
	// GetByEmail looks up a photographer by normalized email.
	GetByEmail(ctx context.Context, email string) (*Photographer, error)
}

// EventReader resolves events.
type EventReader interface {
	GetByID(ctx context.Context, id string) (*Event, error)
	// ResolveEventByCode returns the active event with the given code or ErrEventNotFound.
	ResolveEventByCode(ctx context.Context, code string) (*Event, error)
	// ListByPhotographer returns the photographer's events, newest first.
	ListByPhotographer(ctx context.Context, photographerID string) ([]EventSummary, error)
}

// EventRepository stores events.
type EventRepository interface {
	EventReader

	// Create inserts an event, filling ID and CreatedAt. Returns ErrEventCodeTaken on duplicate codes.
	Create(ctx context.Context, e *Event) error
	// Delete removes the event together with its photos and match records.
	Delete(ctx context.Context, id string) error
}

// PhotoReader reads photos.
type PhotoReader interface {
	Get(ctx context.Context, id string) (*Photo, error)
	ListByEvent(ctx context.Context, eventID string) ([]Photo, error)
	// PhotosForEvent returns every photo of an event ordered by id, with stored descriptors if any.
	PhotosForEvent(ctx context.Context, eventID string) ([]PhotoRef, error)
	// FindSimilarInEvent runs a cosine distance search over the stored descriptors of one event.
	FindSimilarInEvent(ctx context.Context, eventID string, probe []float32, limit int) ([]SimilarPhoto, error)
}

// PhotoRepository stores photos.
type PhotoRepository interface {
	PhotoReader

	// Create inserts a photo, filling ID and UploadedAt.
	Create(ctx context.Context, p *Photo) error
	// SetDescriptor stores the descriptor of a photo that has none. Returns
	// ErrDescriptorExists if a different descriptor is already stored.
	SetDescriptor(ctx context.Context, photoID string, descriptor []float32, model string) error
}

// MatchRecordRepository stores guest match records. Records are never updated.
type MatchRecordRepository interface {
	// CreateMatchRecord inserts the record and its matches in one transaction.
	// Returns ErrPhotoNotInEvent if a match references a photo of another event.
	CreateMatchRecord(ctx context.Context, r *MatchRecord) error
	GetMatchRecord(ctx context.Context, id string) (*MatchRecord, error)
	CountForEvent(ctx context.Context, eventID string) (int, error)
}
