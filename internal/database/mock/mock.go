// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/index"
)

// MockPhotographerRepository is a mock implementation of database.PhotographerRepository
type MockPhotographerRepository struct {
	mu            sync.RWMutex
	photographers map[string]*database.Photographer

	// Error injection
	CreateError error
	GetError    error
}

// NewMockPhotographerRepository creates a new mock photographer repository
func NewMockPhotographerRepository() *MockPhotographerRepository {
	return &MockPhotographerRepository{photographers: make(map[string]*database.Photographer)}
}

// Create stores a photographer
func (m *MockPhotographerRepository) Create(ctx context.Context, p *database.Photographer) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Email = database.NormalizeEmail(p.Email)
	for _, existing := range m.photographers {
		if existing.Email == p.Email {
			return database.ErrEmailTaken
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = time.Now()
	stored := *p
	m.photographers[p.ID] = &stored
	return nil
}

// GetByID retrieves a photographer by ID
func (m *MockPhotographerRepository) GetByID(ctx context.Context, id string) (*database.Photographer, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photographers[id]
	if !ok {
		return nil, database.ErrPhotographerNotFound
	}
	out := *p
	return &out, nil
}

// GetByEmail retrieves a photographer by email
func (m *MockPhotographerRepository) GetByEmail(ctx context.Context, email string) (*database.Photographer, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = database.NormalizeEmail(email)
	for _, p := range m.photographers {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, database.ErrPhotographerNotFound
}

// MockEventRepository is a mock implementation of database.EventRepository.
// When Photos is set, deleting an event cascades to its photos.
type MockEventRepository struct {
	mu     sync.RWMutex
	events map[string]*database.Event

	Photos *MockPhotoRepository

	// Error injection
	CreateError  error
	GetError     error
	ResolveError error
	ListError    error
	DeleteError  error
}

// NewMockEventRepository creates a new mock event repository
func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[string]*database.Event)}
}

// AddEvent adds an event to the mock store
func (m *MockEventRepository) AddEvent(e database.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = &e
}

// Create stores an event
func (m *MockEventRepository) Create(ctx context.Context, e *database.Event) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.events {
		if existing.Code == e.Code {
			return database.ErrEventCodeTaken
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now()
	stored := *e
	m.events[e.ID] = &stored
	return nil
}

// GetByID retrieves an event by ID
func (m *MockEventRepository) GetByID(ctx context.Context, id string) (*database.Event, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, database.ErrEventNotFound
	}
	out := *e
	return &out, nil
}

// ResolveEventByCode returns the active event with the given code
func (m *MockEventRepository) ResolveEventByCode(ctx context.Context, code string) (*database.Event, error) {
	if m.ResolveError != nil {
		return nil, m.ResolveError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	code = database.NormalizeEventCode(code)
	for _, e := range m.events {
		if e.Code == code && e.IsActive {
			out := *e
			return &out, nil
		}
	}
	return nil, database.ErrEventNotFound
}

// ListByPhotographer returns the photographer's events, newest first
func (m *MockEventRepository) ListByPhotographer(ctx context.Context, photographerID string) ([]database.EventSummary, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.EventSummary
	for _, e := range m.events {
		if e.PhotographerID != photographerID {
			continue
		}
		s := database.EventSummary{Event: *e}
		if m.Photos != nil {
			s.PhotoCount = m.Photos.countForEvent(e.ID)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes an event and, if linked, its photos
func (m *MockEventRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return database.ErrEventNotFound
	}
	delete(m.events, id)
	if m.Photos != nil {
		m.Photos.deleteForEvent(id)
	}
	return nil
}

// MockPhotoRepository is a mock implementation of database.PhotoRepository
type MockPhotoRepository struct {
	mu     sync.RWMutex
	photos map[string]*database.Photo

	// Error injection
	CreateError         error
	GetError            error
	ListError           error
	PhotosForEventError error
	SetDescriptorError  error
	FindSimilarError    error
}

// NewMockPhotoRepository creates a new mock photo repository
func NewMockPhotoRepository() *MockPhotoRepository {
	return &MockPhotoRepository{photos: make(map[string]*database.Photo)}
}

// AddPhoto adds a photo to the mock store
func (m *MockPhotoRepository) AddPhoto(p database.Photo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Descriptor = slices.Clone(p.Descriptor)
	m.photos[p.ID] = &p
}

// Create stores a photo
func (m *MockPhotoRepository) Create(ctx context.Context, p *database.Photo) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UploadedAt = time.Now()
	stored := *p
	stored.Descriptor = slices.Clone(p.Descriptor)
	m.photos[p.ID] = &stored
	return nil
}

// Get retrieves a photo by ID
func (m *MockPhotoRepository) Get(ctx context.Context, id string) (*database.Photo, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[id]
	if !ok {
		return nil, database.ErrPhotoNotFound
	}
	out := *p
	out.Descriptor = slices.Clone(p.Descriptor)
	return &out, nil
}

// ListByEvent returns the event's photos ordered by upload time
func (m *MockPhotoRepository) ListByEvent(ctx context.Context, eventID string) ([]database.Photo, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Photo
	for _, p := range m.photos {
		if p.EventID == eventID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.Before(out[j].UploadedAt)
	})
	return out, nil
}

// PhotosForEvent returns index references for the event's photos
func (m *MockPhotoRepository) PhotosForEvent(ctx context.Context, eventID string) ([]database.PhotoRef, error) {
	if m.PhotosForEventError != nil {
		return nil, m.PhotosForEventError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.PhotoRef
	for _, p := range m.photos {
		if p.EventID != eventID {
			continue
		}
		out = append(out, database.PhotoRef{
			PhotoID:         p.ID,
			BlobRef:         p.BlobRef,
			Descriptor:      slices.Clone(p.Descriptor),
			DescriptorModel: p.DescriptorModel,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhotoID < out[j].PhotoID })
	return out, nil
}

// SetDescriptor stores a descriptor for a photo that has none
func (m *MockPhotoRepository) SetDescriptor(ctx context.Context, photoID string, descriptor []float32, model string) error {
	if m.SetDescriptorError != nil {
		return m.SetDescriptorError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[photoID]
	if !ok {
		return database.ErrPhotoNotFound
	}
	if len(p.Descriptor) > 0 {
		if slices.Equal(p.Descriptor, descriptor) {
			return nil
		}
		return database.ErrDescriptorExists
	}
	p.Descriptor = slices.Clone(descriptor)
	p.DescriptorModel = model
	return nil
}

// FindSimilarInEvent scans the event's descriptors by cosine distance
func (m *MockPhotoRepository) FindSimilarInEvent(ctx context.Context, eventID string, probe []float32, limit int) ([]database.SimilarPhoto, error) {
	if m.FindSimilarError != nil {
		return nil, m.FindSimilarError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.SimilarPhoto
	for _, p := range m.photos {
		if p.EventID != eventID || len(p.Descriptor) != len(probe) {
			continue
		}
		out = append(out, database.SimilarPhoto{
			PhotoID:  p.ID,
			Distance: index.CosineDistance(probe, p.Descriptor),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].PhotoID < out[j].PhotoID
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// eventOf returns the event of a photo, or "".
func (m *MockPhotoRepository) eventOf(photoID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.photos[photoID]; ok {
		return p.EventID
	}
	return ""
}

func (m *MockPhotoRepository) countForEvent(eventID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.photos {
		if p.EventID == eventID {
			n++
		}
	}
	return n
}

func (m *MockPhotoRepository) deleteForEvent(eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.photos {
		if p.EventID == eventID {
			delete(m.photos, id)
		}
	}
}

// MockMatchRecordRepository is a mock implementation of database.MatchRecordRepository.
// When Photos is set, every matched photo must belong to the record's event.
type MockMatchRecordRepository struct {
	mu      sync.RWMutex
	records map[string]*database.MatchRecord
	order   []string

	Photos *MockPhotoRepository

	// Error injection
	CreateError error
	GetError    error
}

// NewMockMatchRecordRepository creates a new mock match record repository
func NewMockMatchRecordRepository() *MockMatchRecordRepository {
	return &MockMatchRecordRepository{records: make(map[string]*database.MatchRecord)}
}

// CreateMatchRecord stores a record
func (m *MockMatchRecordRepository) CreateMatchRecord(ctx context.Context, r *database.MatchRecord) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	if m.Photos != nil {
		for _, mp := range r.Matches {
			if m.Photos.eventOf(mp.PhotoID) != r.EventID {
				return fmt.Errorf("%w: %s", database.ErrPhotoNotInEvent, mp.PhotoID)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if _, ok := m.records[r.ID]; ok {
		return fmt.Errorf("match record %s already exists", r.ID)
	}
	r.CreatedAt = time.Now()
	stored := *r
	stored.Matches = slices.Clone(r.Matches)
	m.records[r.ID] = &stored
	m.order = append(m.order, r.ID)
	return nil
}

// GetMatchRecord retrieves a record by ID
func (m *MockMatchRecordRepository) GetMatchRecord(ctx context.Context, id string) (*database.MatchRecord, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, database.ErrMatchRecordNotFound
	}
	out := *r
	out.Matches = slices.Clone(r.Matches)
	return &out, nil
}

// CountForEvent returns the number of records of an event
func (m *MockMatchRecordRepository) CountForEvent(ctx context.Context, eventID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.EventID == eventID {
			n++
		}
	}
	return n, nil
}

// Records returns all stored records in insertion order
func (m *MockMatchRecordRepository) Records() []database.MatchRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.MatchRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.records[id])
	}
	return out
}

// ContainsPhoto reports whether any record references the photo.
func (m *MockMatchRecordRepository) ContainsPhoto(photoID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		for _, mp := range r.Matches {
			if mp.PhotoID == photoID {
				return true
			}
		}
	}
	return false
}
