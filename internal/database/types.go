package database

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEventNotFound is returned for unknown or inactive events.
	ErrEventNotFound = errors.New("event not found")
	// ErrPhotoNotFound is returned for unknown photos.
	ErrPhotoNotFound = errors.New("photo not found")
	// ErrPhotographerNotFound is returned for unknown photographers.
	ErrPhotographerNotFound = errors.New("photographer not found")
	// ErrMatchRecordNotFound is returned for unknown match records.
	ErrMatchRecordNotFound = errors.New("match record not found")
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = errors.New("email already registered")
	// ErrEventCodeTaken is returned when a generated event code collides.
	ErrEventCodeTaken = errors.New("event code already in use")
	// ErrPhotoNotInEvent is returned when a match record references a photo of another event.
	ErrPhotoNotInEvent = errors.New("photo does not belong to event")
	// ErrDescriptorExists is returned when overwriting a photo's descriptor.
	ErrDescriptorExists = errors.New("photo descriptor already set")
)

// Photographer owns events and uploads their photos.
type Photographer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Event groups the photos guests can search.
type Event struct {
	ID             string    `json:"id"`
	Code           string    `json:"eventCode"`
	Name           string    `json:"name"`
	Date           time.Time `json:"date"`
	PhotographerID string    `json:"photographerId"`
	QRRef          string    `json:"-"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventSummary is an event with its photo count.
type EventSummary struct {
	Event
	PhotoCount int `json:"photoCount"`
}

// Photo is an uploaded event photo. Descriptor is nil until indexed and never
// changes afterwards.
type Photo struct {
	ID              string    `json:"id"`
	EventID         string    `json:"eventId"`
	BlobRef         string    `json:"-"`
	Filename        string    `json:"filename"`
	Size            int64     `json:"size"`
	MimeType        string    `json:"mimeType"`
	UploadedAt      time.Time `json:"uploadedAt"`
	Descriptor      []float32 `json:"-"`
	DescriptorModel string    `json:"-"`
}

// Indexed reports whether the photo has a descriptor.
func (p *Photo) Indexed() bool {
	return len(p.Descriptor) > 0
}

// PhotoRef is the minimal view of a photo needed to build an index.
type PhotoRef struct {
	PhotoID         string
	BlobRef         string
	Descriptor      []float32
	DescriptorModel string
}

// MatchedPhoto is one ranked photo of a match record.
type MatchedPhoto struct {
	PhotoID string  `json:"photoId"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// MatchRecord is the append-only result of one guest submission.
type MatchRecord struct {
	ID        string         `json:"matchId"`
	EventID   string         `json:"eventId"`
	SelfieRef string         `json:"-"`
	Matches   []MatchedPhoto `json:"matches"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SimilarPhoto is a photo returned by a database-side vector search.
type SimilarPhoto struct {
	PhotoID  string
	Distance float64
}

// NewEventCode returns a random code of 8 uppercase hex characters.
func NewEventCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate event code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// NormalizeEventCode upper-cases and trims a user supplied code.
func NormalizeEventCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
