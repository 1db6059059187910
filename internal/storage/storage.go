// Package storage keeps uploaded images in a content-addressed blob store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"

	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/extractor"
)

// ErrNotFound is returned when a ref does not resolve to a blob.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidRef is returned for refs that were not produced by Ref.
var ErrInvalidRef = errors.New("invalid blob ref")

// BlobStore stores immutable blobs by content hash.
type BlobStore interface {
	// Store saves data and returns its ref. Storing the same bytes twice returns the same ref.
	Store(ctx context.Context, data []byte, contentType string) (string, error)
	// Fetch returns the blob for a ref or ErrNotFound.
	Fetch(ctx context.Context, ref string) ([]byte, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

var refPattern = regexp.MustCompile(`^sha256/[0-9a-f]{64}(\.[a-z0-9]{1,5})?$`)

// Ref returns the content address of data: sha256/<hex><ext>.
func Ref(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return "sha256/" + hex.EncodeToString(sum[:]) + extractor.ExtensionFor(contentType)
}

// ValidateRef rejects refs that could escape the store namespace.
func ValidateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// New returns the MinIO store when configured, the local filesystem store otherwise.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	if cfg.MinIO.Enabled() {
		s, err := NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	return NewLocalStore(cfg.Dir)
}
