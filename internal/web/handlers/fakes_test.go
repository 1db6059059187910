package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/kozaktomas/event-photos/internal/queue"
)

// fakeIndexes records index updates made by handlers
type fakeIndexes struct {
	mu          sync.Mutex
	inserted    map[string][]float32
	invalidated []string
	insertErr   error
}

func newFakeIndexes() *fakeIndexes {
	return &fakeIndexes{inserted: map[string][]float32{}}
}

func (f *fakeIndexes) Insert(eventID, photoID string, descriptor []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted[eventID+"/"+photoID] = descriptor
	return nil
}

func (f *fakeIndexes) Invalidate(eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, eventID)
}

// fakePublisher records queued uploads
type fakePublisher struct {
	mu       sync.Mutex
	messages []queue.PhotoUploaded
	err      error
}

func (f *fakePublisher) PublishUploaded(_ context.Context, msg queue.PhotoUploaded) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

var errBoom = errors.New("boom")
