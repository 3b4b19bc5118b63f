package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// UploadStore keeps blobs in process. References look like "mem://<uuid>/<filename>".
type UploadStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewUploadStore creates an empty in-memory upload store
func NewUploadStore() *UploadStore {
	return &UploadStore{blobs: make(map[string][]byte)}
}

// Store reads the whole body and returns its reference
func (s *UploadStore) Store(ctx context.Context, upload domain.Upload) (string, error) {
	if upload.Body == nil {
		return "", errors.New("upload has no body")
	}
	data, err := io.ReadAll(upload.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	ref := fmt.Sprintf("mem://%s/%s", uuid.NewString(), upload.Filename)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = data
	return ref, nil
}

// Remove deletes the blob behind ref; unknown refs are ignored
func (s *UploadStore) Remove(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

// Get returns the stored bytes for ref
func (s *UploadStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[ref]
	return data, ok
}

// Len returns the number of stored blobs
func (s *UploadStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
