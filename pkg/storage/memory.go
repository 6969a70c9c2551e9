package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront-fulfillment/internal/domain"
)

const memoryURLPrefix = "mem://evidence"

type memoryObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// MemoryStorage is a process local BlobStore. Failures can be injected for tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time

	FailUpload error
	FailRemove error
	FailList   error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// SetClock overrides the modification time source.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStorage) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpload != nil {
		return "", s.FailUpload
	}
	s.objects[path] = memoryObject{
		data:         append([]byte(nil), data...),
		contentType:  contentType,
		lastModified: s.now(),
	}
	return fmt.Sprintf("%s/%s", memoryURLPrefix, path), nil
}

func (s *MemoryStorage) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRemove != nil {
		return s.FailRemove
	}
	delete(s.objects, path)
	return nil
}

func (s *MemoryStorage) PathFromURL(fileURL string) (string, error) {
	return keyFromURL(memoryURLPrefix, fileURL)
}

func (s *MemoryStorage) List(_ context.Context, prefix string) ([]domain.BlobObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailList != nil {
		return nil, s.FailList
	}
	var out []domain.BlobObject
	for path, obj := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobObject{Path: path, LastModified: obj.lastModified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Has reports whether path is stored.
func (s *MemoryStorage) Has(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok
}

func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
