package playback

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// clipScheme prefixes locators backed by the in-memory clip store.
const clipScheme = "clip://"

// ClipStore registers synthesized audio payloads under transient
// locators. A locator stays valid until released; the device capability
// revokes it when the resource playing it is released.
type ClipStore struct {
	mu    sync.Mutex
	clips map[string][]byte
}

// NewClipStore creates an empty clip store.
func NewClipStore() *ClipStore {
	return &ClipStore{clips: make(map[string][]byte)}
}

// Add registers an audio payload and returns its locator.
func (s *ClipStore) Add(data []byte) string {
	locator := clipScheme + uuid.NewString()
	s.mu.Lock()
	s.clips[locator] = data
	s.mu.Unlock()
	return locator
}

// Get resolves a locator to its payload.
func (s *ClipStore) Get(locator string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.clips[locator]
	return data, ok
}

// Release revokes a locator. Releasing an unknown or already released
// locator does nothing.
func (s *ClipStore) Release(locator string) {
	s.mu.Lock()
	delete(s.clips, locator)
	s.mu.Unlock()
}

// Len reports how many clips are currently registered.
func (s *ClipStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

// IsClipLocator reports whether the locator refers to a stored clip
// rather than a file path.
func IsClipLocator(locator string) bool {
	return strings.HasPrefix(locator, clipScheme)
}
