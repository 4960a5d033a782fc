package zmachine

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
)

// ---------------------------------------------------------------------------
// StoryCache: content-addressed index for parsed stories
// ---------------------------------------------------------------------------

// StoryCache deduplicates parsed story images by content hash. Parallel
// environments over the same game share one pristine image; a Story is
// immutable, so sharing is safe without further locking.
type StoryCache struct {
	mu      sync.RWMutex
	stories map[[32]byte]*Story
}

// NewStoryCache creates an empty story cache.
func NewStoryCache() *StoryCache {
	return &StoryCache{
		stories: make(map[[32]byte]*Story),
	}
}

// HashStory computes the content hash of a story image.
func HashStory(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Load parses the image, reusing the cached Story when the same bytes were
// loaded before.
func (sc *StoryCache) Load(data []byte) (*Story, error) {
	h := HashStory(data)

	sc.mu.RLock()
	s := sc.stories[h]
	sc.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	s, err := LoadStory(data)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if prior, ok := sc.stories[h]; ok {
		return prior, nil
	}
	sc.stories[h] = s
	return s, nil
}

// LoadFile reads and parses a story file through the cache.
func (sc *StoryCache) LoadFile(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story file: %w", err)
	}
	s, err := sc.Load(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// Lookup returns the cached story for the given hash.
func (sc *StoryCache) Lookup(h [32]byte) (*Story, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	s, ok := sc.stories[h]
	return s, ok
}

// Len returns the number of cached stories.
func (sc *StoryCache) Len() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return len(sc.stories)
}
