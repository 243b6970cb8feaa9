// Package vocab caches per-user custom vocabulary for the transcription
// worker. The backing store is an external collaborator; entries are held
// in a TTL-bounded LRU so repeated slices within one session do not hit
// the store on every request. Invalidation is explicit and owned by the
// dictionary-management side.
package vocab

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Entry is one custom-vocabulary word with optional usage context
type Entry struct {
	Word    string `json:"word"`
	Context string `json:"context,omitempty"`
}

// Provider loads vocabulary entries for a user from the backing store
type Provider interface {
	Vocabulary(ctx context.Context, userID string) ([]Entry, error)
}

// Config contains cache parameters
type Config struct {
	TTL     time.Duration
	MaxSize int
}

// Cache is a TTL-bounded per-user vocabulary cache
type Cache struct {
	provider Provider
	entries  *expirable.LRU[string, []Entry]
}

// NewCache creates a cache in front of the given provider
func NewCache(provider Provider, config Config) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 128
	}

	return &Cache{
		provider: provider,
		entries:  expirable.NewLRU[string, []Entry](config.MaxSize, nil, config.TTL),
	}, nil
}

// Get returns the user's vocabulary, loading it through the provider on a
// cache miss. A load failure is returned to the caller; nothing is cached.
func (c *Cache) Get(ctx context.Context, userID string) ([]Entry, error) {
	if cached, ok := c.entries.Get(userID); ok {
		return cached, nil
	}

	entries, err := c.provider.Vocabulary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary for user %s: %w", userID, err)
	}

	c.entries.Add(userID, entries)
	return entries, nil
}

// Invalidate drops one user's cached vocabulary
func (c *Cache) Invalidate(userID string) {
	c.entries.Remove(userID)
}

// Purge drops all cached vocabulary
func (c *Cache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached users
func (c *Cache) Len() int {
	return c.entries.Len()
}
