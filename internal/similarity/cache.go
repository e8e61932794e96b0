package similarity

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/stepforge/pkg/provider/embeddings"
)

// Cache memoises embeddings for the lifetime of one pipeline run. Each
// distinct text is embedded at most once even under concurrent callers;
// later lookups return the identical slice. Failed computations are not
// cached. Callers must not modify returned vectors.
//
// Cache is safe for concurrent use.
type Cache struct {
	provider embeddings.Provider

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	done chan struct{}
	vec  []float32
	err  error
}

// NewCache returns an empty cache in front of p.
func NewCache(p embeddings.Provider) *Cache {
	return &Cache{provider: p, entries: make(map[string]*cacheEntry)}
}

// GetOrCompute returns the embedding of text, computing it on first use.
// Concurrent callers for the same text wait for a single computation.
func (c *Cache) GetOrCompute(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if e, ok := c.entries[text]; ok {
		c.mu.Unlock()
		return e.wait(ctx)
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[text] = e
	c.mu.Unlock()

	vec, err := c.provider.Embed(ctx, text)
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("similarity: empty embedding")
	}
	c.finish(text, e, vec, err)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Warm embeds every text not yet cached with a single batch call.
func (c *Cache) Warm(ctx context.Context, texts []string) error {
	c.mu.Lock()
	var missing []string
	pending := make(map[string]*cacheEntry)
	for _, t := range texts {
		if _, ok := c.entries[t]; ok {
			continue
		}
		if _, ok := pending[t]; ok {
			continue
		}
		e := &cacheEntry{done: make(chan struct{})}
		c.entries[t] = e
		pending[t] = e
		missing = append(missing, t)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return nil
	}

	vecs, err := c.provider.EmbedBatch(ctx, missing)
	if err == nil && len(vecs) != len(missing) {
		err = fmt.Errorf("similarity: warm: expected %d embeddings, got %d", len(missing), len(vecs))
	}
	for i, t := range missing {
		if err != nil {
			c.finish(t, pending[t], nil, err)
			continue
		}
		var entryErr error
		if len(vecs[i]) == 0 {
			entryErr = fmt.Errorf("similarity: empty embedding")
		}
		c.finish(t, pending[t], vecs[i], entryErr)
	}
	if err != nil {
		return fmt.Errorf("similarity: warm: %w", err)
	}
	return nil
}

func (c *Cache) finish(text string, e *cacheEntry, vec []float32, err error) {
	if err != nil {
		c.mu.Lock()
		if c.entries[text] == e {
			delete(c.entries, text)
		}
		c.mu.Unlock()
		e.err = err
	} else {
		e.vec = vec
	}
	close(e.done)
}

func (e *cacheEntry) wait(ctx context.Context) ([]float32, error) {
	select {
	case <-e.done:
		return e.vec, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached or in-flight texts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}
