// Package ctxcache correlates asynchronous requests with their replies.
//
// A Cache belongs to exactly one connection. Opening an entry yields a
// context id that travels in the outgoing message; the handler that later
// receives the matching reply resolves the id back to the stored payload.
// Every entry is consumed at most once: Resolve removes it whatever the
// outcome, and entries older than the configured maximum age are evicted
// and become indistinguishable from entries that never existed.
package ctxcache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrCorrelation is the parent of every resolution failure.
	ErrCorrelation = errors.New("correlation failure")
	// ErrNotFound is returned for unknown, consumed or expired context ids.
	ErrNotFound = fmt.Errorf("%w: context not found", ErrCorrelation)
	// ErrTypeMismatch is returned when the reply type differs from the
	// expected type. The entry is removed regardless.
	ErrTypeMismatch = fmt.Errorf("%w: context type mismatch", ErrCorrelation)
	// ErrClosed is returned by Open after Close.
	ErrClosed = errors.New("context cache closed")
)

// IDSource issues fresh context identifiers.
type IDSource interface {
	Next() string
}

// Entry is one pending request awaiting its correlated reply.
type Entry struct {
	ID           string
	ExpectedType string
	Payload      interface{}
	CreatedAt    time.Time
}

// Cache is a per-connection table of pending requests. It is safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	closed  bool

	ids    IDSource
	maxAge time.Duration
	clock  TimeProvider
	owner  string
}

// New creates a cache. maxAge of zero disables age based eviction. owner is
// used in log fields only.
func New(owner string, ids IDSource, maxAge time.Duration) *Cache {
	return NewWithTimeProvider(owner, ids, maxAge, DefaultTimeProvider{})
}

// NewWithTimeProvider creates a cache with an injected clock.
func NewWithTimeProvider(owner string, ids IDSource, maxAge time.Duration, clock TimeProvider) *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		ids:     ids,
		maxAge:  maxAge,
		clock:   clock,
		owner:   owner,
	}
}

// Open stores payload and returns the context id that identifies it.
func (c *Cache) Open(expectedType string, payload interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrClosed
	}

	id := c.ids.Next()
	if _, exists := c.entries[id]; exists {
		return "", fmt.Errorf("context id %q already pending", id)
	}
	c.entries[id] = &Entry{
		ID:           id,
		ExpectedType: expectedType,
		Payload:      payload,
		CreatedAt:    c.clock.Now(),
	}
	return id, nil
}

// Resolve consumes the entry for id. It returns ErrNotFound for ids that are
// unknown, already consumed or expired, and ErrTypeMismatch when the reply
// type is not the expected one. The entry is removed in every case.
func (c *Cache) Resolve(id, actualType string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(c.entries, id)

	if c.expired(entry) {
		return nil, ErrNotFound
	}
	if entry.ExpectedType != actualType {
		logrus.WithFields(logrus.Fields{
			"function": "Resolve",
			"owner":    c.owner,
			"expected": entry.ExpectedType,
			"actual":   actualType,
		}).Warn("Context type mismatch")
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, entry.ExpectedType, actualType)
	}
	return entry.Payload, nil
}

// EvictExpired removes every entry older than the maximum age and returns
// how many were removed. The original senders are not notified.
func (c *Cache) EvictExpired() int {
	if c.maxAge <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "EvictExpired",
			"owner":    c.owner,
			"evicted":  evicted,
		}).Debug("Evicted abandoned contexts")
	}
	return evicted
}

// Close abandons every pending entry and returns them. Later calls to Open
// fail with ErrClosed and Resolve finds nothing.
func (c *Cache) Close() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	abandoned := make([]Entry, 0, len(c.entries))
	for id, entry := range c.entries {
		abandoned = append(abandoned, *entry)
		delete(c.entries, id)
	}
	return abandoned
}

// Len returns the number of pending entries, including expired entries
// that have not been swept yet.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expired(entry *Entry) bool {
	return c.maxAge > 0 && c.clock.Now().Sub(entry.CreatedAt) >= c.maxAge
}
