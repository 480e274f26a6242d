package ctxcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/botcomet/idgen"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestCache(maxAge time.Duration) (*Cache, *mockClock) {
	clock := &mockClock{now: time.Unix(1000, 0)}
	return NewWithTimeProvider("test", idgen.New(), maxAge, clock), clock
}

func TestOpenResolve(t *testing.T) {
	c, _ := newTestCache(0)

	id, err := c.Open("plugin_verify_response", []byte("secret"))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, c.Len())

	payload, err := c.Resolve(id, "plugin_verify_response")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), payload)
	assert.Zero(t, c.Len())
}

func TestResolveIsExactlyOnce(t *testing.T) {
	c, _ := newTestCache(0)

	id, err := c.Open("a", 1)
	require.NoError(t, err)
	_, err = c.Resolve(id, "a")
	require.NoError(t, err)

	_, err = c.Resolve(id, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTypeMismatchStillConsumes(t *testing.T) {
	c, _ := newTestCache(0)

	id, err := c.Open("plugin_verify_response", 1)
	require.NoError(t, err)

	_, err = c.Resolve(id, "message_create")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.ErrorIs(t, err, ErrCorrelation)

	_, err = c.Resolve(id, "plugin_verify_response")
	assert.ErrorIs(t, err, ErrNotFound, "second resolve after mismatch must not find the entry")
}

func TestUnknownContext(t *testing.T) {
	c, _ := newTestCache(0)
	_, err := c.Resolve("nope", "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrCorrelation)
}

func TestExpiredEntriesLookAbsent(t *testing.T) {
	c, clock := newTestCache(10 * time.Second)

	stale, err := c.Open("a", 1)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	fresh, err := c.Open("a", 2)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)

	// stale is exactly at max age: resolve must not return it even before a sweep
	_, err = c.Resolve(stale, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	payload, err := c.Resolve(fresh, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, payload)
}

func TestEvictExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	_, err := c.Open("a", 1)
	require.NoError(t, err)
	_, err = c.Open("a", 2)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	keep, err := c.Open("a", 3)
	require.NoError(t, err)

	assert.Zero(t, c.EvictExpired())
	clock.Advance(45 * time.Second)
	assert.Equal(t, 2, c.EvictExpired())
	assert.Equal(t, 1, c.Len())

	payload, err := c.Resolve(keep, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, payload)
}

func TestEvictDisabledWithoutMaxAge(t *testing.T) {
	c, clock := newTestCache(0)
	_, err := c.Open("a", 1)
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	assert.Zero(t, c.EvictExpired())
	assert.Equal(t, 1, c.Len())
}

func TestCloseAbandonsEntries(t *testing.T) {
	c, _ := newTestCache(0)

	id, err := c.Open("a", 1)
	require.NoError(t, err)
	_, err = c.Open("b", 2)
	require.NoError(t, err)

	abandoned := c.Close()
	assert.Len(t, abandoned, 2)

	_, err = c.Resolve(id, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Open("a", 3)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCachesAreIsolated(t *testing.T) {
	ids := idgen.New()
	a := New("a", ids, 0)
	b := New("b", ids, 0)

	idA, err := a.Open("plugin_verify_response", "challenge-a")
	require.NoError(t, err)
	idB, err := b.Open("plugin_verify_response", "challenge-b")
	require.NoError(t, err)

	_, err = b.Resolve(idA, "plugin_verify_response")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = a.Resolve(idB, "plugin_verify_response")
	assert.ErrorIs(t, err, ErrNotFound)

	// the failed cross resolution did not disturb the owners
	payload, err := a.Resolve(idA, "plugin_verify_response")
	require.NoError(t, err)
	assert.Equal(t, "challenge-a", payload)
}

func TestConcurrentResolveOnlyOneWins(t *testing.T) {
	c, _ := newTestCache(0)
	id, err := c.Open("a", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(id, "a"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
