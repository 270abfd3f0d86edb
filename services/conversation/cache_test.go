package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbot/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(capacity int, window time.Duration, clock *fakeClock) *Cache {
	c := NewCache(capacity, window)
	c.now = clock.Now
	return c
}

func item(id string) models.MailItem {
	return models.MailItem{ID: id, Subject: "subject " + id, Body: "body " + id}
}

func TestInsert_DuplicateIsNoop(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10, time.Hour, clock)

	assert.True(t, c.Insert(item("a")))
	clock.Advance(time.Minute)

	dup := item("a")
	dup.Body = "changed"
	assert.False(t, c.Insert(dup))

	got, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "body a", got.Body)
	assert.Equal(t, 1, c.Len())
}

func TestInsert_CapacityEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(2, time.Hour, clock)

	c.Insert(item("A"))
	clock.Advance(time.Second)
	c.Insert(item("B"))
	clock.Advance(time.Second)
	c.Insert(item("C"))

	assert.Equal(t, []string{"B", "C"}, c.Keys())
	_, ok := c.Lookup("A")
	assert.False(t, ok)
}

func TestInsert_EvictedKeyCanBeInsertedAgain(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(1, time.Hour, clock)

	c.Insert(item("A"))
	c.Insert(item("B"))

	assert.True(t, c.Insert(item("A")))
	assert.Equal(t, []string{"A"}, c.Keys())
}

func TestLookup_WindowExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10, time.Hour, clock)

	c.Insert(item("A"))

	clock.Advance(59 * time.Minute)
	_, ok := c.Lookup("A")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Lookup("A")
	assert.False(t, ok)
}

func TestInsert_EvictsExpiredBeforeCapacity(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(3, time.Hour, clock)

	c.Insert(item("old"))
	clock.Advance(2 * time.Hour)
	c.Insert(item("new"))

	assert.Equal(t, []string{"new"}, c.Keys())
}

func TestPurge(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10, time.Minute, clock)

	c.Insert(item("a"))
	c.Insert(item("b"))
	clock.Advance(30 * time.Second)
	c.Insert(item("c"))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, []string{"c"}, c.Keys())
	assert.Equal(t, 0, c.Purge())
}

func TestNewCache_Defaults(t *testing.T) {
	c := NewCache(0, 0)
	assert.Equal(t, DefaultCapacity, c.capacity)
	assert.Equal(t, DefaultWindow, c.window)
}

func TestCache_ConcurrentInsertAndLookup(t *testing.T) {
	c := NewCache(50, time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("%d-%d", w, i%20)
				c.Insert(item(id))
				c.Lookup(id)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
	keys := c.Keys()
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}
