package conversation

import (
	"sync"
	"time"

	"github.com/customeros/mailbot/internal/models"
)

const (
	DefaultCapacity = 100
	DefaultWindow   = time.Hour
)

// Entry is a cached mail item keyed by its conversation key.
type Entry struct {
	ConversationKey string
	Item            models.MailItem
	InsertedAt      time.Time
}

// Cache keeps recently observed mail for deduplication and reply correlation.
// It holds at most capacity entries and nothing older than window is ever returned.
type Cache struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	now      func() time.Time

	// insertion order, oldest first
	entries []Entry
	index   map[string]struct{}
}

func NewCache(capacity int, window time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		index:    make(map[string]struct{}, capacity),
	}
}

// Insert stores the item unless its id is already cached. It returns true when the item is new.
func (c *Cache) Insert(item models.MailItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[item.ID]; ok {
		return false
	}

	now := c.now()
	c.entries = append(c.entries, Entry{ConversationKey: item.ID, Item: item, InsertedAt: now})
	c.index[item.ID] = struct{}{}

	c.evictExpiredLocked(now)
	for len(c.entries) > c.capacity {
		c.removeFirstLocked()
	}
	return true
}

// Lookup returns the cached item for key. Expired entries are misses.
func (c *Cache) Lookup(key string) (models.MailItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[key]; !ok {
		return models.MailItem{}, false
	}
	cutoff := c.now().Add(-c.window)
	for _, e := range c.entries {
		if e.ConversationKey != key {
			continue
		}
		if e.InsertedAt.Before(cutoff) {
			return models.MailItem{}, false
		}
		return e.Item, true
	}
	return models.MailItem{}, false
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.entries)
	c.evictExpiredLocked(c.now())
	return before - len(c.entries)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.ConversationKey)
	}
	return keys
}

// entries are ordered by InsertedAt, so expired ones are always a prefix
func (c *Cache) evictExpiredLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	for len(c.entries) > 0 && c.entries[0].InsertedAt.Before(cutoff) {
		c.removeFirstLocked()
	}
}

func (c *Cache) removeFirstLocked() {
	delete(c.index, c.entries[0].ConversationKey)
	c.entries[0] = Entry{}
	c.entries = c.entries[1:]
}
