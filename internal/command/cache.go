package command

import (
	"sync"

	"github.com/snarg/musicbot/internal/musicapi"
)

// ResultCache holds the most recent search results per conversation.
type ResultCache interface {
	Get(key string) ([]musicapi.Song, bool)
	Set(key string, songs []musicapi.Song)
	Clear()
	Len() int
}

// Key derives the cache key for a conversation: "<group>_<sender>" inside a
// group, the sender ID alone in a private chat.
func Key(senderID, groupID string) string {
	if groupID != "" {
		return groupID + "_" + senderID
	}
	return senderID
}

// MemoryCache is an in-process ResultCache. Entries are independent and a
// concurrent Set on the same key is last-write-wins.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]musicapi.Song
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]musicapi.Song)}
}

func (c *MemoryCache) Get(key string) ([]musicapi.Song, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	songs, ok := c.entries[key]
	return songs, ok
}

// Set replaces the entry for key. The slice is copied.
func (c *MemoryCache) Set(key string, songs []musicapi.Song) {
	cp := make([]musicapi.Song, len(songs))
	copy(cp, songs)
	c.mu.Lock()
	c.entries[key] = cp
	c.mu.Unlock()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]musicapi.Song)
	c.mu.Unlock()
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
