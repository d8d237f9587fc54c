package msgcontext

import (
	"sync"
	"time"

	"github.com/finbot/pkg/entities"
)

// Entry maps a platform-opaque chat identifier back to the session and
// platform an inbound message arrived on, so reply dispatch can find its way
// home.
type Entry struct {
	SessionID         string
	Platform          entities.Platform
	ApplicationUserID string
	LastActivity      time.Time
	ExpiresAt         time.Time
}

// Router is a short-TTL directory keyed by platform chat id. It owns its map
// independently and never touches session durability.
type Router struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	sweep   time.Duration
	stop    chan struct{}
	once    sync.Once
	now     func() time.Time
}

func NewRouter(ttl, sweepInterval time.Duration) *Router {
	r := &Router{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		sweep:   sweepInterval,
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go r.sweepLoop()
	return r
}

// Register upserts the routing entry and refreshes its expiry.
func (r *Router) Register(platformChatID, sessionID string, platform entities.Platform, applicationUserID string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[platformChatID] = &Entry{
		SessionID:         sessionID,
		Platform:          platform,
		ApplicationUserID: applicationUserID,
		LastActivity:      now,
		ExpiresAt:         now.Add(r.ttl),
	}
}

// Lookup returns the entry for the chat id. An expired entry is treated as
// not-found and evicted lazily, even if the sweep has not run.
func (r *Router) Lookup(platformChatID string) (Entry, bool) {
	r.mu.RLock()
	entry, ok := r.entries[platformChatID]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	if r.now().After(entry.ExpiresAt) {
		r.mu.Lock()
		// Re-check under the write lock; a Register may have refreshed it.
		if cur, still := r.entries[platformChatID]; still && r.now().After(cur.ExpiresAt) {
			delete(r.entries, platformChatID)
		}
		r.mu.Unlock()
		return Entry{}, false
	}
	return *entry, true
}

// Renew extends the entry's expiry without changing its routing.
func (r *Router) Renew(platformChatID string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[platformChatID]
	if !ok || now.After(entry.ExpiresAt) {
		return false
	}
	entry.LastActivity = now
	entry.ExpiresAt = now.Add(r.ttl)
	return true
}

// Remove deletes the entry explicitly.
func (r *Router) Remove(platformChatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, platformChatID)
}

// Len reports the number of stored entries, expired ones included.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close stops the background sweep.
func (r *Router) Close() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Router) sweepLoop() {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepExpired()
		case <-r.stop:
			return
		}
	}
}

// sweepExpired bounds memory even with no read traffic.
func (r *Router) sweepExpired() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, entry := range r.entries {
		if now.After(entry.ExpiresAt) {
			delete(r.entries, chatID)
		}
	}
}
