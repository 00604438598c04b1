package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a typing:start stays valid without a refresh.
const DefaultTTL = 5 * time.Second

// Coordinator tracks who is typing in which channel. Entries expire lazily:
// every read treats an entry past its deadline as absent and prunes it, so no
// timer goroutine is needed. Start also sweeps all channels at most once per
// ttl, which keeps channels nobody reads again from accumulating.
type Coordinator struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	nextSweep time.Time
	entries   map[string]map[string]time.Time // channel -> user -> expiry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(ttl time.Duration, opts ...Option) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Coordinator{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the expiry window.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Start inserts or refreshes userID's entry in channelID.
func (c *Coordinator) Start(channelID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now, channelID)

	users, ok := c.entries[channelID]
	if !ok {
		users = make(map[string]time.Time)
		c.entries[channelID] = users
	}
	users[userID] = now.Add(c.ttl)
}

// Stop removes the entry and reports whether the user was still typing.
func (c *Coordinator) Stop(channelID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.entries[channelID]
	if !ok {
		return false
	}
	expiry, ok := users[userID]
	if !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(c.entries, channelID)
	}
	return c.now().Before(expiry)
}

// IsTyping reports whether userID has an unexpired entry in channelID.
func (c *Coordinator) IsTyping(channelID, userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(channelID)
	_, ok := c.entries[channelID][userID]
	return ok
}

// Typing lists users with an unexpired entry in channelID, sorted.
func (c *Coordinator) Typing(channelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(channelID)

	users := make([]string, 0, len(c.entries[channelID]))
	for u := range c.entries[channelID] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// sweep prunes channelID, or every channel once the previous full sweep is a
// ttl old. Caller holds mu.
func (c *Coordinator) sweep(now time.Time, channelID string) {
	if now.Before(c.nextSweep) {
		c.prune(channelID)
		return
	}
	for ch := range c.entries {
		c.prune(ch)
	}
	c.nextSweep = now.Add(c.ttl)
}

// prune drops expired entries of one channel. Caller holds mu.
func (c *Coordinator) prune(channelID string) {
	users, ok := c.entries[channelID]
	if !ok {
		return
	}
	now := c.now()
	for u, expiry := range users {
		if !now.Before(expiry) {
			delete(users, u)
		}
	}
	if len(users) == 0 {
		delete(c.entries, channelID)
	}
}
