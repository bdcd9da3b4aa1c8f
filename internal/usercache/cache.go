package usercache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
	"github.com/Achen718/socket-chat-ui-sub000/internal/repo"
)

const (
	// EntryTTL is how long a cached user record stays fresh.
	EntryTTL = time.Hour

	// persistDebounce delays the write-through so bursts of lookups
	// produce a single persisted snapshot.
	persistDebounce = time.Second
)

// entry is one cached user record with its capture time.
type entry struct {
	User     model.User `json:"user"`
	CachedAt time.Time  `json:"cachedAt"`
}

// Persistence is the durable tier the in-memory cache writes through to,
// so lookups survive process restarts.
type Persistence interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// Cache is the two-tier user lookup cache: an in-memory map consulted
// first, backed by batched remote fetches and an opportunistic, debounced
// write-through to the persisted tier.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	users   repo.UserRepository
	persist Persistence
	logger  *zap.Logger

	ttl          time.Duration
	now          func() time.Time
	persistTimer *time.Timer
}

// New constructs the cache and warms it from the persisted tier. A failed
// warm-up is logged and ignored; the cache starts cold.
func New(users repo.UserRepository, persist Persistence, logger *zap.Logger) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		users:   users,
		persist: persist,
		logger:  logger,
		ttl:     EntryTTL,
		now:     time.Now,
	}
	c.warm(context.Background())
	return c
}

// GetByID returns the user for id, from cache when fresh, else via a
// single-document remote fetch. Unknown users resolve to nil.
func (c *Cache) GetByID(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, nil
	}

	if user, ok := c.lookup(id); ok {
		return user, nil
	}

	user, err := c.users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user != nil {
		c.store(*user)
	}
	return user, nil
}

// GetByIDs resolves many ids at once: cache hits are answered from memory,
// misses go to the repo's batched fetch. Only found users appear in the
// result map.
func (c *Cache) GetByIDs(ctx context.Context, ids []string) (map[string]model.User, error) {
	result := make(map[string]model.User, len(ids))
	var misses []string

	for _, id := range ids {
		if id == "" {
			continue
		}
		if user, ok := c.lookup(id); ok {
			result[id] = *user
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.users.GetUsersByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, user := range fetched {
		result[user.ID] = user
		c.store(user)
	}

	c.logger.Debug("user lookup resolved",
		zap.Int("hits", len(ids)-len(misses)),
		zap.Int("misses", len(misses)),
	)
	return result, nil
}

// Invalidate drops the cached entry for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Flush forces a synchronous write-through, cancelling any pending
// debounced one. Used at teardown.
func (c *Cache) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.persistTimer != nil {
		c.persistTimer.Stop()
		c.persistTimer = nil
	}
	c.mu.Unlock()
	c.persistNow(ctx)
}

func (c *Cache) lookup(id string) (*model.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.CachedAt) > c.ttl {
		delete(c.entries, id)
		return nil, false
	}
	user := e.User
	return &user, true
}

func (c *Cache) store(user model.User) {
	c.mu.Lock()
	c.entries[user.ID] = entry{User: user, CachedAt: c.now()}

	if c.persistTimer != nil {
		c.persistTimer.Stop()
	}
	c.persistTimer = time.AfterFunc(persistDebounce, func() {
		c.persistNow(context.Background())
	})
	c.mu.Unlock()
}

func (c *Cache) persistNow(ctx context.Context) {
	if c.persist == nil {
		return
	}

	c.mu.Lock()
	snapshot := make(map[string]entry, len(c.entries))
	for id, e := range c.entries {
		snapshot[id] = e
	}
	c.mu.Unlock()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Warn("failed to encode user cache", zap.Error(err))
		return
	}
	if err := c.persist.Save(ctx, blob); err != nil {
		c.logger.Warn("failed to persist user cache", zap.Error(err))
		return
	}
	c.logger.Debug("user cache persisted", zap.Int("entries", len(snapshot)))
}

func (c *Cache) warm(ctx context.Context) {
	if c.persist == nil {
		return
	}

	blob, err := c.persist.Load(ctx)
	if err != nil || len(blob) == 0 {
		return
	}

	var loaded map[string]entry
	if err := json.Unmarshal(blob, &loaded); err != nil {
		c.logger.Warn("failed to decode persisted user cache", zap.Error(err))
		return
	}

	c.mu.Lock()
	for id, e := range loaded {
		// Expired entries are dropped at load rather than lazily.
		if c.now().Sub(e.CachedAt) <= c.ttl {
			c.entries[id] = e
		}
	}
	count := len(c.entries)
	c.mu.Unlock()

	c.logger.Info("user cache warmed from persistence", zap.Int("entries", count))
}

// FormatDisplayName renders a user for display, falling back from the
// display name to a partially-masked email and finally to a generic
// placeholder. The masking is a privacy default for accounts that never
// set a display name.
func FormatDisplayName(user *model.User) string {
	if user == nil {
		return "Unknown User"
	}
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	if masked := maskEmail(user.Email); masked != "" {
		return masked
	}
	return "Unknown User"
}

// maskEmail turns "alice@example.com" into "a***e@example.com". Addresses
// too short to mask keep only their first character.
func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return ""
	}
	local, domain := email[:at], email[at:]
	if len(local) == 1 {
		return local + "***" + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}
