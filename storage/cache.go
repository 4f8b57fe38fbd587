package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/domain"
)

// Cache wraps a Store with Redis-backed caching of user profiles. Lists and
// tasks always go to the backing store.
type Cache struct {
	domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Store: base, redis: client, ttl: ttl}
}

func (c *Cache) GetUser(ctx context.Context, id string) (domain.User, error) {
	if u, ok := c.loadUser(ctx, id); ok {
		return u, nil
	}
	u, err := c.Store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	c.storeUser(ctx, u)
	return u, nil
}

// cachedUser keeps the hash out of Redis.
type cachedUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Cache) loadUser(ctx context.Context, id string) (domain.User, bool) {
	if c.redis == nil {
		return domain.User{}, false
	}
	data, err := c.redis.Get(ctx, userCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, userCacheKey(id)).Err()
		}
		return domain.User{}, false
	}
	var cu cachedUser
	if err := json.Unmarshal(data, &cu); err != nil {
		_ = c.redis.Del(ctx, userCacheKey(id)).Err()
		return domain.User{}, false
	}
	return domain.User{ID: cu.ID, Name: cu.Name, Email: cu.Email, CreatedAt: cu.CreatedAt}, true
}

func (c *Cache) storeUser(ctx context.Context, u domain.User) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedUser{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, userCacheKey(u.ID), data, c.ttl).Err()
}

func userCacheKey(id string) string {
	return "user:" + id
}
