package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

type backend interface {
	ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error)
	ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error)
	ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error)
	ListPosts(ctx context.Context) ([]domain.BlogPost, error)
	EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error
}

func symptomsCacheKey(userID string) string     { return "sy:" + userID }
func treatmentsCacheKey(userID string) string   { return "tr:" + userID }
func appointmentsCacheKey(userID string) string { return "ap:" + userID }

const postsCacheKey = "posts"

// CacheKeysFor returns the list cache keys a confirmed change to one entity
// collection invalidates. The change relay uses this after applying events.
func CacheKeysFor(userID string, entity domain.EntityType) []string {
	switch entity {
	case domain.EntitySymptom:
		return []string{symptomsCacheKey(userID)}
	case domain.EntityTreatment:
		return []string{treatmentsCacheKey(userID)}
	case domain.EntityAppointment:
		return []string{appointmentsCacheKey(userID)}
	case domain.EntityBlogPost:
		return []string{postsCacheKey}
	}
	return nil
}

// Cache wraps a Storage instance with Redis-backed caching for list reads.
// Entries are evicted when the user enqueues commands and refreshed by the
// change relay after it applies them.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func cacheLoad[T any](ctx context.Context, c *Cache, key string) ([]T, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return out, true
}

func cacheStore[T any](ctx context.Context, c *Cache, key string, records []T) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) ListSymptoms(ctx context.Context, userID string) ([]domain.Symptom, error) {
	key := symptomsCacheKey(userID)
	if cached, ok := cacheLoad[domain.Symptom](ctx, c, key); ok {
		return cached, nil
	}
	records, err := c.base.ListSymptoms(ctx, userID)
	if err != nil {
		return nil, err
	}
	cacheStore(ctx, c, key, records)
	return records, nil
}

func (c *Cache) ListTreatments(ctx context.Context, userID string) ([]domain.Treatment, error) {
	key := treatmentsCacheKey(userID)
	if cached, ok := cacheLoad[domain.Treatment](ctx, c, key); ok {
		return cached, nil
	}
	records, err := c.base.ListTreatments(ctx, userID)
	if err != nil {
		return nil, err
	}
	cacheStore(ctx, c, key, records)
	return records, nil
}

func (c *Cache) ListAppointments(ctx context.Context, userID string) ([]domain.Appointment, error) {
	key := appointmentsCacheKey(userID)
	if cached, ok := cacheLoad[domain.Appointment](ctx, c, key); ok {
		return cached, nil
	}
	records, err := c.base.ListAppointments(ctx, userID)
	if err != nil {
		return nil, err
	}
	cacheStore(ctx, c, key, records)
	return records, nil
}

func (c *Cache) ListPosts(ctx context.Context) ([]domain.BlogPost, error) {
	if cached, ok := cacheLoad[domain.BlogPost](ctx, c, postsCacheKey); ok {
		return cached, nil
	}
	records, err := c.base.ListPosts(ctx)
	if err != nil {
		return nil, err
	}
	cacheStore(ctx, c, postsCacheKey, records)
	return records, nil
}

// EnqueueCommands forwards to the backing storage and evicts the cache keys
// the commands can invalidate.
func (c *Cache) EnqueueCommands(ctx context.Context, userID string, cmds []domain.Command) error {
	if err := c.base.EnqueueCommands(ctx, userID, cmds); err != nil {
		return err
	}
	c.evict(ctx, userID, cmds)
	return nil
}

func (c *Cache) evict(ctx context.Context, userID string, cmds []domain.Command) {
	if c.redis == nil {
		return
	}
	keys := []string{symptomsCacheKey(userID), treatmentsCacheKey(userID), appointmentsCacheKey(userID)}
	for _, cmd := range cmds {
		if cmd.EntityType == domain.EntityBlogPost {
			keys = append(keys, postsCacheKey)
			break
		}
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}
