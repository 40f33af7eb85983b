package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hbomb79/Medialink/pkg/sync"
	"github.com/redis/go-redis/v9"
)

type (
	CacheConfig struct {
		// Backend selects the cache implementation: 'none', 'memory' or 'redis'
		Backend  string        `yaml:"cache_backend" env:"CACHE_BACKEND" env-default:"none"`
		TTL      time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"10m"`
		RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	}

	// Cache stores complete extraction results. Implementations must
	// treat stored media as immutable.
	Cache interface {
		Get(ctx context.Context, key string) (*RawMedia, bool)
		Set(ctx context.Context, key string, media *RawMedia, ttl time.Duration)
	}

	// Cached decorates an Extractor with a Cache. Only successful
	// extractions are cached; failures always reach the extractor.
	Cached struct {
		next  Extractor
		cache Cache
		ttl   time.Duration
	}
)

func NewCached(next Extractor, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (cached *Cached) Name() string { return cached.next.Name() }

func (cached *Cached) Extract(ctx context.Context, url string) (*RawMedia, error) {
	key := cacheKey(url)
	if media, ok := cached.cache.Get(ctx, key); ok {
		log.Verbosef("Extraction cache hit for %s\n", url)
		return media, nil
	}

	media, err := cached.next.Extract(ctx, url)
	if err != nil {
		return nil, err
	}

	cached.cache.Set(ctx, key, media, cached.ttl)
	return media, nil
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

type (
	memoryEntry struct {
		media     *RawMedia
		expiresAt time.Time
	}

	// MemoryCache is a process-local Cache. Expired entries are never
	// returned, and are purged periodically while Run is active.
	MemoryCache struct {
		entries sync.TypedSyncMap[string, memoryEntry]
		now     func() time.Time
	}
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (cache *MemoryCache) Get(_ context.Context, key string) (*RawMedia, bool) {
	entry, ok := cache.entries.Load(key)
	if !ok {
		return nil, false
	}

	if !cache.now().Before(entry.expiresAt) {
		cache.entries.CompareAndDelete(key, entry)
		return nil, false
	}

	return entry.media.Clone(), true
}

func (cache *MemoryCache) Set(_ context.Context, key string, media *RawMedia, ttl time.Duration) {
	if ttl <= 0 || media == nil {
		return
	}

	cache.entries.Store(key, memoryEntry{media: media.Clone(), expiresAt: cache.now().Add(ttl)})
}

// Len returns the number of entries held, including any expired
// entries which have not yet been purged.
func (cache *MemoryCache) Len() int { return cache.entries.Len() }

// Purge removes all expired entries from the cache.
func (cache *MemoryCache) Purge() {
	now := cache.now()
	cache.entries.Range(func(key string, entry memoryEntry) bool {
		if !now.Before(entry.expiresAt) {
			cache.entries.CompareAndDelete(key, entry)
		}
		return true
	})
}

// Run purges expired entries on a regular interval until
// the context provided is cancelled.
func (cache *MemoryCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cache.Purge()
		case <-ctx.Done():
			return nil
		}
	}
}

const redisKeyPrefix = "medialink:extract:"

// RedisCache stores extraction results in Redis, allowing multiple
// Medialink instances to share them. Redis failures degrade to cache
// misses rather than failing the extraction.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis server described by the URL and
// ensures it is reachable.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (cache *RedisCache) Get(ctx context.Context, key string) (*RawMedia, bool) {
	data, err := cache.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("Failed to read extraction cache: %v\n", err)
		}
		return nil, false
	}

	var media RawMedia
	if err := json.Unmarshal(data, &media); err != nil {
		log.Warnf("Discarding corrupt extraction cache entry %s: %v\n", key, err)
		return nil, false
	}

	return &media, true
}

func (cache *RedisCache) Set(ctx context.Context, key string, media *RawMedia, ttl time.Duration) {
	if ttl <= 0 || media == nil {
		return
	}

	data, err := json.Marshal(media)
	if err != nil {
		log.Warnf("Failed to encode extraction cache entry: %v\n", err)
		return
	}

	if err := cache.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		log.Warnf("Failed to write extraction cache: %v\n", err)
	}
}

func (cache *RedisCache) Close() error { return cache.client.Close() }
