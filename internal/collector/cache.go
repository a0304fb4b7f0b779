package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"KlineAnalyzer/internal/logger"
	"KlineAnalyzer/internal/metrics"
	"KlineAnalyzer/internal/model"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PageCache stores raw pages by key. Get reports ok=false on a miss.
type PageCache interface {
	Get(ctx context.Context, key string) (page []model.RawCandle, ok bool, err error)
	Set(ctx context.Context, key string, page []model.RawCandle) error
}

// CachingFetcher serves pages from a PageCache and fills it on misses.
// Empty pages are never cached so that the end of history is re-checked.
type CachingFetcher struct {
	Next    PageFetcher
	Cache   PageCache
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func NewCachingFetcher(next PageFetcher, cache PageCache, m *metrics.Metrics, log *zap.Logger) *CachingFetcher {
	return &CachingFetcher{Next: next, Cache: cache, Metrics: m, Logger: logger.OrNop(log)}
}

func (c *CachingFetcher) Name() string { return c.Next.Name() + "+cache" }

// CacheKey identifies a page request.
func CacheKey(req PageRequest) string {
	return fmt.Sprintf("%s:%s:%d:%d", req.Symbol, req.Interval, req.EndMS, req.Limit)
}

func (c *CachingFetcher) FetchPage(ctx context.Context, req PageRequest) ([]model.RawCandle, error) {
	log := logger.OrNop(c.Logger)
	key := CacheKey(req)

	page, ok, err := c.Cache.Get(ctx, key)
	if err != nil {
		log.Warn("page cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		c.Metrics.IncCacheHits()
		return page, nil
	}

	page, err = c.Next.FetchPage(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(page) > 0 {
		if err := c.Cache.Set(ctx, key, page); err != nil {
			log.Warn("page cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return page, nil
}

// RedisPageCache keeps pages as JSON strings in Redis.
type RedisPageCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisPageCache creates a cache on an existing client. A zero ttl keeps entries forever.
func NewRedisPageCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisPageCache {
	return &RedisPageCache{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to a standalone Redis server and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return client, nil
}

func (r *RedisPageCache) Get(ctx context.Context, key string) ([]model.RawCandle, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	var page []model.RawCandle
	if err := json.Unmarshal(val, &page); err != nil {
		return nil, false, errors.Wrap(err, "decode cached page")
	}
	return page, true, nil
}

func (r *RedisPageCache) Set(ctx context.Context, key string, page []model.RawCandle) error {
	data, err := json.Marshal(page)
	if err != nil {
		return errors.Wrap(err, "encode page")
	}
	return errors.Wrap(r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(), "redis set")
}
