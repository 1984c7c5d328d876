package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
)

type cacheStore struct {
	client *redislib.Client
	ttls   map[repository.CacheRegion]time.Duration
}

// NewCacheStore creates a Redis-backed cache. Regions missing from ttls fall
// back to the default lifetimes.
func NewCacheStore(client *redislib.Client, ttls map[repository.CacheRegion]time.Duration) repository.CacheStore {
	merged := repository.DefaultRegionTTLs()
	for region, ttl := range ttls {
		if ttl > 0 {
			merged[region] = ttl
		}
	}
	return &cacheStore{client: client, ttls: merged}
}

func (s *cacheStore) Get(ctx context.Context, key string, dest any) error {
	result, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return domain.ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(result, dest)
}

func (s *cacheStore) Set(ctx context.Context, region repository.CacheRegion, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, payload, s.ttl(region)).Err()
}

func (s *cacheStore) Evict(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *cacheStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = s.ttl(repository.RegionDefault)
	}
	return s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *cacheStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *cacheStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *cacheStore) ttl(region repository.CacheRegion) time.Duration {
	if ttl, ok := s.ttls[region]; ok {
		return ttl
	}
	return s.ttls[repository.RegionDefault]
}
