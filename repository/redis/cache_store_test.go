package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/knowledge/domain"
	"github.com/fastygo/knowledge/repository"
)

func newStore(t *testing.T) (repository.CacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheStore(client, nil), mr
}

func TestCacheStoreRoundTripUsesRegionTTL(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	article := domain.Article{ID: 7, Title: "Go pools"}
	require.NoError(t, store.Set(ctx, repository.RegionArticle, repository.ArticleKey(7), article))
	assert.Equal(t, 10*time.Minute, mr.TTL("article:7"))

	var got domain.Article
	require.NoError(t, store.Get(ctx, "article:7", &got))
	assert.Equal(t, "Go pools", got.Title)

	mr.FastForward(11 * time.Minute)
	assert.ErrorIs(t, store.Get(ctx, "article:7", &got), domain.ErrCacheMiss)
}

func TestCacheStoreEvictIsIdempotent(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, repository.RegionHot, repository.HotArticlesKey, []int64{1, 2}))
	require.NoError(t, store.Evict(ctx, repository.HotArticlesKey, repository.LatestArticlesKey))
	require.NoError(t, store.Evict(ctx, repository.HotArticlesKey, repository.LatestArticlesKey))
	require.NoError(t, store.Evict(ctx))
	assert.False(t, mr.Exists(repository.HotArticlesKey))
}

func TestCacheStoreClaimOnlyOnce(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	key := repository.NotifiedKey("m-1")

	won, err := store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, time.Hour, mr.TTL(key))

	require.NoError(t, store.Release(ctx, key))
	won, err = store.Claim(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestCacheStoreUnknownRegionFallsBackToDefault(t *testing.T) {
	store, mr := newStore(t)
	require.NoError(t, store.Set(context.Background(), repository.CacheRegion("misc"), "misc:1", "x"))
	assert.Equal(t, 30*time.Minute, mr.TTL("misc:1"))
}

func TestSearchKeyNormalizesQuery(t *testing.T) {
	assert.Equal(t, repository.SearchKey("Go Pools"), repository.SearchKey("  go pools "))
	assert.NotEqual(t, repository.SearchKey("go"), repository.SearchKey("rust"))
}
