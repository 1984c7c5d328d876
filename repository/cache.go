package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CacheRegion selects the TTL of a cached entry.
type CacheRegion string

const (
	RegionUser     CacheRegion = "user"
	RegionArticle  CacheRegion = "article"
	RegionHot      CacheRegion = "hot"
	RegionCategory CacheRegion = "category"
	RegionTag      CacheRegion = "tag"
	RegionSearch   CacheRegion = "search"
	RegionStats    CacheRegion = "stats"
	RegionDefault  CacheRegion = "default"
)

// DefaultRegionTTLs are the cache lifetimes per region.
func DefaultRegionTTLs() map[CacheRegion]time.Duration {
	return map[CacheRegion]time.Duration{
		RegionUser:     2 * time.Hour,
		RegionArticle:  10 * time.Minute,
		RegionHot:      5 * time.Minute,
		RegionCategory: time.Hour,
		RegionTag:      30 * time.Minute,
		RegionSearch:   5 * time.Minute,
		RegionStats:    time.Minute,
		RegionDefault:  30 * time.Minute,
	}
}

// Well-known cache keys.
const (
	HotArticlesKey    = "hot:articles"
	LatestArticlesKey = "latest:articles"
	StatsDashboardKey = "stats:dashboard"
)

func ArticleKey(id int64) string { return fmt.Sprintf("article:%d", id) }

func CommentsKey(articleID int64) string { return fmt.Sprintf("comments:article:%d", articleID) }

func UserKey(username string) string { return "user:" + username }

// SearchKey hashes the normalized query so arbitrary input yields a bounded key.
func SearchKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "search:" + hex.EncodeToString(sum[:16])
}

// NotifiedKey marks a notification message as delivered.
func NotifiedKey(messageID string) string { return "notified:" + messageID }

// CacheStore is the key-value cache. Get returns domain.ErrCacheMiss for
// absent keys. Evict of a missing key is a no-op.
type CacheStore interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, region CacheRegion, key string, value any) error
	Evict(ctx context.Context, keys ...string) error
	// Claim sets key only if absent and reports whether this caller won.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
