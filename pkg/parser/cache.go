package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 24 * time.Hour
)

// Outcome is the result of parsing one transcription: the winning candidate
// and every analysis the transducer returned. An empty Parse means the
// parser could not analyze the input.
type Outcome struct {
	Parse      string   `json:"parse"`
	Candidates []string `json:"candidates"`
}

// Cache is the two-tier parse cache: a process-local expiring LRU in front
// of an optional shared redis. Keys include the parser's compile attempt so
// a recompile invalidates everything implicitly.
type Cache struct {
	local  *expirable.LRU[string, Outcome]
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCache creates a parse cache. rdb may be nil for a purely local cache.
func NewCache(size int, ttl time.Duration, rdb *redis.Client, logger *logrus.Logger) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Cache{
		local:  expirable.NewLRU[string, Outcome](size, nil, ttl),
		redis:  rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(parserID int, attempt, transcription string) string {
	return fmt.Sprintf("parse:%d:%s:%s", parserID, attempt, transcription)
}

// Get checks the local tier, then redis. A redis hit is promoted locally.
func (c *Cache) Get(ctx context.Context, parserID int, attempt, transcription string) (Outcome, bool) {
	key := cacheKey(parserID, attempt, transcription)
	if out, ok := c.local.Get(key); ok {
		return out, true
	}
	if c.redis == nil {
		return Outcome{}, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("parse cache redis get failed")
		}
		return Outcome{}, false
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return Outcome{}, false
	}
	c.local.Add(key, out)
	return out, true
}

// Put writes both tiers. Redis failures are logged and ignored: the cache
// is an optimization, not a source of truth.
func (c *Cache) Put(ctx context.Context, parserID int, attempt, transcription string, out Outcome) {
	key := cacheKey(parserID, attempt, transcription)
	c.local.Add(key, out)
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("parse cache redis set failed")
	}
}

// Purge drops the local tier. Redis entries age out via their TTL.
func (c *Cache) Purge() {
	c.local.Purge()
}
