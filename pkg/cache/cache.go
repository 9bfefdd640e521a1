// Package cache implements the result cache: a fingerprint-keyed JSON store with
// expiry that degrades to "absent" instead of failing when Redis is unreachable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"job-coordinator/pkg/observability"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = time.Hour

// Fingerprint derives a cache key from an operation kind and its ordered input fields.
// Fields are length-prefixed so that shifting a separator between fields changes the key.
func Fingerprint(kind string, fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return kind + ":" + hex.EncodeToString(sum[:])
}

// Cache is a Redis-backed result cache. A nil client is allowed and behaves as an
// always-unreachable store.
type Cache struct {
	rc     redis.Cmdable
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

func New(rc redis.Cmdable, prefix string, ttl time.Duration, log logrus.FieldLogger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rc: rc, prefix: prefix, ttl: ttl, log: log.WithField("component", "cache")}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

// Get decodes the entry stored under key into dest and reports whether it was found.
// Store and decode failures are logged and reported as absence.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if c.rc == nil {
		observability.CacheRequests.WithLabelValues("get", "error").Inc()
		return false
	}
	raw, err := c.rc.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.CacheRequests.WithLabelValues("get", "miss").Inc()
			return false
		}
		observability.CacheRequests.WithLabelValues("get", "error").Inc()
		c.log.WithError(err).WithField("key", key).Warn("cache get failed, treating as miss")
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		observability.CacheRequests.WithLabelValues("get", "error").Inc()
		c.log.WithError(err).WithField("key", key).Warn("cache entry is corrupt, treating as miss")
		return false
	}
	observability.CacheRequests.WithLabelValues("get", "hit").Inc()
	c.log.WithField("key", key).Debug("cache hit")
	return true
}

// Set stores value under key. The first ttl, if given, overrides the default expiry.
// It returns false when the value could not be cached; callers proceed without caching.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl ...time.Duration) bool {
	if c.rc == nil {
		observability.CacheRequests.WithLabelValues("set", "error").Inc()
		return false
	}
	exp := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		exp = ttl[0]
	}
	raw, err := json.Marshal(value)
	if err != nil {
		observability.CacheRequests.WithLabelValues("set", "error").Inc()
		c.log.WithError(err).WithField("key", key).Warn("cache value not serializable")
		return false
	}
	if err := c.rc.Set(ctx, c.key(key), raw, exp).Err(); err != nil {
		observability.CacheRequests.WithLabelValues("set", "error").Inc()
		c.log.WithError(err).WithField("key", key).Warn("cache set failed")
		return false
	}
	observability.CacheRequests.WithLabelValues("set", "ok").Inc()
	c.log.WithFields(logrus.Fields{"key": key, "ttl": exp.String()}).Debug("cache set")
	return true
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if c.rc == nil {
		observability.CacheRequests.WithLabelValues("delete", "error").Inc()
		return false
	}
	if err := c.rc.Del(ctx, c.key(key)).Err(); err != nil {
		observability.CacheRequests.WithLabelValues("delete", "error").Inc()
		c.log.WithError(err).WithField("key", key).Warn("cache delete failed")
		return false
	}
	observability.CacheRequests.WithLabelValues("delete", "ok").Inc()
	return true
}

// Ping reports whether the backing store is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if c.rc == nil {
		return errors.New("cache: no redis client configured")
	}
	return c.rc.Ping(ctx).Err()
}
