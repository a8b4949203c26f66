// Package cache memoizes serving responses and analytics reports in a
// short-TTL key-value store. The cache is never authoritative: every failure
// is logged and treated as a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the key-value backend.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache is a best-effort JSON cache over a Store. A nil store disables it.
type Cache struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
	metrics observability.MetricsRegistry
}

// New builds a Cache. timeout bounds each backend call.
func New(store Store, timeout time.Duration, logger *zap.Logger, metrics observability.MetricsRegistry) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = observability.NewNoOpRegistry()
	}
	return &Cache{store: store, timeout: timeout, logger: logger, metrics: metrics}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.store != nil
}

// GetJSON decodes the cached value for key into v and reports a hit.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	if !c.Enabled() {
		return false
	}
	name := family(key)
	ctx, cancel := c.bound(ctx)
	defer cancel()

	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		c.metrics.IncrementCache(name, "miss")
		return false
	}
	if err != nil {
		c.metrics.IncrementCache(name, "error")
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.metrics.IncrementCache(name, "error")
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	c.metrics.IncrementCache(name, "hit")
	return true
}

// SetJSON stores v under key for ttl. Failures are logged only.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.metrics.IncrementCache(family(key), "error")
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every key under prefix. Failures are logged only.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	if !c.Enabled() {
		return
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("prefix", prefix), zap.Error(err))
	}
}

func (c *Cache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// family returns the first key segment, used as the metrics label.
func family(key string) string {
	name, _, _ := strings.Cut(key, ":")
	return name
}

// SponsoredPrefix is the invalidation prefix for one placement.
func SponsoredPrefix(placement string) string {
	return "sponsored:" + strings.ToLower(placement) + ":"
}

// SponsoredKey keys a sponsored feed response.
func SponsoredKey(placement, category, country string, limit int) string {
	return fmt.Sprintf("%s%s:%s:%d", SponsoredPrefix(placement), orAll(strings.ToLower(category)), orAll(strings.ToUpper(country)), limit)
}

// AnalyticsKey keys a report by its exact parameters.
func AnalyticsKey(kind string, parts ...string) string {
	b := strings.Builder{}
	b.WriteString("analytics:")
	b.WriteString(kind)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(orAll(p))
	}
	return b.String()
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}
