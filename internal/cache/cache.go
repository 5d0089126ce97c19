// Package cache holds the opt-in TTL decorator for provider adapters. Only
// successful fetches are stored; errors always reach the caller.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketfeed/config"
	"marketfeed/internal/metrics"
	"marketfeed/logger"
	"marketfeed/models"
	"marketfeed/reader"
)

type entry struct {
	expiresAt time.Time
	payload   reader.RawPayload
}

// Adapter wraps a reader.Adapter and reuses raw payloads for identical
// requests until they expire. Normalization always runs on the caller side,
// so each run still reports its own rejected count.
type Adapter struct {
	next    reader.Adapter
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	log     *logger.Log

	mu    sync.RWMutex
	items map[string]entry
}

// Wrap returns next unchanged when caching is disabled.
func Wrap(next reader.Adapter, cfg config.CacheConfig) reader.Adapter {
	if next == nil || !cfg.Enabled || cfg.TTL <= 0 {
		return next
	}
	return New(next, cfg.TTL, cfg.MaxSize)
}

func New(next reader.Adapter, ttl time.Duration, maxSize int) *Adapter {
	return &Adapter{
		next:    next,
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		log:     logger.GetLogger(),
		items:   make(map[string]entry),
	}
}

func (a *Adapter) Kind() models.ProviderKind { return a.next.Kind() }

func (a *Adapter) DefaultBudget() models.DownsampleBudget { return a.next.DefaultBudget() }

func (a *Adapter) Normalize(raw reader.RawPayload) ([]models.OhlcvRecord, int, error) {
	return a.next.Normalize(raw)
}

func (a *Adapter) Fetch(ctx context.Context, req reader.Request) (reader.RawPayload, error) {
	key := Key(a.next.Kind(), req)
	now := a.now()

	a.mu.RLock()
	e, ok := a.items[key]
	a.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		metrics.EmitMetric(a.log, "cache", "cache_hit", 1, "counter", logger.Fields{
			"provider": string(a.next.Kind()),
		})
		return e.payload, nil
	}

	payload, err := a.next.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.items[key] = entry{expiresAt: now.Add(a.ttl), payload: payload}
	a.evict(now)
	a.mu.Unlock()
	return payload, nil
}

// evict drops expired entries, then the soonest-expiring ones, until the
// cache fits maxSize. Callers hold mu.
func (a *Adapter) evict(now time.Time) {
	if a.maxSize <= 0 || len(a.items) <= a.maxSize {
		return
	}
	for k, e := range a.items {
		if !now.Before(e.expiresAt) {
			delete(a.items, k)
		}
	}
	for len(a.items) > a.maxSize {
		oldest := ""
		var oldestAt time.Time
		for k, e := range a.items {
			if oldest == "" || e.expiresAt.Before(oldestAt) {
				oldest, oldestAt = k, e.expiresAt
			}
		}
		delete(a.items, oldest)
	}
}

// Len reports the number of stored entries, expired or not.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// Key identifies a request by everything that changes the upstream answer.
// The budget is left out because it is applied after the fetch.
func Key(kind models.ProviderKind, req reader.Request) string {
	parts := []string{
		string(kind),
		strings.ToUpper(strings.TrimSpace(req.Symbol)),
		string(req.Window.Interval),
		strconv.FormatInt(req.Window.Start.UnixMilli(), 10),
		strconv.FormatInt(req.Window.End.UnixMilli(), 10),
		req.Equity.Function,
		req.Equity.OutputSize,
		boolKey(req.Equity.Adjusted),
		boolKey(req.Equity.ExtendedHours),
		req.Equity.Month,
	}
	return strings.Join(parts, "|")
}

func boolKey(b *bool) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprint(*b)
}

var _ reader.Adapter = (*Adapter)(nil)
