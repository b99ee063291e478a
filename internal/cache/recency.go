package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyunsoo-kim/Bill-Herald/internal/crawl"
	"github.com/hyunsoo-kim/Bill-Herald/internal/logging"
)

// MaxSize bounds the recency window: only the newest MaxSize notices are
// remembered for diffing.
const MaxSize = 50

// Key suffixes under the configured prefix.
const (
	keyRecent = "recent_notices"
	keySet    = "new_notices_set"
	keyInfo   = "cache_info"
)

// Meta describes the cache state, stored alongside the notices.
type Meta struct {
	Size          int        `json:"size"`
	LastUpdated   *time.Time `json:"lastUpdated"`
	MaxSize       int        `json:"maxSize"`
	IsInitialized bool       `json:"isInitialized"`
}

// Recency is the restart-safe diff oracle for crawled notices. All state
// lives in Redis so a process bounce does not re-notify old notices.
// Mutators are serialized with a process-local mutex; the crawl scheduler
// is the only writer.
type Recency struct {
	rdb    *redis.Client
	prefix string
	log    *logging.Logger
	mu     sync.Mutex
}

// NewRecency creates the cache on an open Redis client.
func NewRecency(rdb *redis.Client, prefix string, log *logging.Logger) *Recency {
	return &Recency{rdb: rdb, prefix: prefix, log: log}
}

func (c *Recency) key(suffix string) string { return c.prefix + suffix }

// Ping reports shared-cache connectivity.
func (c *Recency) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Initialize seeds the cache from a first crawl. When the cache already
// holds notices (warm restart), the stored window is kept as-is and only
// the meta is refreshed: overwriting here would clobber the diff state a
// previous process built up.
func (c *Recency) Initialize(ctx context.Context, notices []crawl.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.loadNotices(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if len(existing) > 0 {
		// Ensure the id set matches the persisted window before marking ready.
		if err := c.storeAll(ctx, existing, now); err != nil {
			return err
		}
		c.log.Info("recency cache already warm", "size", len(existing))
		return nil
	}

	window := topByNum(notices, MaxSize)
	if err := c.storeAll(ctx, window, now); err != nil {
		return err
	}
	c.log.Info("recency cache initialized", "size", len(window))
	return nil
}

// FindNew returns the crawled notices whose num is not yet known, preserving
// input order.
//
// Restart-safe path: when the meta is missing or not marked initialized but
// a notice window is persisted, the id set is reconstructed from the window
// before diffing, so a cold process against a warm cache never re-notifies.
// Read failures degrade to treating everything as new rather than dropping
// notices silently.
func (c *Recency) FindNew(ctx context.Context, crawled []crawl.Notice) []crawl.Notice {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadMeta(ctx)
	if err != nil {
		c.log.Warn("recency meta read failed, treating crawl as new", "error", err)
		return crawled
	}

	if !meta.IsInitialized {
		existing, err := c.loadNotices(ctx)
		if err != nil {
			c.log.Warn("recency window read failed, treating crawl as new", "error", err)
			return crawled
		}
		if len(existing) > 0 {
			// Reconstruct the diff oracle from the persisted window.
			if err := c.storeAll(ctx, existing, time.Now().UTC()); err != nil {
				c.log.Warn("recency reconstruction failed", "error", err)
				return crawled
			}
			c.log.Info("recency cache reconstructed from persisted window", "size", len(existing))
		} else {
			return crawled
		}
	}

	ids, err := c.loadIDs(ctx)
	if err != nil {
		c.log.Warn("recency set read failed, treating crawl as new", "error", err)
		return crawled
	}

	var fresh []crawl.Notice
	for _, n := range crawled {
		if _, seen := ids[n.Num]; !seen {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

// Update merges crawled notices into the window. Notices already known are
// ignored; when nothing is new the cache is left untouched. After Update(x)
// returns, FindNew(x) is empty.
func (c *Recency) Update(ctx context.Context, crawled []crawl.Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.loadIDs(ctx)
	if err != nil {
		return fmt.Errorf("cache: read id set: %w", err)
	}

	var fresh []crawl.Notice
	for _, n := range crawled {
		if _, seen := ids[n.Num]; !seen {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	existing, err := c.loadNotices(ctx)
	if err != nil {
		return err
	}
	merged := topByNum(append(fresh, existing...), MaxSize)
	return c.storeAll(ctx, merged, time.Now().UTC())
}

// Recent returns up to limit notices, newest first.
func (c *Recency) Recent(ctx context.Context, limit int) ([]crawl.Notice, error) {
	notices, err := c.loadNotices(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	if limit > MaxSize {
		limit = MaxSize
	}
	if len(notices) > limit {
		notices = notices[:limit]
	}
	return notices, nil
}

// Meta returns the stored cache state; a missing key yields a zero state.
func (c *Recency) Meta(ctx context.Context) (Meta, error) {
	return c.loadMeta(ctx)
}

// Clear removes the window, the id set, and the meta.
func (c *Recency) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rdb.Del(ctx, c.key(keyRecent), c.key(keySet), c.key(keyInfo)).Err(); err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (c *Recency) loadNotices(ctx context.Context) ([]crawl.Notice, error) {
	raw, err := c.rdb.Get(ctx, c.key(keyRecent)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read window: %w", err)
	}
	var notices []crawl.Notice
	if err := json.Unmarshal(raw, &notices); err != nil {
		return nil, fmt.Errorf("cache: decode window: %w", err)
	}
	return notices, nil
}

func (c *Recency) loadIDs(ctx context.Context) (map[int]struct{}, error) {
	members, err := c.rdb.SMembers(ctx, c.key(keySet)).Result()
	if err != nil {
		return nil, err
	}
	ids := make(map[int]struct{}, len(members))
	for _, m := range members {
		if num, err := strconv.Atoi(m); err == nil {
			ids[num] = struct{}{}
		}
	}
	return ids, nil
}

func (c *Recency) loadMeta(ctx context.Context) (Meta, error) {
	raw, err := c.rdb.Get(ctx, c.key(keyInfo)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Meta{MaxSize: MaxSize}, nil
	}
	if err != nil {
		return Meta{}, fmt.Errorf("cache: read meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("cache: decode meta: %w", err)
	}
	return meta, nil
}

// storeAll writes window, id set, and meta in one transaction.
func (c *Recency) storeAll(ctx context.Context, notices []crawl.Notice, now time.Time) error {
	data, err := json.Marshal(notices)
	if err != nil {
		return fmt.Errorf("cache: encode window: %w", err)
	}
	meta := Meta{
		Size:          len(notices),
		LastUpdated:   &now,
		MaxSize:       MaxSize,
		IsInitialized: true,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: encode meta: %w", err)
	}

	members := make([]any, len(notices))
	for i, n := range notices {
		members[i] = strconv.Itoa(n.Num)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.key(keyRecent), data, 0)
	pipe.Del(ctx, c.key(keySet))
	if len(members) > 0 {
		pipe.SAdd(ctx, c.key(keySet), members...)
	}
	pipe.Set(ctx, c.key(keyInfo), metaData, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: store window: %w", err)
	}
	return nil
}

// topByNum sorts descending by num, deduplicates, and truncates to max.
func topByNum(notices []crawl.Notice, max int) []crawl.Notice {
	seen := make(map[int]struct{}, len(notices))
	out := make([]crawl.Notice, 0, len(notices))
	for _, n := range notices {
		if _, dup := seen[n.Num]; dup {
			continue
		}
		seen[n.Num] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num > out[j].Num })
	if len(out) > max {
		out = out[:max]
	}
	return out
}
