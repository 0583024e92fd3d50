// people_group_cache.go implements CachedPeopleGroups, a Redis read-through cache in front of
// PeopleGroupReader.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/query"
	"github.com/redis/go-redis/v9"
)

const peopleGroupCachePrefix = "people_groups:"

// cacheClient is the subset of redis.Cmdable the cache needs.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedPeopleGroups caches people group reads in Redis. Any cache failure is logged and the
// read falls through to the wrapped reader; the cache never turns a good read into an error.
type CachedPeopleGroups struct {
	next   PeopleGroupReader
	client cacheClient
	ttl    time.Duration
}

// NewCachedPeopleGroups wraps next with a cache whose entries live for ttl.
func NewCachedPeopleGroups(next PeopleGroupReader, client cacheClient, ttl time.Duration) *CachedPeopleGroups {
	return &CachedPeopleGroups{next: next, client: client, ttl: ttl}
}

// List implements PeopleGroupReader.
func (c *CachedPeopleGroups) List(ctx context.Context, filter PeopleGroupFilter, sortSpec query.SortSpec, page query.Page) ([]models.PeopleGroup, error) {
	key := fmt.Sprintf("%slist:%s;sort=%s;limit=%d;page=%d", peopleGroupCachePrefix, filter.Key(), sortSpec, page.Limit, page.Number)

	var groups []models.PeopleGroup
	if c.load(ctx, key, &groups) {
		return groups, nil
	}

	groups, err := c.next.List(ctx, filter, sortSpec, page)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, groups)
	return groups, nil
}

// Get implements PeopleGroupReader. Misses for unknown IDs are not cached.
func (c *CachedPeopleGroups) Get(ctx context.Context, id int64) (*models.PeopleGroup, error) {
	key := peopleGroupCachePrefix + "get:" + strconv.FormatInt(id, 10)

	var group models.PeopleGroup
	if c.load(ctx, key, &group) {
		return &group, nil
	}

	found, err := c.next.Get(ctx, id)
	if err != nil || found == nil {
		return found, err
	}
	c.store(ctx, key, found)
	return found, nil
}

func (c *CachedPeopleGroups) load(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("people group cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		slog.Warn("people group cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedPeopleGroups) store(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("people group cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("people group cache write failed", "key", key, "error", err)
	}
}
