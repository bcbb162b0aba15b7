package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

const (
	defaultCacheTTL    = 10 * time.Minute
	defaultCachePrefix = "match:snapshot:"
)

// CachedSource caches snapshots in Redis keyed by entity and data version.
// A version bump changes the key, so a cached snapshot is never stale.
// Redis failures fall back to the wrapped source.
type CachedSource struct {
	Source
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    logger.Logger
}

// NewCachedSource wraps inner with a Redis snapshot cache.
func NewCachedSource(inner Source, client redis.UniversalClient, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedSource{
		Source: inner,
		client: client,
		ttl:    ttl,
		prefix: defaultCachePrefix,
		log:    logger.Get().Named("snapshot-cache"),
	}
}

func (c *CachedSource) key(entity model.EntityType, id string, version int64) string {
	return fmt.Sprintf("%s%s:%s:v%d", c.prefix, entity, id, version)
}

// FetchCandidate implements Source.
func (c *CachedSource) FetchCandidate(ctx context.Context, studentID string) (*model.CandidateSnapshot, error) {
	var snap model.CandidateSnapshot
	hit, err := c.lookup(ctx, model.EntityStudent, studentID, &snap)
	if err != nil {
		return nil, err
	}
	if hit {
		return &snap, nil
	}
	fresh, err := c.Source.FetchCandidate(ctx, studentID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, model.EntityStudent, studentID, fresh.Version, fresh)
	return fresh, nil
}

// FetchOpportunity implements Source.
func (c *CachedSource) FetchOpportunity(ctx context.Context, opportunityID string) (*model.OpportunitySnapshot, error) {
	var snap model.OpportunitySnapshot
	hit, err := c.lookup(ctx, model.EntityOpportunity, opportunityID, &snap)
	if err != nil {
		return nil, err
	}
	if hit {
		return &snap, nil
	}
	fresh, err := c.Source.FetchOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, model.EntityOpportunity, opportunityID, fresh.Version, fresh)
	return fresh, nil
}

// lookup reads the current version from the wrapped source and then the
// cache entry for it. Only source errors are returned.
func (c *CachedSource) lookup(ctx context.Context, entity model.EntityType, id string, dst any) (bool, error) {
	version, err := c.Source.CurrentDataVersion(ctx, entity, id)
	if err != nil {
		return false, err
	}
	raw, err := c.client.Get(ctx, c.key(entity, id, version)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		metrics.RecordCacheLookup(string(entity), false)
		return false, nil
	case err != nil:
		c.log.Debug(ctx, "snapshot cache read failed", logger.String("entity", string(entity)), logger.Error(err))
		metrics.RecordCacheLookup(string(entity), false)
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn(ctx, "dropping undecodable cached snapshot", logger.String("entity", string(entity)), logger.String("id", id))
		metrics.RecordCacheLookup(string(entity), false)
		return false, nil
	}
	metrics.RecordCacheLookup(string(entity), true)
	return true, nil
}

func (c *CachedSource) store(ctx context.Context, entity model.EntityType, id string, version int64, snap any) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(entity, id, version), raw, c.ttl).Err(); err != nil {
		c.log.Debug(ctx, "snapshot cache write failed", logger.String("entity", string(entity)), logger.Error(err))
	}
}
