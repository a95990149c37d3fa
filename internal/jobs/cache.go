package jobs

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// CachedStore fronts a Store with a TTL cache for polling reads. Only
// terminal records are cached since they no longer change; every Save
// through this store drops the cached entry.
type CachedStore struct {
	inner Store
	cache *ttlcache.Cache[string, Job]
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner: inner,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Job](ttl),
		),
	}
}

// Start runs expired-item cleanup until Stop is called. It blocks.
func (c *CachedStore) Start() { c.cache.Start() }

func (c *CachedStore) Stop() { c.cache.Stop() }

func (c *CachedStore) Save(ctx context.Context, job Job) error {
	err := c.inner.Save(ctx, job)
	c.cache.Delete(job.Key)
	return err
}

func (c *CachedStore) Get(ctx context.Context, key string) (Job, error) {
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	job, err := c.inner.Get(ctx, key)
	if err != nil {
		return Job{}, err
	}
	if job.Status.Terminal() {
		c.cache.Set(key, job, ttlcache.DefaultTTL)
	}
	return job, nil
}
