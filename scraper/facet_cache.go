package scraper

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
)

// FacetCache remembers parsed catalog facets between runs of a long-lived
// process. Only non-empty results are cached so a throttled or failed call is
// retried on the next run.
type FacetCache struct {
	cache *expirable.LRU[int64, models.Facets]
}

func NewFacetCache(size int, ttl time.Duration) *FacetCache {
	if size <= 0 {
		size = 4096
	}
	return &FacetCache{cache: expirable.NewLRU[int64, models.Facets](size, nil, ttl)}
}

func (c *FacetCache) Get(catalogID int64) (models.Facets, bool) {
	if c == nil {
		return nil, false
	}
	return c.cache.Get(catalogID)
}

func (c *FacetCache) Add(catalogID int64, facets models.Facets) {
	if c == nil || len(facets) == 0 {
		return
	}
	c.cache.Add(catalogID, facets)
}

func (c *FacetCache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// load returns the facets of a catalog, calling the fetcher on a cache miss.
// The response is nil when the facets came from the cache.
func (c *FacetCache) load(ctx context.Context, f Fetcher, catalogID int64) (models.Facets, *marketplace.Response, error) {
	if facets, ok := c.Get(catalogID); ok {
		return facets, nil, nil
	}
	resp, err := f.CatalogFilters(ctx, []int64{catalogID})
	if err != nil {
		return models.Facets{}, nil, err
	}
	facets := ParseFilters(resp)
	c.Add(catalogID, facets)
	return facets, resp, nil
}
