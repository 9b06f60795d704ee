package collector

import (
	"context"

	"github.com/icco/trendwatch/lib/trends"
)

// DetailCache remembers detail lookups for the length of one run, so an item
// listed by several sources costs one request. Failed lookups are cached as
// empty. It is not safe for concurrent use.
type DetailCache struct {
	catalog   Catalog
	companies map[trends.Key][]string
	imdbIDs   map[trends.Key]string
	hits      int
	misses    int
}

// NewDetailCache returns an empty cache reading through catalog.
func NewDetailCache(catalog Catalog) *DetailCache {
	return &DetailCache{
		catalog:   catalog,
		companies: make(map[trends.Key][]string),
		imdbIDs:   make(map[trends.Key]string),
	}
}

// Companies returns the merged production company and network names.
func (dc *DetailCache) Companies(ctx context.Context, key trends.Key) ([]string, error) {
	if c, ok := dc.companies[key]; ok {
		dc.hits++
		return c, nil
	}
	dc.misses++

	d, err := dc.catalog.Details(ctx, key.MediaType, key.ContentID)
	if err != nil {
		dc.companies[key] = []string{}
		return nil, err
	}
	c := d.Companies()
	dc.companies[key] = c
	return c, nil
}

// IMDbID returns the item's IMDb id, possibly empty.
func (dc *DetailCache) IMDbID(ctx context.Context, key trends.Key) (string, error) {
	if id, ok := dc.imdbIDs[key]; ok {
		dc.hits++
		return id, nil
	}
	dc.misses++

	ids, err := dc.catalog.ExternalIDs(ctx, key.MediaType, key.ContentID)
	if err != nil {
		dc.imdbIDs[key] = ""
		return "", err
	}
	dc.imdbIDs[key] = ids.IMDbID
	return ids.IMDbID, nil
}

// Stats reports cache hits and misses.
func (dc *DetailCache) Stats() (hits, misses int) {
	return dc.hits, dc.misses
}
