package scraper

import (
	"math/rand"

	"vinted_scrooper/models"
)

const (
	DefaultMaxFilterOptions = 10
	DefaultFilterBatchSize  = 1
	DefaultVintageBrandID   = 14803
)

// DefaultDesignerCatalogs always get a brand expansion on top of the
// requested facet.
var DefaultDesignerCatalogs = []int64{2984, 2985, 2986, 2987, 2990, 2991, 2992}

// Resolver turns a catalog and its facets into the search requests that
// partition it. It is not safe for concurrent use; the rng is owned by the
// caller's run.
type Resolver struct {
	rng              *rand.Rand
	MaxOptions       int
	BatchSize        int
	PerPage          int
	VintageBrandID   int64
	designerCatalogs map[int64]bool
}

func NewResolver(rng *rand.Rand) *Resolver {
	r := &Resolver{
		rng:            rng,
		MaxOptions:     DefaultMaxFilterOptions,
		BatchSize:      DefaultFilterBatchSize,
		PerPage:        models.MaxPerPage,
		VintageBrandID: DefaultVintageBrandID,
	}
	r.SetDesignerCatalogs(DefaultDesignerCatalogs)
	return r
}

func (r *Resolver) SetDesignerCatalogs(ids []int64) {
	r.designerCatalogs = make(map[int64]bool, len(ids))
	for _, id := range ids {
		r.designerCatalogs[id] = true
	}
}

func (r *Resolver) IsDesigner(catalogID int64) bool {
	return r.designerCatalogs[catalogID]
}

// Resolve returns the ordered requests for one catalog. onlyVintage wins
// over every facet. Designer catalogs get the brand expansion appended after
// the focus facet's requests.
func (r *Resolver) Resolve(catalogID int64, facets models.Facets, focus models.FacetKey, onlyVintage bool) []models.SearchRequest {
	base := r.base(catalogID)

	if onlyVintage {
		return []models.SearchRequest{base.WithFacet(models.FacetBrand, []int64{r.VintageBrandID})}
	}

	keys := []models.FacetKey{focus}
	if r.IsDesigner(catalogID) {
		keys = append(keys, models.FacetBrand)
	}

	var requests []models.SearchRequest
	for _, key := range keys {
		requests = append(requests, r.expand(base, facets, key)...)
	}
	return requests
}

func (r *Resolver) base(catalogID int64) models.SearchRequest {
	perPage := r.PerPage
	if perPage <= 0 || perPage > models.MaxPerPage {
		perPage = models.MaxPerPage
	}
	return models.SearchRequest{
		Page:       1,
		PerPage:    perPage,
		Order:      models.SortNewestFirst,
		CatalogIDs: []int64{catalogID},
	}
}

func (r *Resolver) expand(base models.SearchRequest, facets models.Facets, key models.FacetKey) []models.SearchRequest {
	if key == models.FacetNone {
		return []models.SearchRequest{base}
	}

	options := r.sample(facets.OptionIDs(key))
	if len(options) == 0 {
		return []models.SearchRequest{base}
	}

	r.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	var requests []models.SearchRequest
	for _, batch := range batchIDs(options, r.BatchSize) {
		requests = append(requests, base.WithFacet(key, batch))
	}
	return requests
}

// sample draws at most MaxOptions ids without replacement.
func (r *Resolver) sample(ids []int64) []int64 {
	n := len(ids)
	if r.MaxOptions > 0 && r.MaxOptions < n {
		n = r.MaxOptions
	}
	if n == len(ids) {
		return append([]int64(nil), ids...)
	}

	out := make([]int64, 0, n)
	for _, i := range r.rng.Perm(len(ids))[:n] {
		out = append(out, ids[i])
	}
	return out
}

// batchIDs splits ids into consecutive chunks of size, remainder last.
func batchIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = 1
	}
	var batches [][]int64
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[i:end])
	}
	return batches
}
