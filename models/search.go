package models

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type SortOrder string

const (
	SortRelevance      SortOrder = "relevance"
	SortPriceHighToLow SortOrder = "price_high_to_low"
	SortPriceLowToHigh SortOrder = "price_low_to_high"
	SortNewestFirst    SortOrder = "newest_first"
)

// MaxPerPage is the largest page size the search endpoint honours.
const MaxPerPage = 960

// SearchRequest enumerates every recognised item-search parameter. Unset
// fields are left out of the query string.
type SearchRequest struct {
	Page        int
	PerPage     int
	Order       SortOrder
	Query       string
	PriceFrom   *float64
	PriceTo     *float64
	CatalogIDs  []int64
	SizeIDs     []int64
	BrandIDs    []int64
	StatusIDs   []int64
	ColorIDs    []int64
	PatternIDs  []int64
	MaterialIDs []int64
}

// FacetAttribution is the facet option a search was constrained to, recorded
// on every item found through it.
type FacetAttribution struct {
	MaterialID *int64
	PatternID  *int64
	ColorID    *int64
}

// Attribution takes the first id of each attributed facet filter.
func (r SearchRequest) Attribution() FacetAttribution {
	return FacetAttribution{
		MaterialID: first(r.MaterialIDs),
		PatternID:  first(r.PatternIDs),
		ColorID:    first(r.ColorIDs),
	}
}

// WithFacet returns a copy constrained to ids of the given facet.
func (r SearchRequest) WithFacet(key FacetKey, ids []int64) SearchRequest {
	ids = append([]int64(nil), ids...)
	switch key {
	case FacetBrand:
		r.BrandIDs = ids
	case FacetColor:
		r.ColorIDs = ids
	case FacetMaterial:
		r.MaterialIDs = ids
	case FacetPatterns:
		r.PatternIDs = ids
	}
	return r
}

// FacetIDs returns the ids the request is constrained to for key.
func (r SearchRequest) FacetIDs(key FacetKey) []int64 {
	switch key {
	case FacetBrand:
		return r.BrandIDs
	case FacetColor:
		return r.ColorIDs
	case FacetMaterial:
		return r.MaterialIDs
	case FacetPatterns:
		return r.PatternIDs
	}
	return nil
}

// Values encodes the request as query parameters. now is sent as the
// cache-busting time parameter.
func (r SearchRequest) Values(now time.Time) url.Values {
	v := url.Values{}
	if r.Page > 0 {
		v.Set("page", strconv.Itoa(r.Page))
	}
	if r.PerPage > 0 {
		perPage := r.PerPage
		if perPage > MaxPerPage {
			perPage = MaxPerPage
		}
		v.Set("per_page", strconv.Itoa(perPage))
	}
	v.Set("time", strconv.FormatInt(now.Unix(), 10))
	if r.Query != "" {
		v.Set("search_text", r.Query)
	}
	if r.PriceFrom != nil {
		v.Set("price_from", strconv.FormatFloat(*r.PriceFrom, 'f', -1, 64))
	}
	if r.PriceTo != nil {
		v.Set("price_to", strconv.FormatFloat(*r.PriceTo, 'f', -1, 64))
	}
	if r.Order != "" {
		v.Set("order", string(r.Order))
	}
	setIDs(v, "catalog_ids", r.CatalogIDs)
	setIDs(v, "size_ids", r.SizeIDs)
	setIDs(v, "brand_ids", r.BrandIDs)
	setIDs(v, "status_ids", r.StatusIDs)
	setIDs(v, "color_ids", r.ColorIDs)
	setIDs(v, "patterns_ids", r.PatternIDs)
	setIDs(v, "material_ids", r.MaterialIDs)
	return v
}

func (r SearchRequest) String() string {
	return fmt.Sprintf("catalog=%v brand=%v color=%v material=%v patterns=%v",
		r.CatalogIDs, r.BrandIDs, r.ColorIDs, r.MaterialIDs, r.PatternIDs)
}

func setIDs(v url.Values, key string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	v.Set(key, JoinIDs(ids))
}

// JoinIDs renders ids as the comma-separated list the API expects.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func first(ids []int64) *int64 {
	if len(ids) == 0 {
		return nil
	}
	id := ids[0]
	return &id
}
