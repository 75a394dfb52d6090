package models

// FacetKey names a filterable attribute dimension.
type FacetKey string

const (
	FacetNone     FacetKey = ""
	FacetBrand    FacetKey = "brand"
	FacetColor    FacetKey = "color"
	FacetMaterial FacetKey = "material"
	FacetPatterns FacetKey = "patterns"
)

// ValidFacetKeys are the facet codes kept from a catalog-filters response.
var ValidFacetKeys = []FacetKey{FacetBrand, FacetColor, FacetMaterial, FacetPatterns}

// FocusFacetKeys are the facets a crawl can be partitioned by.
var FocusFacetKeys = []FacetKey{FacetMaterial, FacetPatterns, FacetColor}

func (k FacetKey) Valid() bool {
	for _, v := range ValidFacetKeys {
		if k == v {
			return true
		}
	}
	return false
}

// ParseFocusFacet accepts a focus key from configuration. "none" and "" mean
// no focus.
func ParseFocusFacet(s string) (FacetKey, bool) {
	if s == "" || s == "none" || s == "None" {
		return FacetNone, true
	}
	for _, k := range FocusFacetKeys {
		if FacetKey(s) == k {
			return k, true
		}
	}
	return FacetNone, false
}

type FacetOption struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Facets maps a facet key to its options in response order.
type Facets map[FacetKey][]FacetOption

// OptionIDs returns the option ids of a facet, or nil when absent.
func (f Facets) OptionIDs(key FacetKey) []int64 {
	opts := f[key]
	if len(opts) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(opts))
	for _, o := range opts {
		ids = append(ids, o.ID)
	}
	return ids
}
