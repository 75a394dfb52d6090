package scraper

import (
	"math/rand"
	"reflect"
	"testing"

	"vinted_scrooper/models"
)

func facetWith(key models.FacetKey, ids ...int64) models.Facets {
	opts := make([]models.FacetOption, 0, len(ids))
	for _, id := range ids {
		opts = append(opts, models.FacetOption{ID: id})
	}
	return models.Facets{key: opts}
}

func rangeIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}

func TestResolveVintageShortcut(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(1)))
	facets := facetWith(models.FacetMaterial, 1, 2, 3)

	reqs := r.Resolve(2984, facets, models.FacetMaterial, true)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if !reflect.DeepEqual(reqs[0].BrandIDs, []int64{DefaultVintageBrandID}) {
		t.Fatalf("expected vintage brand filter, got %v", reqs[0].BrandIDs)
	}
	if reqs[0].MaterialIDs != nil {
		t.Fatal("vintage shortcut must ignore facets")
	}
}

func TestResolveNoFocus(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(1)))

	reqs := r.Resolve(10, facetWith(models.FacetMaterial, 1, 2), models.FacetNone, false)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Page != 1 || req.PerPage != models.MaxPerPage || req.Order != models.SortNewestFirst {
		t.Fatalf("unexpected base request %+v", req)
	}
	if !reflect.DeepEqual(req.CatalogIDs, []int64{10}) {
		t.Fatalf("expected catalog filter, got %v", req.CatalogIDs)
	}
	if req.MaterialIDs != nil || req.BrandIDs != nil {
		t.Fatalf("expected unconstrained request, got %s", req)
	}
}

func TestResolveFacetWithoutOptions(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(1)))

	reqs := r.Resolve(10, models.Facets{}, models.FacetColor, false)
	if len(reqs) != 1 || reqs[0].ColorIDs != nil {
		t.Fatalf("expected single unconstrained request, got %v", reqs)
	}
}

func TestResolveScenarioCBatching(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(7)))
	r.BatchSize = 2

	reqs := r.Resolve(10, facetWith(models.FacetPatterns, 1, 2, 3, 4, 5), models.FacetPatterns, false)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}

	sizes := []int{len(reqs[0].PatternIDs), len(reqs[1].PatternIDs), len(reqs[2].PatternIDs)}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Fatalf("expected batch sizes [2 2 1], got %v", sizes)
	}

	seen := map[int64]int{}
	for _, req := range reqs {
		for _, id := range req.PatternIDs {
			seen[id]++
		}
	}
	for _, id := range rangeIDs(5) {
		if seen[id] != 1 {
			t.Fatalf("option %d appears %d times", id, seen[id])
		}
	}
}

func TestResolveSamplesWithoutReplacement(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		r := NewResolver(rand.New(rand.NewSource(seed)))

		reqs := r.Resolve(10, facetWith(models.FacetColor, rangeIDs(37)...), models.FacetColor, false)
		if len(reqs) != DefaultMaxFilterOptions {
			t.Fatalf("seed %d: expected %d requests, got %d", seed, DefaultMaxFilterOptions, len(reqs))
		}

		distinct := map[int64]bool{}
		for _, req := range reqs {
			if len(req.ColorIDs) != 1 {
				t.Fatalf("seed %d: expected one color per request, got %v", seed, req.ColorIDs)
			}
			distinct[req.ColorIDs[0]] = true
		}
		if len(distinct) != DefaultMaxFilterOptions {
			t.Fatalf("seed %d: expected %d distinct options, got %d", seed, DefaultMaxFilterOptions, len(distinct))
		}
	}
}

func TestResolveDeterministicForSeed(t *testing.T) {
	facets := facetWith(models.FacetMaterial, rangeIDs(30)...)

	a := NewResolver(rand.New(rand.NewSource(42))).Resolve(10, facets, models.FacetMaterial, false)
	b := NewResolver(rand.New(rand.NewSource(42))).Resolve(10, facets, models.FacetMaterial, false)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed should produce the same requests")
	}
}

func TestResolveDesignerAddsBrandExpansion(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(3)))
	facets := facetWith(models.FacetMaterial, 1, 2)
	facets[models.FacetBrand] = []models.FacetOption{{ID: 100}, {ID: 200}, {ID: 300}}

	reqs := r.Resolve(2990, facets, models.FacetMaterial, false)
	if len(reqs) != 5 {
		t.Fatalf("expected 2 material + 3 brand requests, got %d", len(reqs))
	}
	for i, req := range reqs[:2] {
		if len(req.MaterialIDs) != 1 || req.BrandIDs != nil {
			t.Fatalf("request %d should be a material request, got %s", i, req)
		}
	}
	for i, req := range reqs[2:] {
		if len(req.BrandIDs) != 1 || req.MaterialIDs != nil {
			t.Fatalf("request %d should be a brand request, got %s", i+2, req)
		}
	}
}

func TestResolveDesignerWithoutFocus(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(3)))
	facets := facetWith(models.FacetBrand, 100, 200)

	reqs := r.Resolve(2984, facets, models.FacetNone, false)
	if len(reqs) != 3 {
		t.Fatalf("expected unconstrained + 2 brand requests, got %d", len(reqs))
	}
	if reqs[0].BrandIDs != nil {
		t.Fatalf("first request should be unconstrained, got %s", reqs[0])
	}
}

func TestResolveNonDesignerIgnoresBrand(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(3)))
	facets := facetWith(models.FacetBrand, 100, 200)

	reqs := r.Resolve(11, facets, models.FacetNone, false)
	if len(reqs) != 1 {
		t.Fatalf("expected a single request, got %d", len(reqs))
	}
}

func TestResolveAttribution(t *testing.T) {
	r := NewResolver(rand.New(rand.NewSource(3)))

	reqs := r.Resolve(11, facetWith(models.FacetColor, 9), models.FacetColor, false)
	attr := reqs[0].Attribution()
	if attr.ColorID == nil || *attr.ColorID != 9 || attr.MaterialID != nil || attr.PatternID != nil {
		t.Fatalf("unexpected attribution %+v", attr)
	}
}

func TestBatchIDs(t *testing.T) {
	got := batchIDs([]int64{1, 2, 3, 4, 5, 6, 7}, 3)
	want := [][]int64{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batchIDs = %v, want %v", got, want)
	}
	if batchIDs(nil, 3) != nil {
		t.Fatal("expected no batches for no ids")
	}
}
