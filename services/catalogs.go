package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
	"vinted_scrooper/scraper"
)

// CatalogStore is the catalog side of the warehouse.
type CatalogStore interface {
	ListCatalogs(ctx context.Context, women bool) ([]models.Catalog, error)
	ListCatalogsByScore(ctx context.Context, women bool, score int) ([]models.Catalog, error)
	CatalogIDs(ctx context.Context) ([]int64, error)
	InsertCatalogs(ctx context.Context, catalogs []models.Catalog) error
}

// CatalogLister fetches the raw catalog tree.
type CatalogLister interface {
	CatalogsList(ctx context.Context) (*marketplace.Response, error)
}

// CatalogService decides which catalogs a run crawls and in what order.
type CatalogService struct {
	store CatalogStore
	rng   *rand.Rand

	// TierProbability is the chance that a load is ordered by importance
	// tier instead of a single shuffle of the whole table.
	TierProbability float64
}

func NewCatalogService(store CatalogStore, rng *rand.Rand) *CatalogService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &CatalogService{store: store, rng: rng}
}

// Load returns the valid, active catalogs of one gender in random order.
func (s *CatalogService) Load(ctx context.Context, women bool) ([]models.Catalog, error) {
	if s.TierProbability > 0 && s.rng.Float64() < s.TierProbability {
		return s.loadTiered(ctx, women)
	}

	catalogs, err := s.store.ListCatalogs(ctx, women)
	if err != nil {
		return nil, err
	}
	s.shuffle(catalogs)
	return catalogs, nil
}

// loadTiered concatenates the importance tiers, highest first, each shuffled.
func (s *CatalogService) loadTiered(ctx context.Context, women bool) ([]models.Catalog, error) {
	var catalogs []models.Catalog
	for _, score := range models.ImportanceTiers {
		tier, err := s.store.ListCatalogsByScore(ctx, women, score)
		if err != nil {
			return nil, err
		}
		s.shuffle(tier)
		catalogs = append(catalogs, tier...)
	}
	log.Printf("Loaded %d catalogs by importance tier (women=%v)", len(catalogs), women)
	return catalogs, nil
}

func (s *CatalogService) shuffle(catalogs []models.Catalog) {
	s.rng.Shuffle(len(catalogs), func(i, j int) { catalogs[i], catalogs[j] = catalogs[j], catalogs[i] })
}

// Sync fetches the catalog tree and inserts the leaf catalogs that are not
// known yet. It returns the number of catalogs added.
func (s *CatalogService) Sync(ctx context.Context, lister CatalogLister, validCodes []string) (int, error) {
	resp, err := lister.CatalogsList(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch catalog tree: %w", err)
	}
	if !resp.OK() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return 0, fmt.Errorf("fetch catalog tree: status %d", status)
	}

	catalogs, err := scraper.ParseCatalogTree(resp.Body, validCodes)
	if err != nil {
		return 0, err
	}

	ids, err := s.store.CatalogIDs(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[int64]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	var fresh []models.Catalog
	for _, c := range catalogs {
		if known[c.ID] {
			continue
		}
		known[c.ID] = true
		fresh = append(fresh, c)
	}

	if err := s.store.InsertCatalogs(ctx, fresh); err != nil {
		return 0, err
	}
	log.Printf("Catalog sync: %d in tree, %d new", len(catalogs), len(fresh))
	return len(fresh), nil
}
