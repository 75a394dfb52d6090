package services

import (
	"context"
	"log"
	"math/rand"
	"time"

	"vinted_scrooper/models"
	"vinted_scrooper/storage"
)

// StagingCommitter uploads normalized batches into the warehouse staging
// tables and merges them into the canonical tables.
type StagingCommitter struct {
	warehouse storage.Warehouse
	rng       *rand.Rand
}

func NewStagingCommitter(warehouse storage.Warehouse, rng *rand.Rand) *StagingCommitter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &StagingCommitter{warehouse: warehouse, rng: rng}
}

// Upload writes items and images to staging and likes and item details to
// their canonical tables. It returns the number of item rows staged, or 0 if
// either staged table failed, in which case the remaining tables are skipped.
// Earlier writes of a failed batch are not rolled back.
func (c *StagingCommitter) Upload(ctx context.Context, batch *models.Batch) int {
	if batch == nil {
		return 0
	}

	items := batch.Items
	c.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	if len(items) > 0 {
		if err := c.warehouse.InsertItems(ctx, storage.StagingTable(storage.TableItem), items); err != nil {
			log.Printf("Upload to %s failed: %v", storage.StagingTable(storage.TableItem), err)
			return 0
		}
	}
	if len(batch.Images) > 0 {
		if err := c.warehouse.InsertImages(ctx, storage.StagingTable(storage.TableImage), batch.Images); err != nil {
			log.Printf("Upload to %s failed: %v", storage.StagingTable(storage.TableImage), err)
			return 0
		}
	}
	if len(batch.Likes) > 0 {
		if err := c.warehouse.InsertLikes(ctx, batch.Likes); err != nil {
			log.Printf("Upload to %s failed: %v", storage.TableLikes, err)
		}
	}
	if len(batch.Details) > 0 {
		if err := c.warehouse.InsertItemDetails(ctx, batch.Details); err != nil {
			log.Printf("Upload to %s failed: %v", storage.TableItemDetails, err)
		}
	}

	return len(items)
}

// Commit merges every staged table into its canonical table, skipping rows
// whose reference id is already present, and returns the rows inserted.
func (c *StagingCommitter) Commit(ctx context.Context) int {
	total := 0
	for _, table := range storage.StagedTables {
		inserted, err := c.warehouse.MergeStaging(ctx, table, storage.ReferenceField)
		if err != nil {
			log.Printf("Commit of %s failed: %v", table, err)
			inserted = -1
		}
		total += int(max(inserted, 0))
	}
	return total
}

// ResetStaging recreates every staging table as an empty clone. It reports
// false if any table could not be reset.
func (c *StagingCommitter) ResetStaging(ctx context.Context) bool {
	ok := true
	for _, table := range storage.StagedTables {
		if err := c.warehouse.ResetStaging(ctx, table); err != nil {
			log.Printf("Reset of %s failed: %v", storage.StagingTable(table), err)
			ok = false
		}
	}
	return ok
}
