package storage

import (
	"context"
	"fmt"
	"strings"

	"vinted_scrooper/models"
)

const (
	TableCatalog           = "catalog"
	TableCatalogImportance = "catalog_importance"
	TableItem              = "item"
	TableImage             = "image"
	TableLikes             = "likes"
	TableItemDetails       = "item_details"

	// ReferenceField is the dedup key of the staged tables.
	ReferenceField = "vinted_id"
)

// StagedTables are the canonical tables written through staging.
var StagedTables = []string{TableItem, TableImage}

func StagingTable(table string) string {
	return table + "_staging"
}

// Warehouse is the canonical store the crawler writes to. Item and image rows
// go to a named table (canonical or staging); likes and details are always
// appended to their canonical tables.
type Warehouse interface {
	InsertItems(ctx context.Context, table string, rows []models.ItemRecord) error
	InsertImages(ctx context.Context, table string, rows []models.ImageRecord) error
	InsertLikes(ctx context.Context, rows []models.LikesRecord) error
	InsertItemDetails(ctx context.Context, rows []models.ItemDetailsRecord) error

	// MergeStaging copies staging rows whose refField is not yet in table and
	// returns the number of rows inserted.
	MergeStaging(ctx context.Context, table, refField string) (int64, error)
	// ResetStaging recreates the staging table as an empty clone of table.
	ResetStaging(ctx context.Context, table string) error
}

// =============================================================================
// Columns
// =============================================================================

var (
	itemColumns = []string{"id", "vinted_id", "catalog_id", "title", "url", "price", "currency",
		"brand", "size", "condition", "is_available", "created_at", "updated_at", "unix_created_at"}
	imageColumns       = []string{"id", "vinted_id", "url", "nobg", "size", "created_at"}
	likesColumns       = []string{"vinted_id", "count", "created_at"}
	itemDetailsColumns = []string{"item_id", "material_id", "pattern_id", "color_id", "created_at"}
)

func itemRow(r models.ItemRecord) []any {
	return []any{r.ID, r.VintedID, r.CatalogID, r.Title, r.URL, r.Price, r.Currency,
		r.Brand, r.Size, r.Condition, r.IsAvailable, r.CreatedAt, r.UpdatedAt, r.UnixCreatedAt}
}

func imageRow(r models.ImageRecord) []any {
	return []any{r.ID, r.VintedID, r.URL, r.NoBG, r.Size, r.CreatedAt}
}

func likesRow(r models.LikesRecord) []any {
	return []any{r.VintedID, r.Count, r.CreatedAt}
}

func itemDetailsRow(r models.ItemDetailsRecord) []any {
	return []any{r.ItemID, r.MaterialID, r.PatternID, r.ColorID, r.CreatedAt}
}

// =============================================================================
// SQL
// =============================================================================

// checkTable rejects anything that is not one of the crawler's tables, since
// table names are interpolated into SQL.
func checkTable(table string) error {
	switch table {
	case TableItem, TableImage, StagingTable(TableItem), StagingTable(TableImage),
		TableLikes, TableItemDetails, TableCatalog, TableCatalogImportance:
		return nil
	}
	return fmt.Errorf("unknown table %q", table)
}

func checkStaged(table, refField string) error {
	if table != TableItem && table != TableImage {
		return fmt.Errorf("table %q is not staged", table)
	}
	if refField != ReferenceField {
		return fmt.Errorf("unknown reference field %q", refField)
	}
	return nil
}

func mergeStagingSQL(table, refField string) string {
	return fmt.Sprintf("INSERT INTO %s SELECT * FROM %s WHERE %s NOT IN (SELECT %s FROM %s)",
		table, StagingTable(table), refField, refField, table)
}

func dropStagingSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", StagingTable(table))
}

func cloneStagingSQL(table string) string {
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s LIMIT 0", StagingTable(table), table)
}

// insertSQL builds a multi-column INSERT. placeholder renders the i-th
// (1-based) bind parameter.
func insertSQL(table string, columns []string, placeholder func(i int) string) string {
	ph := make([]string, len(columns))
	for i := range columns {
		ph[i] = placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(ph, ", "))
}
