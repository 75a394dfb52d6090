package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vinted_scrooper/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testItem(vintedID string) models.ItemRecord {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	price := 19.99
	return models.ItemRecord{
		ID:            "item-" + vintedID,
		VintedID:      vintedID,
		CatalogID:     10,
		Title:         "coat",
		URL:           "https://www.vinted.fr/items/" + vintedID,
		Price:         &price,
		Brand:         "Acme",
		IsAvailable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
		UnixCreatedAt: now.Unix(),
	}
}

func testImage(vintedID string) models.ImageRecord {
	return models.ImageRecord{
		ID:        "image-" + vintedID,
		VintedID:  vintedID,
		URL:       "https://images/" + vintedID,
		Size:      models.ImageSizeOriginal,
		CreatedAt: time.Now(),
	}
}

func TestSQLiteMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.InsertItems(ctx, StagingTable(TableItem), []models.ItemRecord{testItem("1"), testItem("2")}))

	n, err := store.MergeStaging(ctx, TableItem, ReferenceField)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.MergeStaging(ctx, TableItem, ReferenceField)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second merge without new staging rows")

	count, err := store.CountRows(ctx, TableItem)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteMergeSkipsKnownReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.InsertImages(ctx, TableImage, []models.ImageRecord{testImage("1")}))
	require.NoError(t, store.InsertImages(ctx, StagingTable(TableImage), []models.ImageRecord{testImage("1"), testImage("3")}))

	n, err := store.MergeStaging(ctx, TableImage, ReferenceField)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := store.CountRows(ctx, TableImage)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteResetThenMergeIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.InsertItems(ctx, StagingTable(TableItem), []models.ItemRecord{testItem("1")}))
	require.NoError(t, store.ResetStaging(ctx, TableItem))

	n, err := store.MergeStaging(ctx, TableItem, ReferenceField)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	staged, err := store.CountRows(ctx, StagingTable(TableItem))
	require.NoError(t, err)
	assert.Equal(t, 0, staged)

	// the clone still accepts item rows
	require.NoError(t, store.InsertItems(ctx, StagingTable(TableItem), []models.ItemRecord{testItem("5")}))
	n, err = store.MergeStaging(ctx, TableItem, ReferenceField)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteRejectsUnknownTables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.Error(t, store.InsertItems(ctx, "item; DROP TABLE item", []models.ItemRecord{testItem("1")}))
	_, err := store.MergeStaging(ctx, TableLikes, ReferenceField)
	assert.Error(t, err)
	_, err = store.MergeStaging(ctx, TableItem, "id")
	assert.Error(t, err)
	assert.Error(t, store.ResetStaging(ctx, TableCatalog))
}

func TestSQLiteAppendOnlyTables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	color := int64(4)

	likes := []models.LikesRecord{{VintedID: "1", Count: 3, CreatedAt: time.Now()}, {VintedID: "1", Count: 5, CreatedAt: time.Now()}}
	require.NoError(t, store.InsertLikes(ctx, likes))
	require.NoError(t, store.InsertItemDetails(ctx, []models.ItemDetailsRecord{{ItemID: "item-1", ColorID: &color, CreatedAt: time.Now()}}))

	n, err := store.CountRows(ctx, TableLikes)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "likes are a time series")

	n, err = store.CountRows(ctx, TableItemDetails)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteCatalogs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	catalogs := []models.Catalog{
		{ID: 1, Title: "Dresses", Code: "WOMEN_DRESSES", Women: true, IsValid: true, IsActive: true},
		{ID: 2, Title: "Skirts", Code: "WOMEN_SKIRTS", Women: true, IsValid: true, IsActive: true},
		{ID: 3, Title: "Retired", Code: "WOMEN_OLD", Women: true, IsValid: true, IsActive: false},
		{ID: 4, Title: "Jeans", Code: "MEN_JEANS", Women: false, IsValid: true, IsActive: true},
	}
	require.NoError(t, store.InsertCatalogs(ctx, catalogs))
	// existing ids are left alone
	require.NoError(t, store.InsertCatalogs(ctx, []models.Catalog{{ID: 1, Title: "Renamed", Women: true, IsValid: true, IsActive: true}}))

	women, err := store.ListCatalogs(ctx, true)
	require.NoError(t, err)
	require.Len(t, women, 2)
	assert.Equal(t, "Dresses", women[0].Title)

	require.NoError(t, store.SetImportance(ctx, []models.CatalogImportance{{CatalogID: 1, Score: 3}, {CatalogID: 2, Score: 1}}))
	top, err := store.ListCatalogsByScore(ctx, true, 3)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, int64(1), top[0].ID)

	ids, err := store.CatalogIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func TestSQLiteRunLog(t *testing.T) {
	store := newTestStore(t)

	run := &models.CrawlRun{Women: true, FilterBy: "color", StartedAt: time.Now(), Status: models.RunStatusRunning, Catalogs: 3}
	id, err := store.CreateRun(run)
	require.NoError(t, err)
	run.ID = id

	require.NoError(t, store.Log(&id, models.LogLevelInfo, "Starting crawl", "women"))

	finished := time.Now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.Seen = 10
	run.Normalized = 8
	run.Metadata = []byte(`{"seen":10}`)
	require.NoError(t, store.UpdateRun(run))

	runs, err := store.GetRecentRuns(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 8, runs[0].Normalized)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.JSONEq(t, `{"seen":10}`, string(runs[0].Metadata))

	logs, err := store.GetRunLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "women", logs[0].Source)
}
