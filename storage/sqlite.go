package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"vinted_scrooper/models"
)

// SQLiteStore is the operational store (run records and logs). It also holds
// a full local copy of the warehouse schema so the crawler can run without
// Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog (
		id INTEGER PRIMARY KEY,
		title TEXT,
		code TEXT,
		url TEXT,
		women BOOLEAN,
		is_valid BOOLEAN DEFAULT TRUE,
		is_active BOOLEAN DEFAULT TRUE,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS catalog_importance (
		catalog_id INTEGER PRIMARY KEY,
		score INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS item (
		id TEXT,
		vinted_id TEXT NOT NULL,
		catalog_id INTEGER,
		title TEXT,
		url TEXT,
		price REAL,
		currency TEXT,
		brand TEXT,
		size TEXT,
		condition TEXT,
		is_available BOOLEAN,
		created_at DATETIME,
		updated_at DATETIME,
		unix_created_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS image (
		id TEXT,
		vinted_id TEXT NOT NULL,
		url TEXT,
		nobg BOOLEAN,
		size TEXT,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS likes (
		vinted_id TEXT NOT NULL,
		count INTEGER,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS item_details (
		item_id TEXT NOT NULL,
		material_id INTEGER,
		pattern_id INTEGER,
		color_id INTEGER,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS item_staging AS SELECT * FROM item LIMIT 0;
	CREATE TABLE IF NOT EXISTS image_staging AS SELECT * FROM image LIMIT 0;

	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY,
		women BOOLEAN,
		filter_by TEXT,
		only_vintage BOOLEAN,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		catalogs INTEGER,
		seen INTEGER,
		normalized INTEGER,
		uploaded INTEGER,
		committed INTEGER,
		metadata JSON
	);

	CREATE TABLE IF NOT EXISTS crawl_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		source TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_item_vinted_id ON item(vinted_id);
	CREATE INDEX IF NOT EXISTS idx_image_vinted_id ON image(vinted_id);
	CREATE INDEX IF NOT EXISTS idx_likes_vinted_id ON likes(vinted_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON crawl_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON crawl_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Warehouse
// =============================================================================

func (s *SQLiteStore) InsertItems(ctx context.Context, table string, rows []models.ItemRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = itemRow(r)
	}
	return s.insertRows(ctx, table, itemColumns, values)
}

func (s *SQLiteStore) InsertImages(ctx context.Context, table string, rows []models.ImageRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = imageRow(r)
	}
	return s.insertRows(ctx, table, imageColumns, values)
}

func (s *SQLiteStore) InsertLikes(ctx context.Context, rows []models.LikesRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = likesRow(r)
	}
	return s.insertRows(ctx, TableLikes, likesColumns, values)
}

func (s *SQLiteStore) InsertItemDetails(ctx context.Context, rows []models.ItemDetailsRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = itemDetailsRow(r)
	}
	return s.insertRows(ctx, TableItemDetails, itemDetailsColumns, values)
}

func (s *SQLiteStore) insertRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, columns, func(int) string { return "?" }))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) MergeStaging(ctx context.Context, table, refField string) (int64, error) {
	if err := checkStaged(table, refField); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, mergeStagingSQL(table, refField))
	if err != nil {
		return 0, fmt.Errorf("merge %s: %w", StagingTable(table), err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) ResetStaging(ctx context.Context, table string) error {
	if err := checkStaged(table, ReferenceField); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropStagingSQL(table)); err != nil {
		return fmt.Errorf("drop %s: %w", StagingTable(table), err)
	}
	if _, err := tx.ExecContext(ctx, cloneStagingSQL(table)); err != nil {
		return fmt.Errorf("clone %s: %w", table, err)
	}
	return tx.Commit()
}

// CountRows is used by status output and tests.
func (s *SQLiteStore) CountRows(ctx context.Context, table string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// =============================================================================
// Catalogs
// =============================================================================

const catalogSelect = `SELECT c.id, c.title, c.code, c.url, c.women, c.is_valid, c.is_active, c.created_at FROM catalog c`

func (s *SQLiteStore) ListCatalogs(ctx context.Context, women bool) ([]models.Catalog, error) {
	return s.queryCatalogs(ctx, catalogSelect+`
		WHERE c.women = ? AND c.is_valid = TRUE AND c.is_active = TRUE
		ORDER BY c.id`, women)
}

func (s *SQLiteStore) ListCatalogsByScore(ctx context.Context, women bool, score int) ([]models.Catalog, error) {
	return s.queryCatalogs(ctx, catalogSelect+`
		JOIN catalog_importance ci ON ci.catalog_id = c.id
		WHERE c.women = ? AND c.is_valid = TRUE AND c.is_active = TRUE AND ci.score = ?
		ORDER BY c.id`, women, score)
}

func (s *SQLiteStore) queryCatalogs(ctx context.Context, query string, args ...any) ([]models.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var catalogs []models.Catalog
	for rows.Next() {
		var c models.Catalog
		var createdAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Title, &c.Code, &c.URL, &c.Women, &c.IsValid, &c.IsActive, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			c.CreatedAt = createdAt.Time
		}
		catalogs = append(catalogs, c)
	}
	return catalogs, rows.Err()
}

func (s *SQLiteStore) CatalogIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM catalog`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) InsertCatalogs(ctx context.Context, catalogs []models.Catalog) error {
	if len(catalogs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range catalogs {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO catalog (id, title, code, url, women, is_valid, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			c.ID, c.Title, c.Code, c.URL, c.Women, c.IsValid, c.IsActive, createdAt); err != nil {
			return fmt.Errorf("insert catalog %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetImportance(ctx context.Context, rows []models.CatalogImportance) error {
	for _, r := range rows {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO catalog_importance (catalog_id, score) VALUES (?, ?)
			ON CONFLICT(catalog_id) DO UPDATE SET score = excluded.score`,
			r.CatalogID, r.Score); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Runs & logs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.CrawlRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO crawl_runs (women, filter_by, only_vintage, started_at, status, catalogs,
			seen, normalized, uploaded, committed)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, 0)`,
		run.Women, run.FilterBy, run.OnlyVintage, run.StartedAt, run.Status, run.Catalogs)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.CrawlRun) error {
	_, err := s.db.Exec(`
		UPDATE crawl_runs SET finished_at = ?, status = ?, seen = ?, normalized = ?,
			uploaded = ?, committed = ?, metadata = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Seen, run.Normalized,
		run.Uploaded, run.Committed, string(run.Metadata), run.ID)
	return err
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO crawl_logs (run_id, timestamp, level, message, source)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, source)
	return err
}

func (s *SQLiteStore) GetRecentRuns(limit int) ([]models.CrawlRun, error) {
	rows, err := s.db.Query(`
		SELECT id, women, filter_by, only_vintage, started_at, finished_at, status, catalogs,
			seen, normalized, uploaded, committed, COALESCE(metadata, '{}')
		FROM crawl_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.CrawlRun
	for rows.Next() {
		var r models.CrawlRun
		var finishedAt sql.NullTime
		var metadata string
		if err := rows.Scan(&r.ID, &r.Women, &r.FilterBy, &r.OnlyVintage, &r.StartedAt, &finishedAt,
			&r.Status, &r.Catalogs, &r.Seen, &r.Normalized, &r.Uploaded, &r.Committed, &metadata); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		r.Metadata = []byte(metadata)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetRunLogs(runID int64) ([]models.CrawlLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message, source
		FROM crawl_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.CrawlLog
	for rows.Next() {
		var l models.CrawlLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.Source); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
