package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vinted_scrooper/models"
)

// PostgresStore is the production warehouse.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Schema
// =============================================================================

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS catalog (
		id BIGINT PRIMARY KEY,
		title TEXT,
		code TEXT,
		url TEXT,
		women BOOLEAN NOT NULL DEFAULT FALSE,
		is_valid BOOLEAN NOT NULL DEFAULT TRUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS catalog_importance (
		catalog_id BIGINT PRIMARY KEY,
		score SMALLINT NOT NULL CHECK (score BETWEEN 1 AND 3)
	);

	CREATE TABLE IF NOT EXISTS item (
		id UUID,
		vinted_id TEXT NOT NULL,
		catalog_id BIGINT,
		title TEXT,
		url TEXT,
		price DOUBLE PRECISION,
		currency TEXT,
		brand TEXT,
		size TEXT,
		condition TEXT,
		is_available BOOLEAN,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		unix_created_at BIGINT
	);

	CREATE TABLE IF NOT EXISTS image (
		id UUID,
		vinted_id TEXT NOT NULL,
		url TEXT,
		nobg BOOLEAN,
		size TEXT,
		created_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS likes (
		vinted_id TEXT NOT NULL,
		count INTEGER,
		created_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS item_details (
		item_id UUID NOT NULL,
		material_id BIGINT,
		pattern_id BIGINT,
		color_id BIGINT,
		created_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS item_staging AS SELECT * FROM item LIMIT 0;
	CREATE TABLE IF NOT EXISTS image_staging AS SELECT * FROM image LIMIT 0;

	CREATE INDEX IF NOT EXISTS idx_item_vinted_id ON item(vinted_id);
	CREATE INDEX IF NOT EXISTS idx_image_vinted_id ON image(vinted_id);
	CREATE INDEX IF NOT EXISTS idx_likes_vinted_id ON likes(vinted_id, created_at);
`

// EnsureSchema creates the warehouse tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// =============================================================================
// Warehouse
// =============================================================================

func (s *PostgresStore) InsertItems(ctx context.Context, table string, rows []models.ItemRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = itemRow(r)
	}
	return s.copyRows(ctx, table, itemColumns, values)
}

func (s *PostgresStore) InsertImages(ctx context.Context, table string, rows []models.ImageRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = imageRow(r)
	}
	return s.copyRows(ctx, table, imageColumns, values)
}

func (s *PostgresStore) InsertLikes(ctx context.Context, rows []models.LikesRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = likesRow(r)
	}
	return s.copyRows(ctx, TableLikes, likesColumns, values)
}

func (s *PostgresStore) InsertItemDetails(ctx context.Context, rows []models.ItemDetailsRecord) error {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = itemDetailsRow(r)
	}
	return s.copyRows(ctx, TableItemDetails, itemDetailsColumns, values)
}

func (s *PostgresStore) copyRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}

func (s *PostgresStore) MergeStaging(ctx context.Context, table, refField string) (int64, error) {
	if err := checkStaged(table, refField); err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, mergeStagingSQL(table, refField))
	if err != nil {
		return 0, fmt.Errorf("merge %s: %w", StagingTable(table), err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ResetStaging(ctx context.Context, table string) error {
	if err := checkStaged(table, ReferenceField); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, dropStagingSQL(table)); err != nil {
		return fmt.Errorf("drop %s: %w", StagingTable(table), err)
	}
	if _, err := tx.Exec(ctx, cloneStagingSQL(table)); err != nil {
		return fmt.Errorf("clone %s: %w", table, err)
	}
	return tx.Commit(ctx)
}
