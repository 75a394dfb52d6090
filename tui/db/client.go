package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Client reads the crawler's run log from SQLite and, when a Postgres
// warehouse is configured, the table sizes from there.
type Client struct {
	pg     *pgxpool.Pool // nil when the warehouse is the SQLite file itself
	sqlite *sql.DB
	ctx    context.Context
}

type CrawlRun struct {
	ID          int64
	Women       bool
	FilterBy    string
	OnlyVintage bool
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string
	Catalogs    int
	Seen        int
	Normalized  int
	Uploaded    int
	Committed   int
}

// SuccessRate is normalized / seen, or 0 when nothing was seen.
func (r CrawlRun) SuccessRate() float64 {
	if r.Seen == 0 {
		return 0
	}
	return float64(r.Normalized) / float64(r.Seen)
}

func (r CrawlRun) Gender() string {
	if r.Women {
		return "women"
	}
	return "men"
}

type CrawlLog struct {
	ID        int64
	RunID     *int64
	Timestamp time.Time
	Level     string
	Message   string
	Source    string
}

// WarehouseCounts are the row counts of the warehouse tables.
type WarehouseCounts struct {
	Catalogs     int
	Items        int
	Images       int
	Likes        int
	StagedItems  int
	StagedImages int
}

func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	sqliteDB, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return nil, err
	}

	c := &Client{sqlite: sqliteDB, ctx: ctx}
	if postgresURL != "" {
		pgPool, err := pgxpool.New(ctx, postgresURL)
		if err != nil {
			sqliteDB.Close()
			return nil, err
		}
		c.pg = pgPool
	}
	return c, nil
}

func (c *Client) Close() error {
	if c.pg != nil {
		c.pg.Close()
	}
	return c.sqlite.Close()
}

// Warehouse reports where table counts come from.
func (c *Client) Warehouse() string {
	if c.pg != nil {
		return "postgres"
	}
	return "sqlite"
}

func (c *Client) GetWarehouseCounts() (WarehouseCounts, error) {
	var counts WarehouseCounts
	targets := []struct {
		table string
		dest  *int
	}{
		{"catalog", &counts.Catalogs},
		{"item", &counts.Items},
		{"image", &counts.Images},
		{"likes", &counts.Likes},
		{"item_staging", &counts.StagedItems},
		{"image_staging", &counts.StagedImages},
	}

	for _, t := range targets {
		query := "SELECT COUNT(*) FROM " + t.table
		var err error
		if c.pg != nil {
			err = c.pg.QueryRow(c.ctx, query).Scan(t.dest)
		} else {
			err = c.sqlite.QueryRowContext(c.ctx, query).Scan(t.dest)
		}
		if err != nil {
			return counts, fmt.Errorf("count %s: %w", t.table, err)
		}
	}
	return counts, nil
}

func (c *Client) GetRecentRuns(limit int) ([]CrawlRun, error) {
	rows, err := c.sqlite.QueryContext(c.ctx, `
		SELECT id, women, COALESCE(filter_by, ''), only_vintage, started_at, finished_at,
			status, COALESCE(catalogs, 0), COALESCE(seen, 0), COALESCE(normalized, 0),
			COALESCE(uploaded, 0), COALESCE(committed, 0)
		FROM crawl_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CrawlRun
	for rows.Next() {
		var r CrawlRun
		var started, finished any
		err := rows.Scan(&r.ID, &r.Women, &r.FilterBy, &r.OnlyVintage, &started, &finished,
			&r.Status, &r.Catalogs, &r.Seen, &r.Normalized, &r.Uploaded, &r.Committed)
		if err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		if t := parseTime(finished); !t.IsZero() {
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRecentLogs returns the newest run log lines, optionally for one level.
func (c *Client) GetRecentLogs(limit int, level *string) ([]CrawlLog, error) {
	var rows *sql.Rows
	var err error

	if level != nil && *level != "ALL" {
		rows, err = c.sqlite.QueryContext(c.ctx, `
			SELECT id, run_id, timestamp, level, message, COALESCE(source, '')
			FROM crawl_logs
			WHERE UPPER(level) = UPPER(?)
			ORDER BY id DESC
			LIMIT ?
		`, *level, limit)
	} else {
		rows, err = c.sqlite.QueryContext(c.ctx, `
			SELECT id, run_id, timestamp, level, message, COALESCE(source, '')
			FROM crawl_logs
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []CrawlLog
	for rows.Next() {
		var l CrawlLog
		var ts any
		err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message, &l.Source)
		if err != nil {
			return nil, err
		}
		l.Timestamp = parseTime(ts)
		l.Level = strings.ToUpper(l.Level)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseTime accepts the shapes a SQLite timestamp column comes back in.
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	case []byte:
		return parseTime(string(t))
	}
	return time.Time{}
}
