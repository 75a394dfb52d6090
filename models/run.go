package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// CrawlRun is the operational record of one crawl pass.
type CrawlRun struct {
	ID          int64           `json:"id" db:"id"`
	Women       bool            `json:"women" db:"women"`
	FilterBy    string          `json:"filter_by" db:"filter_by"`
	OnlyVintage bool            `json:"only_vintage" db:"only_vintage"`
	StartedAt   time.Time       `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at" db:"finished_at"`
	Status      RunStatus       `json:"status" db:"status"`
	Catalogs    int             `json:"catalogs" db:"catalogs"`
	Seen        int             `json:"seen" db:"seen"`
	Normalized  int             `json:"normalized" db:"normalized"`
	Uploaded    int             `json:"uploaded" db:"uploaded"`
	Committed   int             `json:"committed" db:"committed"`
	Metadata    json.RawMessage `json:"metadata" db:"metadata"`
}

// RunStats are the running counters of a crawl pass.
type RunStats struct {
	CatalogsDone int            `json:"catalogs_done"`
	Requests     int            `json:"requests"`
	Throttled    int            `json:"throttled"`
	Rotations    int            `json:"rotations"`
	FailedCalls  int            `json:"failed_calls"`
	Seen         int            `json:"seen"`
	Normalized   int            `json:"normalized"`
	Uploaded     int            `json:"uploaded"`
	Committed    int            `json:"committed"`
	Rejected     map[string]int `json:"rejected"`
}

func NewRunStats() *RunStats {
	return &RunStats{Rejected: make(map[string]int)}
}

// SuccessRate is normalized / seen, or 0 when nothing was seen.
func (s *RunStats) SuccessRate() float64 {
	if s == nil || s.Seen == 0 {
		return 0
	}
	return float64(s.Normalized) / float64(s.Seen)
}

func (s *RunStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
