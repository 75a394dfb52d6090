package models

import "time"

// Catalog is a crawlable category node of the marketplace tree.
type Catalog struct {
	ID        int64     `json:"id" db:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Title     string    `json:"title" db:"title" gorm:"column:title"`
	Code      string    `json:"code" db:"code" gorm:"column:code"`
	URL       string    `json:"url" db:"url" gorm:"column:url"`
	Women     bool      `json:"women" db:"women" gorm:"column:women"`
	IsValid   bool      `json:"is_valid" db:"is_valid" gorm:"column:is_valid"`
	IsActive  bool      `json:"is_active" db:"is_active" gorm:"column:is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
}

func (Catalog) TableName() string { return "catalog" }

// CatalogImportance buckets catalogs by a precomputed score (1-3).
type CatalogImportance struct {
	CatalogID int64 `json:"catalog_id" db:"catalog_id" gorm:"column:catalog_id;primaryKey;autoIncrement:false"`
	Score     int   `json:"score" db:"score" gorm:"column:score"`
}

func (CatalogImportance) TableName() string { return "catalog_importance" }

// Importance tiers, highest first.
var ImportanceTiers = []int{3, 2, 1}
