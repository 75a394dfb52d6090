package models

import "time"

// ItemRecord is the canonical normalized item row.
type ItemRecord struct {
	ID            string    `json:"id" db:"id"`
	VintedID      string    `json:"vinted_id" db:"vinted_id"`
	CatalogID     int64     `json:"catalog_id" db:"catalog_id"`
	Title         string    `json:"title" db:"title"`
	URL           string    `json:"url" db:"url"`
	Price         *float64  `json:"price" db:"price"`
	Currency      *string   `json:"currency" db:"currency"`
	Brand         string    `json:"brand" db:"brand"`
	Size          *string   `json:"size" db:"size"`
	Condition     string    `json:"condition" db:"condition"`
	IsAvailable   bool      `json:"is_available" db:"is_available"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	UnixCreatedAt int64     `json:"unix_created_at" db:"unix_created_at"`
}

// ImageRecord is the primary photo of an item.
type ImageRecord struct {
	ID        string    `json:"id" db:"id"`
	VintedID  string    `json:"vinted_id" db:"vinted_id"`
	URL       string    `json:"url" db:"url"`
	NoBG      bool      `json:"nobg" db:"nobg"`
	Size      string    `json:"size" db:"size"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LikesRecord is a popularity snapshot. It is a time series and is never
// deduplicated by reference id.
type LikesRecord struct {
	VintedID  string    `json:"vinted_id" db:"vinted_id"`
	Count     int       `json:"count" db:"count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ItemDetailsRecord attributes an item to the facet options it was found under.
type ItemDetailsRecord struct {
	ItemID     string    `json:"item_id" db:"item_id"`
	MaterialID *int64    `json:"material_id" db:"material_id"`
	PatternID  *int64    `json:"pattern_id" db:"pattern_id"`
	ColorID    *int64    `json:"color_id" db:"color_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ParsedListing is the four records produced from one raw listing. They share
// the surrogate item id and creation timestamp.
type ParsedListing struct {
	Item    ItemRecord
	Image   ImageRecord
	Likes   LikesRecord
	Details ItemDetailsRecord
}

// ImageSizeOriginal tags an image row pointing at the full-size photo.
const ImageSizeOriginal = "original"

// Batch buffers records awaiting upload, one slice per table.
type Batch struct {
	Items   []ItemRecord
	Images  []ImageRecord
	Likes   []LikesRecord
	Details []ItemDetailsRecord
}

func (b *Batch) Add(p *ParsedListing) {
	b.Items = append(b.Items, p.Item)
	b.Images = append(b.Images, p.Image)
	b.Likes = append(b.Likes, p.Likes)
	b.Details = append(b.Details, p.Details)
}

// Uploadable reports whether the batch has both item and image rows.
func (b *Batch) Uploadable() bool {
	return len(b.Items) > 0 && len(b.Images) > 0
}

func (b *Batch) Len() int {
	return len(b.Items)
}
