package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
)

// DefaultMaxBrandLength is the rune count at which a brand title is treated
// as garbage.
const DefaultMaxBrandLength = 35

// Rejection reasons. Parse returns exactly one of these for a dropped listing.
var (
	ErrMalformed        = errors.New("malformed listing")
	ErrMissingReference = errors.New("missing reference id")
	ErrMissingImage     = errors.New("missing image url")
	ErrMissingURL       = errors.New("missing item url")
	ErrBrandTooLong     = errors.New("brand title too long")
	ErrDuplicate        = errors.New("duplicate reference id")
)

// RejectReason is a short label for a rejection error, for counters.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingReference):
		return "missing_reference"
	case errors.Is(err, ErrMissingImage):
		return "missing_image"
	case errors.Is(err, ErrMissingURL):
		return "missing_url"
	case errors.Is(err, ErrBrandTooLong):
		return "brand_too_long"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "malformed"
	}
}

// FlexString decodes a JSON string, number or null into its text. Any other
// JSON value decodes to the empty string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = ""
			return nil
		}
		*f = FlexString(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		*f = FlexString(data)
	default:
		*f = ""
	}
	return nil
}

// RawListing is the subset of a search result entry the normalizer reads.
type RawListing struct {
	ID             FlexString      `json:"id"`
	Title          FlexString      `json:"title"`
	URL            FlexString      `json:"url"`
	Photo          json.RawMessage `json:"photo"`
	Price          json.RawMessage `json:"price"`
	BrandTitle     FlexString      `json:"brand_title"`
	SizeTitle      FlexString      `json:"size_title"`
	Status         FlexString      `json:"status"`
	FavouriteCount FlexString      `json:"favourite_count"`
}

type rawPhoto struct {
	URL FlexString `json:"url"`
}

type rawPrice struct {
	Amount       FlexString `json:"amount"`
	CurrencyCode FlexString `json:"currency_code"`
}

// Normalizer validates raw listings and converts them into records.
type Normalizer struct {
	MaxBrandLength int
	now            func() time.Time
	newID          func() string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		MaxBrandLength: DefaultMaxBrandLength,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// Parse normalizes one listing. Checks run in a fixed order and the first
// failure is returned; visited is only updated on success.
func (n *Normalizer) Parse(raw json.RawMessage, catalogID int64, visited *VisitedSet, attr models.FacetAttribution) (*models.ParsedListing, error) {
	var l RawListing
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, ErrMalformed
	}

	vintedID := strings.TrimSpace(string(l.ID))
	if vintedID == "" {
		return nil, ErrMissingReference
	}

	imageURL := photoURL(l.Photo)
	if imageURL == "" {
		return nil, ErrMissingImage
	}

	itemURL := string(l.URL)
	if itemURL == "" {
		return nil, ErrMissingURL
	}

	brand := string(l.BrandTitle)
	if utf8.RuneCountInString(brand) >= n.MaxBrandLength {
		return nil, ErrBrandTooLong
	}

	if !visited.Add(vintedID) {
		return nil, ErrDuplicate
	}

	now := n.now()
	itemID := n.newID()
	price, currency := parsePrice(l.Price)

	return &models.ParsedListing{
		Item: models.ItemRecord{
			ID:            itemID,
			VintedID:      vintedID,
			CatalogID:     catalogID,
			Title:         string(l.Title),
			URL:           itemURL,
			Price:         price,
			Currency:      currency,
			Brand:         brand,
			Size:          parseSize(string(l.SizeTitle)),
			Condition:     string(l.Status),
			IsAvailable:   true,
			CreatedAt:     now,
			UpdatedAt:     now,
			UnixCreatedAt: now.Unix(),
		},
		Image: models.ImageRecord{
			ID:        n.newID(),
			VintedID:  vintedID,
			URL:       imageURL,
			NoBG:      false,
			Size:      models.ImageSizeOriginal,
			CreatedAt: now,
		},
		Likes: models.LikesRecord{
			VintedID:  vintedID,
			Count:     parseLikes(string(l.FavouriteCount)),
			CreatedAt: now,
		},
		Details: models.ItemDetailsRecord{
			ItemID:     itemID,
			MaterialID: attr.MaterialID,
			PatternID:  attr.PatternID,
			ColorID:    attr.ColorID,
			CreatedAt:  now,
		},
	}, nil
}

func photoURL(raw json.RawMessage) string {
	var p rawPhoto
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return ""
	}
	return string(p.URL)
}

// parsePrice reads the amount as a float and passes the currency through.
// Either may be nil.
func parsePrice(raw json.RawMessage) (*float64, *string) {
	var p rawPrice
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil {
		return nil, nil
	}

	var currency *string
	if p.CurrencyCode != "" {
		c := string(p.CurrencyCode)
		currency = &c
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(string(p.Amount)), 64)
	if err != nil {
		return nil, currency
	}
	return &amount, currency
}

// parseSize keeps the first "/" segment with a decimal point, so "42,5 / M"
// becomes "42.5".
func parseSize(title string) *string {
	if title == "" {
		return nil
	}
	size := strings.TrimSpace(strings.SplitN(title, "/", 2)[0])
	size = strings.ReplaceAll(size, ",", ".")
	if size == "" {
		return nil
	}
	return &size
}

func parseLikes(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// ParseFilters reads the facets of a catalog-filters response. Unknown facet
// codes and facets without options are skipped.
func ParseFilters(resp *marketplace.Response) models.Facets {
	facets := models.Facets{}
	if !resp.OK() {
		return facets
	}

	var payload struct {
		Filters []struct {
			Code    string               `json:"code"`
			Options []models.FacetOption `json:"options"`
		} `json:"filters"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return facets
	}

	for _, f := range payload.Filters {
		key := models.FacetKey(f.Code)
		if !key.Valid() || len(f.Options) == 0 {
			continue
		}
		// a repeated code replaces the earlier entry
		facets[key] = f.Options
	}
	return facets
}

// SearchItems returns the raw listings of a search response, or nil when the
// response has no usable body.
func SearchItems(resp *marketplace.Response) []json.RawMessage {
	if !resp.OK() {
		return nil
	}
	var payload struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil
	}
	return payload.Items
}
