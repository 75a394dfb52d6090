package scraper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vinted_scrooper/marketplace"
	"vinted_scrooper/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

func newTestNormalizer() *Normalizer {
	n := NewNormalizer()
	n.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	n.newID = func() string {
		seq++
		return fmt.Sprintf("uuid-%d", seq)
	}
	return n
}

const scenarioA = `{"id": "123", "photo": {"url": "x"}, "url": "y",
	"price": {"amount": "19.99", "currency_code": "EUR"}, "brand_title": "Acme",
	"size_title": "42,5 / M", "status": "good", "favourite_count": "3"}`

func TestParseScenarioA(t *testing.T) {
	n := newTestNormalizer()
	visited := NewVisitedSet()

	p, err := n.Parse(json.RawMessage(scenarioA), 77, visited, models.FacetAttribution{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if p.Item.VintedID != "123" {
		t.Fatalf("expected vinted id 123, got %s", p.Item.VintedID)
	}
	if p.Item.Price == nil || *p.Item.Price != 19.99 {
		t.Fatalf("expected price 19.99, got %v", p.Item.Price)
	}
	if p.Item.Currency == nil || *p.Item.Currency != "EUR" {
		t.Fatalf("expected currency EUR, got %v", p.Item.Currency)
	}
	if p.Item.Size == nil || *p.Item.Size != "42.5" {
		t.Fatalf("expected size 42.5, got %v", p.Item.Size)
	}
	if p.Likes.Count != 3 {
		t.Fatalf("expected 3 likes, got %d", p.Likes.Count)
	}
	if p.Item.CatalogID != 77 || p.Item.Brand != "Acme" || p.Item.Condition != "good" {
		t.Fatalf("unexpected item %+v", p.Item)
	}
	if !p.Item.IsAvailable {
		t.Fatal("expected item to be available")
	}
	if !visited.Contains("123") {
		t.Fatal("expected reference id to be marked visited")
	}
}

func TestParseSharesIDAndTimestamp(t *testing.T) {
	n := newTestNormalizer()
	mat := int64(44)

	p, err := n.Parse(json.RawMessage(scenarioA), 1, NewVisitedSet(), models.FacetAttribution{MaterialID: &mat})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if p.Details.ItemID != p.Item.ID {
		t.Fatalf("details item id %s != item id %s", p.Details.ItemID, p.Item.ID)
	}
	if p.Image.ID == p.Item.ID {
		t.Fatal("image should get its own surrogate id")
	}
	ts := p.Item.CreatedAt
	if !p.Item.UpdatedAt.Equal(ts) || !p.Image.CreatedAt.Equal(ts) || !p.Likes.CreatedAt.Equal(ts) || !p.Details.CreatedAt.Equal(ts) {
		t.Fatal("expected one creation timestamp across all records")
	}
	if p.Item.UnixCreatedAt != ts.Unix() {
		t.Fatalf("unix created at %d != %d", p.Item.UnixCreatedAt, ts.Unix())
	}
	if p.Image.Size != models.ImageSizeOriginal || p.Image.NoBG {
		t.Fatalf("unexpected image %+v", p.Image)
	}
	if p.Details.MaterialID == nil || *p.Details.MaterialID != 44 || p.Details.ColorID != nil {
		t.Fatalf("unexpected attribution %+v", p.Details)
	}
}

func TestParseScenarioBDuplicate(t *testing.T) {
	n := newTestNormalizer()
	visited := NewVisitedSet()

	if _, err := n.Parse(json.RawMessage(scenarioA), 1, visited, models.FacetAttribution{}); err != nil {
		t.Fatalf("first parse failed: %v", err)
	}
	p, err := n.Parse(json.RawMessage(scenarioA), 1, visited, models.FacetAttribution{})
	if p != nil {
		t.Fatal("expected no records for a duplicate")
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestParseValidationOrder(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"missing id", `{"photo":{"url":"x"},"url":"y"}`, ErrMissingReference},
		{"empty id", `{"id":"","photo":{"url":"x"},"url":"y"}`, ErrMissingReference},
		{"null id", `{"id":null,"photo":{"url":"x"},"url":"y"}`, ErrMissingReference},
		{"missing id wins over missing photo", `{"url":"y"}`, ErrMissingReference},
		{"missing photo", `{"id":1,"url":"y"}`, ErrMissingImage},
		{"photo without url", `{"id":1,"photo":{},"url":"y"}`, ErrMissingImage},
		{"photo not an object", `{"id":1,"photo":"x","url":"y"}`, ErrMissingImage},
		{"missing url", `{"id":1,"photo":{"url":"x"}}`, ErrMissingURL},
		{"long brand", `{"id":1,"photo":{"url":"x"},"url":"y","brand_title":"` + strings.Repeat("b", 40) + `"}`, ErrBrandTooLong},
		{"not json", `{"id":`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer()
			visited := NewVisitedSet()

			p, err := n.Parse(json.RawMessage(tt.raw), 1, visited, models.FacetAttribution{})
			if p != nil {
				t.Fatalf("expected rejection, got %+v", p)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if visited.Len() != 0 {
				t.Fatal("rejected listing must not be marked visited")
			}
		})
	}
}

func TestParseBrandLengthBoundary(t *testing.T) {
	build := func(id int, brand string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{"id":%d,"photo":{"url":"x"},"url":"y","brand_title":%q}`, id, brand))
	}
	n := newTestNormalizer()
	visited := NewVisitedSet()

	if _, err := n.Parse(build(1, strings.Repeat("a", 34)), 1, visited, models.FacetAttribution{}); err != nil {
		t.Fatalf("34 characters should be kept, got %v", err)
	}
	if _, err := n.Parse(build(2, strings.Repeat("a", 35)), 1, visited, models.FacetAttribution{}); !errors.Is(err, ErrBrandTooLong) {
		t.Fatalf("35 characters should be dropped, got %v", err)
	}
	// characters, not bytes
	if _, err := n.Parse(build(3, strings.Repeat("é", 34)), 1, visited, models.FacetAttribution{}); err != nil {
		t.Fatalf("34 multibyte characters should be kept, got %v", err)
	}
}

func TestParseLenientFields(t *testing.T) {
	n := newTestNormalizer()
	raw := `{"id":9,"photo":{"url":"x"},"url":"y","price":"12","size_title":" / ","favourite_count":"lots"}`

	p, err := n.Parse(json.RawMessage(raw), 1, NewVisitedSet(), models.FacetAttribution{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if p.Item.VintedID != "9" {
		t.Fatalf("expected numeric id as text, got %s", p.Item.VintedID)
	}
	if p.Item.Price != nil || p.Item.Currency != nil {
		t.Fatalf("expected no price, got %v %v", p.Item.Price, p.Item.Currency)
	}
	if p.Item.Size != nil {
		t.Fatalf("expected no size, got %q", *p.Item.Size)
	}
	if p.Likes.Count != 0 {
		t.Fatalf("expected likes to default to 0, got %d", p.Likes.Count)
	}
}

func TestParseSize(t *testing.T) {
	tests := map[string]string{
		"42,5 / M": "42.5",
		"M":        "M",
		"XL / 44":  "XL",
		"36,5":     "36.5",
	}
	for in, want := range tests {
		got := parseSize(in)
		if got == nil || *got != want {
			t.Fatalf("parseSize(%q) = %v, want %q", in, got, want)
		}
	}
	if parseSize("") != nil {
		t.Fatal("expected nil size for empty title")
	}
}

func TestParseSearchFixture(t *testing.T) {
	resp := &marketplace.Response{StatusCode: 200, Body: loadFixture(t, "search_items.json")}
	items := SearchItems(resp)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	n := newTestNormalizer()
	visited := NewVisitedSet()
	var ok []*models.ParsedListing
	rejected := map[string]int{}
	for _, raw := range items {
		p, err := n.Parse(raw, 5, visited, models.FacetAttribution{})
		if err != nil {
			rejected[RejectReason(err)]++
			continue
		}
		ok = append(ok, p)
	}

	if len(ok) != 2 {
		t.Fatalf("expected 2 parsed listings, got %d", len(ok))
	}
	if rejected["missing_image"] != 1 {
		t.Fatalf("expected one missing image rejection, got %v", rejected)
	}
	if ok[0].Likes.Count != 12 || ok[0].Item.Price == nil || *ok[0].Item.Price != 45 {
		t.Fatalf("unexpected first listing %+v", ok[0].Item)
	}
	if ok[1].Item.Brand != "" || ok[1].Item.Price != nil || ok[1].Likes.Count != 0 {
		t.Fatalf("unexpected second listing %+v", ok[1].Item)
	}
}

func TestSearchItemsUnusableResponse(t *testing.T) {
	for _, resp := range []*marketplace.Response{
		nil,
		{StatusCode: 200},
		{StatusCode: 429},
		{StatusCode: 200, Body: json.RawMessage(`{"items":"nope"}`)},
	} {
		if items := SearchItems(resp); items != nil {
			t.Fatalf("expected no items for %+v, got %d", resp, len(items))
		}
	}
}

func TestParseFilters(t *testing.T) {
	resp := &marketplace.Response{StatusCode: 200, Body: loadFixture(t, "filters.json")}
	facets := ParseFilters(resp)

	if len(facets) != 3 {
		t.Fatalf("expected brand, material and patterns, got %v", facets)
	}
	if _, ok := facets["size"]; ok {
		t.Fatal("size is not a valid facet key")
	}
	if _, ok := facets[models.FacetColor]; ok {
		t.Fatal("facet without options should be skipped")
	}
	ids := facets.OptionIDs(models.FacetMaterial)
	if len(ids) != 3 || ids[0] != 44 || ids[2] != 120 {
		t.Fatalf("unexpected material ids %v", ids)
	}
}

func TestParseFiltersRepeatedCodeLastWins(t *testing.T) {
	resp := &marketplace.Response{StatusCode: 200, Body: json.RawMessage(`{"filters":[
		{"code":"color","options":[{"id":1},{"id":2}]},
		{"code":"color","options":[{"id":2},{"id":3}]}
	]}`)}

	ids := ParseFilters(resp).OptionIDs(models.FacetColor)
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("expected the last color entry [2 3], got %v", ids)
	}
}

func TestParseFiltersNonOK(t *testing.T) {
	if got := ParseFilters(&marketplace.Response{StatusCode: 403}); len(got) != 0 {
		t.Fatalf("expected no facets, got %v", got)
	}
}

func TestVisitedSetAdd(t *testing.T) {
	v := NewVisitedSet()
	if !v.Add("a") {
		t.Fatal("first add should report new")
	}
	if v.Add("a") {
		t.Fatal("second add should report seen")
	}
	v.Reset()
	if v.Len() != 0 || v.Contains("a") {
		t.Fatal("reset should empty the set")
	}
}
