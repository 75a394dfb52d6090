package scraper

import (
	"encoding/json"
	"fmt"
	"strings"

	"vinted_scrooper/models"
)

const (
	designerRootCode = "DESIGNER_ROOT"
	womenMarker      = "WOMEN"
)

// DefaultCatalogCodes are the top-level tree nodes worth crawling.
var DefaultCatalogCodes = []string{"WOMEN_ROOT", "MENS", designerRootCode}

type catalogNode struct {
	ID       int64         `json:"id"`
	Title    string        `json:"title"`
	Code     string        `json:"code"`
	URL      string        `json:"url"`
	Catalogs []catalogNode `json:"catalogs"`
}

// ParseCatalogTree flattens the catalog initializer payload into its leaf
// catalogs. Only top-level nodes whose code is in validCodes are read. The
// designer root is a container: each of its children is handled as a
// top-level node. A leaf's gender comes from the code of the node it was
// reached from.
func ParseCatalogTree(body json.RawMessage, validCodes []string) ([]models.Catalog, error) {
	var payload struct {
		Dtos struct {
			Catalogs []catalogNode `json:"catalogs"`
		} `json:"dtos"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode catalog tree: %w", err)
	}

	allowed := make(map[string]bool, len(validCodes))
	for _, c := range validCodes {
		allowed[c] = true
	}

	var catalogs []models.Catalog
	for _, entry := range payload.Dtos.Catalogs {
		if !allowed[entry.Code] {
			continue
		}

		inputs := []catalogNode{entry}
		if entry.Code == designerRootCode {
			inputs = entry.Catalogs
		}

		for _, input := range inputs {
			women := strings.Contains(input.Code, womenMarker)
			for _, leaf := range leaves(input) {
				catalogs = append(catalogs, models.Catalog{
					ID:       leaf.ID,
					Title:    leaf.Title,
					Code:     leaf.Code,
					URL:      leaf.URL,
					Women:    women,
					IsValid:  true,
					IsActive: true,
				})
			}
		}
	}
	return catalogs, nil
}

func leaves(node catalogNode) []catalogNode {
	if len(node.Catalogs) == 0 {
		return []catalogNode{node}
	}
	var out []catalogNode
	for _, child := range node.Catalogs {
		out = append(out, leaves(child)...)
	}
	return out
}
