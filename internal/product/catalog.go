// Package product holds the server-side product cost table. Costs are
// resolved here and never trusted from the caller.
package product

import (
	"errors"
	"strings"

	"go.uber.org/fx"
)

var ErrUnknownProduct = errors.New("invalid_product")

// Catalog maps product identifiers to their credit cost.
type Catalog struct {
	costs map[string]int64
}

// defaultCosts is the authoritative product → cost table. A caller-supplied
// cost is accepted only when it matches the entry here exactly.
var defaultCosts = map[string]int64{
	"image.generate":   1,
	"image.upscale":    2,
	"video.generate":   10,
	"audio.transcribe": 1,
	"document.analyze": 3,
	"model.train":      25,
}

func NewCatalog() *Catalog {
	return &Catalog{costs: defaultCosts}
}

// NewCatalogWithCosts is used by tests and embedders that bring their own
// table.
func NewCatalogWithCosts(costs map[string]int64) *Catalog {
	copied := make(map[string]int64, len(costs))
	for id, cost := range costs {
		copied[id] = cost
	}
	return &Catalog{costs: copied}
}

// Cost resolves the credit cost of a product.
func (c *Catalog) Cost(productID string) (int64, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, ErrUnknownProduct
	}
	cost, ok := c.costs[productID]
	if !ok {
		return 0, ErrUnknownProduct
	}
	return cost, nil
}

var Module = fx.Module("product.catalog",
	fx.Provide(NewCatalog),
)
