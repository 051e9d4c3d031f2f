package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Item is one stocked consumable (tubes, reagents, swabs).
type Item struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	SKU            string    `json:"sku"`
	Unit           string    `json:"unit"`
	QuantityOnHand int       `json:"quantity_on_hand"`
	MinStockLevel  int       `json:"min_stock_level"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Low reports whether the item is at or below its minimum.
func (i *Item) Low() bool {
	return i.QuantityOnHand <= i.MinStockLevel
}

type CreateRequest struct {
	Name           string `json:"name"`
	SKU            string `json:"sku"`
	Unit           string `json:"unit"`
	QuantityOnHand int    `json:"quantity_on_hand"`
	MinStockLevel  int    `json:"min_stock_level"`
}

type AdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}
