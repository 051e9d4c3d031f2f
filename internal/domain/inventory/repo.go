package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, it *Item) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	List(ctx context.Context, limit, offset int) ([]*Item, int, error)
	// Adjust adds delta to the quantity on hand in one atomic step. A result
	// below zero is a Conflict and leaves the item unchanged.
	Adjust(ctx context.Context, id uuid.UUID, delta int, at time.Time) (*Item, error)
	// LowStock returns items whose quantity on hand is at or below their
	// minimum, ordered by name.
	LowStock(ctx context.Context) ([]*Item, error)
}
