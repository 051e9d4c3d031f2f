package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/pkg/pagination"
)

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]Item
}

func NewMemoryRepo() Repository {
	return &memRepo{items: make(map[uuid.UUID]Item)}
}

func (r *memRepo) Create(ctx context.Context, it *Item) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "create item")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if strings.EqualFold(existing.SKU, it.SKU) {
			return apperr.Conflict("sku %s already exists", it.SKU)
		}
	}
	r.items[it.ID] = *it
	return nil
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "get item")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("inventory item %s not found", id)
	}
	return &it, nil
}

func (r *memRepo) sorted(keep func(*Item) bool) []*Item {
	var out []*Item
	for _, it := range r.items {
		cp := it
		if keep == nil || keep(&cp) {
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].SKU < out[j].SKU
	})
	return out
}

func (r *memRepo) List(ctx context.Context, limit, offset int) ([]*Item, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "list items")
	}
	r.mu.Lock()
	out := r.sorted(nil)
	r.mu.Unlock()
	return pagination.Slice(out, pagination.Params{Limit: limit, Offset: offset}), len(out), nil
}

func (r *memRepo) Adjust(ctx context.Context, id uuid.UUID, delta int, at time.Time) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "adjust item")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("inventory item %s not found", id)
	}
	if it.QuantityOnHand+delta < 0 {
		return nil, apperr.Conflict("adjustment of %d would take %s below zero (on hand %d)", delta, it.SKU, it.QuantityOnHand)
	}
	it.QuantityOnHand += delta
	it.UpdatedAt = at
	r.items[id] = it
	return &it, nil
}

func (r *memRepo) LowStock(ctx context.Context) ([]*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "check stock")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted((*Item).Low), nil
}
