package laborder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/pkg/pagination"
)

type memRepo struct {
	mu     sync.Mutex
	orders map[string]*Order
	// accession number -> order id
	accessions map[string]string
	now        func() time.Time
}

func NewMemoryRepo() Repository {
	return &memRepo{
		orders:     make(map[string]*Order),
		accessions: make(map[string]string),
		now:        time.Now,
	}
}

func (r *memRepo) Create(ctx context.Context, o *Order) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "create order")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return apperr.Conflict("order %s already exists", o.ID)
	}
	r.orders[o.ID] = o.clone()
	return nil
}

func (r *memRepo) Get(ctx context.Context, id string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "get order")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o.clone(), nil
}

func (r *memRepo) List(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "list orders")
	}
	r.mu.Lock()
	var out []*Order
	for _, o := range r.orders {
		if f.PatientID != nil && o.PatientID != *f.PatientID {
			continue
		}
		if f.PhysicianID != "" && o.PhysicianID != f.PhysicianID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return pagination.Slice(out, pagination.Params{Limit: limit, Offset: offset}), len(out), nil
}

func (r *memRepo) FindByAccession(ctx context.Context, accession string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "find sample")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.accessions[accession]
	if !ok {
		return nil, apperr.NotFound("no sample with accession number %s", accession)
	}
	return r.orders[id].clone(), nil
}

func (r *memRepo) UpdateSample(ctx context.Context, orderID string, s *Sample, expectedVersion int) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "update sample")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return apperr.NotFound("order %s not found", orderID)
	}
	idx := -1
	for i := range o.Samples {
		if o.Samples[i].SampleID == s.SampleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperr.NotFound("sample %s not found on order %s", s.SampleID, orderID)
	}
	stored := &o.Samples[idx]
	if stored.Version != expectedVersion {
		return apperr.Conflict("sample %s was modified concurrently", s.SampleID)
	}
	if !ValidMove(stored.Status, s.Status) {
		return apperr.Conflict("sample %s cannot move from %s to %s", s.SampleID, stored.Status, s.Status)
	}
	if s.AccessionNumber != "" && s.AccessionNumber != stored.AccessionNumber {
		if _, taken := r.accessions[s.AccessionNumber]; taken {
			return apperr.Conflict("accession number %s already assigned", s.AccessionNumber)
		}
		r.accessions[s.AccessionNumber] = orderID
	}

	s.Version = expectedVersion + 1
	*stored = s.clone()
	o.UpdatedAt = r.now().UTC()
	return nil
}

func (r *memRepo) RecomputeStatus(ctx context.Context, orderID string, derive DeriveFunc) (OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", apperr.Unavailable(err, "recompute order status")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return "", apperr.NotFound("order %s not found", orderID)
	}
	next := derive(o.Status, o.sampleStatuses())
	if next != o.Status {
		o.Status = next
		o.UpdatedAt = r.now().UTC()
	}
	return next, nil
}
