package patient

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/pkg/pagination"
)

type memRepo struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]Patient
}

func NewMemoryRepo() Repository {
	return &memRepo{patients: make(map[uuid.UUID]Patient)}
}

func (r *memRepo) Create(ctx context.Context, p *Patient) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "create patient")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.patients {
		if existing.MRN == p.MRN {
			return apperr.Conflict("mrn %s already assigned", p.MRN)
		}
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *memRepo) find(ctx context.Context, match func(*Patient) bool, what string) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "get patient")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patients {
		if match(&p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("patient %s not found", what)
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.find(ctx, func(p *Patient) bool { return p.ID == id }, id.String())
}

func (r *memRepo) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return r.find(ctx, func(p *Patient) bool { return p.MRN == mrn }, mrn)
}

func (r *memRepo) GetByPortalAccount(ctx context.Context, accountID string) (*Patient, error) {
	return r.find(ctx, func(p *Patient) bool {
		return accountID != "" && p.PortalAccountID == accountID
	}, "for portal account "+accountID)
}

func (r *memRepo) Update(ctx context.Context, p *Patient) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "update patient")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return apperr.NotFound("patient %s not found", p.ID)
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *memRepo) List(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "list patients")
	}
	name := strings.ToLower(f.Name)
	r.mu.RLock()
	var out []*Patient
	for _, p := range r.patients {
		if f.MRN != "" && p.MRN != f.MRN {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(p.FirstName), name) &&
			!strings.Contains(strings.ToLower(p.LastName), name) {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MRN < out[j].MRN })
	return pagination.Slice(out, pagination.Params{Limit: limit, Offset: offset}), len(out), nil
}
