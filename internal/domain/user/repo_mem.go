package user

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
	mu    sync.RWMutex
	users map[uuid.UUID]User
}

func NewMemoryRepo() Repository {
	return &memRepo{users: make(map[uuid.UUID]User)}
}

func (r *memRepo) Create(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "create user")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, u.Username) {
			return apperr.Conflict("username %q already exists", u.Username)
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "get user")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return &u, nil
}

func (r *memRepo) Update(ctx context.Context, u *User) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "update user")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return apperr.NotFound("user %s not found", u.ID)
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memRepo) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "list users")
	}
	r.mu.RLock()
	var out []*User
	for _, u := range r.users {
		if role != "" && u.Role != role {
			continue
		}
		cp := u
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return pagination.Slice(out, pagination.Params{Limit: limit, Offset: offset}), len(out), nil
}
