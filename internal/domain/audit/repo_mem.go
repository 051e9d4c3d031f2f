package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/pkg/pagination"
)

type memEntry struct {
	seq   int64
	entry Entry
}

type memRepo struct {
	mu      sync.RWMutex
	seq     int64
	entries []memEntry
}

func NewMemoryRepo() Repository {
	return &memRepo{}
}

func (r *memRepo) Append(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return apperr.Unavailable(err, "append audit entry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	cp := *e
	cp.Details = copyDetails(e.Details)
	r.entries = append(r.entries, memEntry{seq: r.seq, entry: cp})
	return nil
}

func (r *memRepo) collect(f Filter) []*Entry {
	r.mu.RLock()
	matched := make([]memEntry, 0)
	for _, me := range r.entries {
		if f.matches(&me.entry) {
			matched = append(matched, me)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.entry.OccurredAt.Equal(b.entry.OccurredAt) {
			return a.entry.OccurredAt.After(b.entry.OccurredAt)
		}
		return a.seq > b.seq
	})
	out := make([]*Entry, len(matched))
	for i := range matched {
		e := matched[i].entry
		e.Details = copyDetails(e.Details)
		out[i] = &e
	}
	return out
}

func (r *memRepo) ListByTarget(ctx context.Context, collection, id string) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable(err, "list audit entries")
	}
	return r.collect(Filter{Collection: collection, TargetID: id}), nil
}

func (r *memRepo) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "search audit entries")
	}
	all := r.collect(f)
	return pagination.Slice(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}

func copyDetails(d Details) Details {
	if d == nil {
		return nil
	}
	out := make(Details, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
