package audit

import "context"

// Repository is append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	// ListByTarget returns entries for one entity, newest first.
	ListByTarget(ctx context.Context, collection, id string) ([]*Entry, error)
	// Search returns a newest-first page and the total match count.
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
