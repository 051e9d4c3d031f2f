package laborder

import "context"

// DeriveFunc computes an order's status from its current status and the
// statuses of its samples.
type DeriveFunc func(current OrderStatus, statuses []SampleStatus) OrderStatus

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error)
	// FindByAccession returns the order holding the sample with this
	// accession number.
	FindByAccession(ctx context.Context, accession string) (*Order, error)
	// UpdateSample replaces one sample of one order, provided the stored
	// sample is still at expectedVersion. On success s.Version is advanced.
	// A stale version or a reused accession number is a Conflict.
	UpdateSample(ctx context.Context, orderID string, s *Sample, expectedVersion int) error
	// RecomputeStatus re-reads the order's samples, applies derive and stores
	// the result, serialised against other recomputations of the same order.
	RecomputeStatus(ctx context.Context, orderID string, derive DeriveFunc) (OrderStatus, error)
}
