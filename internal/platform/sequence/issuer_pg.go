package sequence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/lims/internal/platform/apperr"
)

// PGIssuer keeps one row per counter in the counters table. The upsert below
// increments and returns the new value in a single statement, so concurrent
// callers in any number of processes never observe the same value.
type PGIssuer struct {
	pool *pgxpool.Pool
}

func NewPGIssuer(pool *pgxpool.Pool) *PGIssuer {
	return &PGIssuer{pool: pool}
}

const nextValueSQL = `
	INSERT INTO counters (name, value) VALUES ($1, 1)
	ON CONFLICT (name) DO UPDATE SET value = counters.value + 1, updated_at = NOW()
	RETURNING value`

func (p *PGIssuer) Next(ctx context.Context, name string) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	var v int64
	if err := p.pool.QueryRow(ctx, nextValueSQL, name).Scan(&v); err != nil {
		return 0, apperr.Unavailable(err, "sequence %q", name)
	}
	return v, nil
}
