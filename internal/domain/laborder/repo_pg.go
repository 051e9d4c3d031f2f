package laborder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/db"
)

// Samples live in their own table, one row per (order_id, sample_id), so a
// sample transition writes exactly one row.
type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const orderCols = `id, patient_id, physician_id, priority, status, COALESCE(notes, ''), created_by, created_at, updated_at`

const sampleCols = `order_id, sample_id, sample_type, status, COALESCE(accession_number, ''),
	collected_at, COALESCE(collected_by, ''), received_at, COALESCE(received_by, ''),
	rejection, tests, version, updated_at`

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var priority, status string
	if err := row.Scan(&o.ID, &o.PatientID, &o.PhysicianID, &priority, &status, &o.Notes,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Priority = Priority(priority)
	o.Status = OrderStatus(status)
	return &o, nil
}

func scanSample(row pgx.Row) (string, Sample, error) {
	var s Sample
	var orderID, status string
	var rejection, tests []byte
	if err := row.Scan(&orderID, &s.SampleID, &s.Type, &status, &s.AccessionNumber,
		&s.CollectedAt, &s.CollectedBy, &s.ReceivedAt, &s.ReceivedBy,
		&rejection, &tests, &s.Version, &s.UpdatedAt); err != nil {
		return "", s, err
	}
	s.Status = SampleStatus(status)
	if len(rejection) > 0 && string(rejection) != "null" {
		s.Rejection = &Rejection{}
		if err := json.Unmarshal(rejection, s.Rejection); err != nil {
			return "", s, fmt.Errorf("decode rejection: %w", err)
		}
	}
	if err := json.Unmarshal(tests, &s.Tests); err != nil {
		return "", s, fmt.Errorf("decode tests: %w", err)
	}
	return orderID, s, nil
}

func encodeSample(s *Sample) (rejection, tests []byte, err error) {
	if s.Rejection != nil {
		if rejection, err = json.Marshal(s.Rejection); err != nil {
			return nil, nil, fmt.Errorf("encode rejection: %w", err)
		}
	}
	if s.Tests == nil {
		s.Tests = []Test{}
	}
	if tests, err = json.Marshal(s.Tests); err != nil {
		return nil, nil, fmt.Errorf("encode tests: %w", err)
	}
	return rejection, tests, nil
}

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		_, err := conn.Exec(ctx, `
			INSERT INTO lab_orders (id, patient_id, physician_id, priority, status, notes, created_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, o.PatientID, o.PhysicianID, string(o.Priority), string(o.Status), nullable(o.Notes),
			o.CreatedBy, o.CreatedAt, o.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return apperr.Conflict("order %s already exists", o.ID)
		}
		if err != nil {
			return apperr.Unavailable(err, "create order")
		}
		for i := range o.Samples {
			s := &o.Samples[i]
			rejection, tests, err := encodeSample(s)
			if err != nil {
				return err
			}
			_, err = conn.Exec(ctx, `
				INSERT INTO order_samples (order_id, sample_id, position, sample_type, status,
					accession_number, rejection, tests, version, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				o.ID, s.SampleID, i, s.Type, string(s.Status), nullable(s.AccessionNumber),
				rejection, tests, s.Version, s.UpdatedAt)
			if err != nil {
				return apperr.Unavailable(err, "create sample %s", s.SampleID)
			}
		}
		return nil
	})
}

func (r *repoPG) loadSamples(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Samples = []Sample{}
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+sampleCols+` FROM order_samples
		WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return apperr.Unavailable(err, "load samples")
	}
	defer rows.Close()
	for rows.Next() {
		orderID, s, err := scanSample(rows)
		if err != nil {
			return apperr.Unavailable(err, "scan sample")
		}
		if o := byID[orderID]; o != nil {
			o.Samples = append(o.Samples, s)
		}
	}
	if err := rows.Err(); err != nil {
		return apperr.Unavailable(err, "load samples")
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+orderCols+` FROM lab_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "get order")
	}
	if err := r.loadSamples(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Order, int, error) {
	const where = `($1::uuid IS NULL OR patient_id = $1) AND ($2 = '' OR physician_id = $2) AND ($3 = '' OR status = $3)`
	conn := db.Conn(ctx, r.pool)
	args := []interface{}{f.PatientID, f.PhysicianID, string(f.Status)}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM lab_orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Unavailable(err, "count orders")
	}
	rows, err := conn.Query(ctx, `SELECT `+orderCols+` FROM lab_orders WHERE `+where+`
		ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Unavailable(err, "list orders")
	}
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, apperr.Unavailable(err, "scan order")
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Unavailable(err, "list orders")
	}
	if err := r.loadSamples(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *repoPG) FindByAccession(ctx context.Context, accession string) (*Order, error) {
	var orderID string
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT order_id FROM order_samples WHERE accession_number = $1`, accession).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no sample with accession number %s", accession)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "find sample")
	}
	return r.Get(ctx, orderID)
}

// UpdateSample writes one sample row conditional on its version. Only the
// addressed row changes, so siblings updated concurrently are never clobbered.
func (r *repoPG) UpdateSample(ctx context.Context, orderID string, s *Sample, expectedVersion int) error {
	rejection, tests, err := encodeSample(s)
	if err != nil {
		return err
	}
	conn := db.Conn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE order_samples SET status = $4, accession_number = $5, collected_at = $6, collected_by = $7,
			received_at = $8, received_by = $9, rejection = $10, tests = $11,
			version = version + 1, updated_at = $12
		WHERE order_id = $1 AND sample_id = $2 AND version = $3`,
		orderID, s.SampleID, expectedVersion, string(s.Status), nullable(s.AccessionNumber),
		s.CollectedAt, nullable(s.CollectedBy), s.ReceivedAt, nullable(s.ReceivedBy),
		rejection, tests, s.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("accession number %s already assigned", s.AccessionNumber)
	}
	if err != nil {
		return apperr.Unavailable(err, "update sample %s", s.SampleID)
	}
	if tag.RowsAffected() == 1 {
		s.Version = expectedVersion + 1
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_samples WHERE order_id = $1 AND sample_id = $2)`,
		orderID, s.SampleID).Scan(&exists); err != nil {
		return apperr.Unavailable(err, "update sample %s", s.SampleID)
	}
	if !exists {
		return apperr.NotFound("sample %s not found on order %s", s.SampleID, orderID)
	}
	return apperr.Conflict("sample %s was modified concurrently", s.SampleID)
}

// RecomputeStatus locks the order row so concurrent recomputations of one
// order apply in sequence, each over the sample rows as committed.
func (r *repoPG) RecomputeStatus(ctx context.Context, orderID string, derive DeriveFunc) (OrderStatus, error) {
	var next OrderStatus
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		var current string
		err := conn.QueryRow(ctx, `SELECT status FROM lab_orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("order %s not found", orderID)
		}
		if err != nil {
			return apperr.Unavailable(err, "lock order %s", orderID)
		}

		rows, err := conn.Query(ctx, `SELECT status FROM order_samples WHERE order_id = $1 ORDER BY position`, orderID)
		if err != nil {
			return apperr.Unavailable(err, "read sample statuses")
		}
		var statuses []SampleStatus
		for rows.Next() {
			var st string
			if err := rows.Scan(&st); err != nil {
				rows.Close()
				return apperr.Unavailable(err, "scan sample status")
			}
			statuses = append(statuses, SampleStatus(st))
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return apperr.Unavailable(err, "read sample statuses")
		}

		next = derive(OrderStatus(current), statuses)
		if next == OrderStatus(current) {
			return nil
		}
		if _, err := conn.Exec(ctx, `UPDATE lab_orders SET status = $2, updated_at = $3 WHERE id = $1`,
			orderID, string(next), time.Now().UTC()); err != nil {
			return apperr.Unavailable(err, "update order status")
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Unavailable(err, "recompute order status")
		}
		return "", err
	}
	return next, nil
}
