package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, mrn, first_name, last_name, birth_date, COALESCE(sex, ''), COALESCE(phone, ''),
	COALESCE(portal_account_id, ''), created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Sex, &p.Phone,
		&p.PortalAccountID, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO patients (id, mrn, first_name, last_name, birth_date, sex, phone, portal_account_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, nullable(p.Sex), nullable(p.Phone),
		nullable(p.PortalAccountID), p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("mrn %s already assigned", p.MRN)
	}
	if err != nil {
		return apperr.Unavailable(err, "create patient")
	}
	return nil
}

func (r *repoPG) getOne(ctx context.Context, where string, arg interface{}, what string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE `+where+` LIMIT 1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient %s not found", what)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "get patient")
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.getOne(ctx, "id = $1", id, id.String())
}

func (r *repoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return r.getOne(ctx, "mrn = $1", mrn, mrn)
}

func (r *repoPG) GetByPortalAccount(ctx context.Context, accountID string) (*Patient, error) {
	return r.getOne(ctx, "portal_account_id = $1", accountID, "for portal account "+accountID)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET first_name = $2, last_name = $3, birth_date = $4, sex = $5, phone = $6,
			portal_account_id = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, nullable(p.Sex), nullable(p.Phone),
		nullable(p.PortalAccountID), p.UpdatedAt)
	if err != nil {
		return apperr.Unavailable(err, "update patient")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient %s not found", p.ID)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	const where = `($1 = '' OR mrn = $1) AND ($2 = '' OR first_name ILIKE '%' || $2 || '%' OR last_name ILIKE '%' || $2 || '%')`
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+where, f.MRN, f.Name).Scan(&total); err != nil {
		return nil, 0, apperr.Unavailable(err, "count patients")
	}
	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patients WHERE `+where+`
		ORDER BY mrn LIMIT $3 OFFSET $4`, f.MRN, f.Name, limit, offset)
	if err != nil {
		return nil, 0, apperr.Unavailable(err, "list patients")
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, apperr.Unavailable(err, "scan patient")
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
