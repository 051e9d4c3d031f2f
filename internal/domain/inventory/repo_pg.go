package inventory

import (
	"context"
	"errors"
	"time"

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

const itemCols = `id, name, sku, unit, quantity_on_hand, min_stock_level, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.SKU, &it.Unit, &it.QuantityOnHand, &it.MinStockLevel,
		&it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func collect(rows pgx.Rows) ([]*Item, error) {
	defer rows.Close()
	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, it *Item) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO inventory_items (`+itemCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		it.ID, it.Name, it.SKU, it.Unit, it.QuantityOnHand, it.MinStockLevel, it.CreatedAt, it.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("sku %s already exists", it.SKU)
	}
	if err != nil {
		return apperr.Unavailable(err, "create item")
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := scanItem(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+itemCols+` FROM inventory_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("inventory item %s not found", id)
	}
	if err != nil {
		return nil, apperr.Unavailable(err, "get item")
	}
	return it, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Item, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_items`).Scan(&total); err != nil {
		return nil, 0, apperr.Unavailable(err, "count items")
	}
	rows, err := conn.Query(ctx, `SELECT `+itemCols+` FROM inventory_items
		ORDER BY name, sku LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Unavailable(err, "list items")
	}
	out, err := collect(rows)
	if err != nil {
		return nil, 0, apperr.Unavailable(err, "scan items")
	}
	return out, total, nil
}

// Adjust increments in the database so concurrent adjustments never lose
// an update. The guard in the WHERE clause keeps the result non-negative.
func (r *repoPG) Adjust(ctx context.Context, id uuid.UUID, delta int, at time.Time) (*Item, error) {
	conn := db.Conn(ctx, r.pool)
	it, err := scanItem(conn.QueryRow(ctx, `
		UPDATE inventory_items SET quantity_on_hand = quantity_on_hand + $2, updated_at = $3
		WHERE id = $1 AND quantity_on_hand + $2 >= 0
		RETURNING `+itemCols, id, delta, at))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Unavailable(err, "adjust item")
	}
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, apperr.Conflict("adjustment of %d would take %s below zero (on hand %d)", delta, current.SKU, current.QuantityOnHand)
}

func (r *repoPG) LowStock(ctx context.Context) ([]*Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+itemCols+` FROM inventory_items
		WHERE quantity_on_hand <= min_stock_level ORDER BY name, sku`)
	if err != nil {
		return nil, apperr.Unavailable(err, "check stock")
	}
	out, err := collect(rows)
	if err != nil {
		return nil, apperr.Unavailable(err, "scan items")
	}
	return out, nil
}
