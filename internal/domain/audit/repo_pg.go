package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const entryCols = `id, occurred_at, actor_id, actor_role, action, target_collection, target_id, details, origin`

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO audit_log (`+entryCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.OccurredAt, e.ActorID, e.ActorRole, string(e.Action),
		e.Target.Collection, e.Target.ID, details, e.Origin)
	if err != nil {
		return apperr.Unavailable(err, "append audit entry")
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var action string
	var role, origin *string
	var details []byte
	if err := row.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &role, &action,
		&e.Target.Collection, &e.Target.ID, &details, &origin); err != nil {
		return nil, err
	}
	e.Action = Action(action)
	if role != nil {
		e.ActorRole = *role
	}
	if origin != nil {
		e.Origin = *origin
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
	}
	return &e, nil
}

func (r *repoPG) ListByTarget(ctx context.Context, collection, id string) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+entryCols+` FROM audit_log
		WHERE target_collection = $1 AND target_id = $2
		ORDER BY occurred_at DESC, id DESC`, collection, id)
	if err != nil {
		return nil, apperr.Unavailable(err, "list audit entries")
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Unavailable(err, "scan audit entry")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("action", string(f.Action))
	add("actor_id", f.ActorID)
	add("target_collection", f.Collection)
	add("target_id", f.TargetID)
	clause := strings.Join(where, " AND ")

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Unavailable(err, "count audit entries")
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM audit_log WHERE %s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		entryCols, clause, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Unavailable(err, "search audit entries")
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, apperr.Unavailable(err, "scan audit entry")
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
