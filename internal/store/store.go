// Package store opens the backing store chosen by configuration and hands out
// the repositories every service is built from.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/lims/internal/config"
	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/domain/inventory"
	"github.com/ehr/lims/internal/domain/laborder"
	"github.com/ehr/lims/internal/domain/patient"
	"github.com/ehr/lims/internal/domain/user"
	"github.com/ehr/lims/internal/platform/db"
	"github.com/ehr/lims/internal/platform/sequence"
)

// Store bundles one backing store's repositories. Pool is nil for the memory
// driver.
type Store struct {
	Driver    string
	Pool      *pgxpool.Pool
	Sequences sequence.Issuer
	Users     user.Repository
	Patients  patient.Repository
	Orders    laborder.Repository
	Audit     audit.Repository
	Inventory inventory.Repository
}

// Open connects to the configured driver. The returned Store must be closed.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewMemory returns an empty in-process store.
func NewMemory() *Store {
	return &Store{
		Driver:    config.StoreMemory,
		Sequences: sequence.NewMemoryIssuer(),
		Users:     user.NewMemoryRepo(),
		Patients:  patient.NewMemoryRepo(),
		Orders:    laborder.NewMemoryRepo(),
		Audit:     audit.NewMemoryRepo(),
		Inventory: inventory.NewMemoryRepo(),
	}
}

func NewPostgres(pool *pgxpool.Pool) *Store {
	return &Store{
		Driver:    config.StorePostgres,
		Pool:      pool,
		Sequences: sequence.NewPGIssuer(pool),
		Users:     user.NewRepoPG(pool),
		Patients:  patient.NewRepoPG(pool),
		Orders:    laborder.NewRepoPG(pool),
		Audit:     audit.NewRepoPG(pool),
		Inventory: inventory.NewRepoPG(pool),
	}
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
