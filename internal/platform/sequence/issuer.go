// Package sequence issues gap-free, strictly increasing integers per named
// counter and formats them into the human-facing identifiers used by the lab
// (MRNs, order IDs, accession numbers).
package sequence

import (
	"context"
	"strings"
	"sync"

	"github.com/ehr/lims/internal/platform/apperr"
)

// Issuer returns the next value of a named counter. An unused name starts at 1.
// Implementations must perform increment-and-read as one atomic operation
// against the backing store.
type Issuer interface {
	Next(ctx context.Context, name string) (int64, error)
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.Validation("sequence name is required")
	}
	return nil
}

// MemoryIssuer is the in-process Issuer used by the memory store driver.
type MemoryIssuer struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryIssuer() *MemoryIssuer {
	return &MemoryIssuer{values: make(map[string]int64)}
}

func (m *MemoryIssuer) Next(ctx context.Context, name string) (int64, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, apperr.Unavailable(err, "sequence %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

// Current returns the last issued value, 0 if none.
func (m *MemoryIssuer) Current(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}

// Seed sets the counter so the next call returns value+1.
func (m *MemoryIssuer) Seed(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}
