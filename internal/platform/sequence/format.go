package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/lims/internal/platform/metrics"
)

// Counter names. Order and accession counters are scoped per calendar year so
// numbering restarts at 1 every January; MRNs never restart.
const (
	MRNSequence = "mrn"

	orderSequencePrefix     = "order_"
	accessionSequencePrefix = "accession_"
)

func OrderSequence(year int) string     { return fmt.Sprintf("%s%d", orderSequencePrefix, year) }
func AccessionSequence(year int) string { return fmt.Sprintf("%s%d", accessionSequencePrefix, year) }

// FormatMRN renders P + 7-digit zero-padded value.
func FormatMRN(n int64) string { return fmt.Sprintf("P%07d", n) }

// FormatOrderID renders ORD-<year>-<7 digits>.
func FormatOrderID(year int, n int64) string { return fmt.Sprintf("ORD-%d-%07d", year, n) }

// FormatAccession renders ACC-<year>-<6 digits>.
func FormatAccession(year int, n int64) string { return fmt.Sprintf("ACC-%d-%06d", year, n) }

// Formatter turns Issuer output into identifiers. It never retries and never
// fabricates an identifier: any Issuer failure is returned unchanged.
type Formatter struct {
	issuer  Issuer
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewFormatter(issuer Issuer) *Formatter {
	return &Formatter{issuer: issuer, now: time.Now}
}

// SetClock overrides the clock used to pick the year scope.
func (f *Formatter) SetClock(now func() time.Time) { f.now = now }

func (f *Formatter) SetMetrics(m *metrics.Metrics) { f.metrics = m }

func (f *Formatter) next(ctx context.Context, purpose, name string) (int64, error) {
	n, err := f.issuer.Next(ctx, name)
	f.metrics.ObserveAllocation(purpose, err)
	return n, err
}

func (f *Formatter) NextMRN(ctx context.Context) (string, error) {
	n, err := f.next(ctx, "mrn", MRNSequence)
	if err != nil {
		return "", err
	}
	return FormatMRN(n), nil
}

func (f *Formatter) NextOrderID(ctx context.Context) (string, error) {
	year := f.now().UTC().Year()
	n, err := f.next(ctx, "order", OrderSequence(year))
	if err != nil {
		return "", err
	}
	return FormatOrderID(year, n), nil
}

func (f *Formatter) NextAccession(ctx context.Context) (string, error) {
	year := f.now().UTC().Year()
	n, err := f.next(ctx, "accession", AccessionSequence(year))
	if err != nil {
		return "", err
	}
	return FormatAccession(year, n), nil
}
