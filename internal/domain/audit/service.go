package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/metrics"
)

const writeTimeout = 5 * time.Second

// Recorder appends audit entries after the audited change has committed. A
// failed append is logged and counted but never reported to the caller: the
// business change stays in place even if its trail is momentarily missing.
type Recorder struct {
	repo    Repository
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(repo Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

func (r *Recorder) SetMetrics(m *metrics.Metrics) { r.metrics = m }

func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record appends one entry. The write is detached from ctx cancellation so
// an abandoned request still gets its trail.
func (r *Recorder) Record(ctx context.Context, actor Actor, action Action, target Target, details Details) {
	e := &Entry{
		ID:         uuid.New(),
		OccurredAt: r.now().UTC(),
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		Target:     target,
		Details:    details,
		Origin:     actor.Origin,
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.repo.Append(wctx, e); err != nil {
		r.metrics.AuditFailed()
		r.logger.Error().Err(err).
			Str("action", string(action)).
			Str("actor", actor.ID).
			Str("target_collection", target.Collection).
			Str("target_id", target.ID).
			Msg("audit write failed")
	}
}

// ListByTarget returns the trail of one entity, newest first.
func (r *Recorder) ListByTarget(ctx context.Context, collection, id string) ([]*Entry, error) {
	if collection == "" || id == "" {
		return nil, apperr.Validation("collection and target id are required")
	}
	return r.repo.ListByTarget(ctx, collection, id)
}

func (r *Recorder) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, 0, apperr.Validation("unknown action %q", f.Action)
	}
	return r.repo.Search(ctx, f, limit, offset)
}
