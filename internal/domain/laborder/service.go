package laborder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/domain/patient"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/auth"
	"github.com/ehr/lims/internal/platform/livefeed"
	"github.com/ehr/lims/internal/platform/metrics"
	"github.com/ehr/lims/internal/platform/notification"
	"github.com/ehr/lims/internal/platform/sequence"
)

// PatientDirectory resolves the patients orders are placed for.
type PatientDirectory interface {
	GetPatient(ctx context.Context, ref string) (*patient.Patient, error)
	GetByPortalAccount(ctx context.Context, accountID string) (*patient.Patient, error)
}

// Service runs the order and sample lifecycle.
type Service struct {
	repo       Repository
	patients   PatientDirectory
	ids        *sequence.Formatter
	audit      *audit.Recorder
	adjudicate Adjudicator
	metrics    *metrics.Metrics
	notify     *notification.Dispatcher
	feed       livefeed.Publisher
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(repo Repository, patients PatientDirectory, ids *sequence.Formatter, rec *audit.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		patients:   patients,
		ids:        ids,
		audit:      rec,
		adjudicate: RangeAdjudicator(DefaultReferenceRanges(), nil),
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) SetAdjudicator(a Adjudicator) { s.adjudicate = a }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetDispatcher enables a notification whenever entered results are held for
// manual verification.
func (s *Service) SetDispatcher(d *notification.Dispatcher) { s.notify = d }

// SetPublisher streams every committed sample change to live subscribers.
func (s *Service) SetPublisher(p livefeed.Publisher) { s.feed = p }

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func orderTarget(id string) audit.Target {
	return audit.Target{Collection: audit.CollectionOrders, ID: id}
}

func validateSamples(reqs []SampleRequest) ([]SampleRequest, error) {
	if len(reqs) == 0 {
		return nil, apperr.Validation("at least one sample is required")
	}
	out := make([]SampleRequest, len(reqs))
	for i, sr := range reqs {
		typ := strings.TrimSpace(sr.Type)
		if typ == "" {
			return nil, apperr.Validation("samples[%d]: sample_type is required", i)
		}
		if len(sr.Tests) == 0 {
			return nil, apperr.Validation("samples[%d]: at least one test is required", i)
		}
		seen := make(map[string]bool, len(sr.Tests))
		tests := make([]TestRequest, len(sr.Tests))
		for j, tr := range sr.Tests {
			code := strings.ToUpper(strings.TrimSpace(tr.Code))
			if code == "" {
				return nil, apperr.Validation("samples[%d].tests[%d]: code is required", i, j)
			}
			if seen[code] {
				return nil, apperr.Validation("samples[%d]: duplicate test code %s", i, code)
			}
			seen[code] = true
			tests[j] = TestRequest{Code: code, Name: strings.TrimSpace(tr.Name)}
		}
		out[i] = SampleRequest{Type: typ, Tests: tests}
	}
	return out, nil
}

// CreateOrder validates the whole request before allocating an order ID.
func (s *Service) CreateOrder(ctx context.Context, actor audit.Actor, req CreateOrderRequest) (*Order, error) {
	priority := req.Priority
	if priority == "" {
		priority = PriorityRoutine
	}
	if priority != PrioritySTAT && priority != PriorityRoutine {
		return nil, apperr.Validation("priority must be STAT or Routine")
	}
	physician := strings.TrimSpace(req.PhysicianID)
	if actor.Role == auth.RolePhysician {
		if physician == "" {
			physician = actor.ID
		}
		if physician != actor.ID {
			return nil, apperr.Forbidden("physicians may only place orders under their own id")
		}
	}
	if physician == "" {
		return nil, apperr.Validation("physician_id is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, apperr.Validation("patient_id is required")
	}
	samples, err := validateSamples(req.Samples)
	if err != nil {
		return nil, err
	}

	p, err := s.patients.GetPatient(ctx, strings.TrimSpace(req.PatientID))
	if err != nil {
		return nil, err
	}
	id, err := s.ids.NextOrderID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:          id,
		PatientID:   p.ID,
		PhysicianID: physician,
		Priority:    priority,
		Status:      OrderScheduled,
		Notes:       strings.TrimSpace(req.Notes),
		Samples:     make([]Sample, len(samples)),
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, sr := range samples {
		tests := make([]Test, len(sr.Tests))
		for j, tr := range sr.Tests {
			tests[j] = Test{Code: tr.Code, Name: tr.Name}
		}
		o.Samples[i] = Sample{
			SampleID:  SampleID(id, i+1),
			Type:      sr.Type,
			Status:    SampleAwaitingCollection,
			Tests:     tests,
			UpdatedAt: now,
		}
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionOrderCreated, orderTarget(o.ID), audit.Details{
		"patient_id":   o.PatientID.String(),
		"physician_id": o.PhysicianID,
		"priority":     string(o.Priority),
		"samples":      len(o.Samples),
	})
	return o, nil
}

// canView applies ownership on top of the route policy: physicians see their
// own orders, patients see orders for their linked record.
func (s *Service) canView(ctx context.Context, actor audit.Actor, o *Order) error {
	switch actor.Role {
	case auth.RolePhysician:
		if o.PhysicianID != actor.ID {
			return apperr.Forbidden("order %s belongs to another physician", o.ID)
		}
	case auth.RolePatient:
		p, err := s.patients.GetByPortalAccount(ctx, actor.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Forbidden("no patient record is linked to this account")
		}
		if err != nil {
			return err
		}
		if o.PatientID != p.ID {
			return apperr.Forbidden("order %s belongs to another patient", o.ID)
		}
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, actor audit.Actor, id string) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, actor audit.Actor, f Filter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("unknown order status %q", f.Status)
	}
	switch actor.Role {
	case auth.RolePhysician:
		if f.PhysicianID != "" && f.PhysicianID != actor.ID {
			return nil, 0, apperr.Forbidden("physicians may only list their own orders")
		}
		f.PhysicianID = actor.ID
	case auth.RolePatient:
		p, err := s.patients.GetByPortalAccount(ctx, actor.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, 0, nil
		}
		if err != nil {
			return nil, 0, err
		}
		if f.PatientID != nil && *f.PatientID != p.ID {
			return nil, 0, apperr.Forbidden("patients may only list their own orders")
		}
		f.PatientID = &p.ID
	}
	return s.repo.List(ctx, f, limit, offset)
}
