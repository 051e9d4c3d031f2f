package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/sequence"
)

type Service struct {
	repo  Repository
	ids   *sequence.Formatter
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(repo Repository, ids *sequence.Formatter, rec *audit.Recorder) *Service {
	return &Service{repo: repo, ids: ids, audit: rec, now: time.Now}
}

func parseBirthDate(s string, now time.Time) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("birth_date must be YYYY-MM-DD")
	}
	if d.After(now) {
		return time.Time{}, apperr.Validation("birth_date is in the future")
	}
	return d, nil
}

// RegisterPatient validates the request before allocating an MRN so a
// rejected request never consumes a number.
func (s *Service) RegisterPatient(ctx context.Context, actor audit.Actor, req RegisterRequest) (*Patient, error) {
	first, last := strings.TrimSpace(req.FirstName), strings.TrimSpace(req.LastName)
	if first == "" || last == "" {
		return nil, apperr.Validation("first_name and last_name are required")
	}
	now := s.now().UTC()
	dob, err := parseBirthDate(req.BirthDate, now)
	if err != nil {
		return nil, err
	}

	mrn, err := s.ids.NextMRN(ctx)
	if err != nil {
		return nil, err
	}

	p := &Patient{
		ID:              uuid.New(),
		MRN:             mrn,
		FirstName:       first,
		LastName:        last,
		BirthDate:       dob,
		Sex:             strings.TrimSpace(req.Sex),
		Phone:           strings.TrimSpace(req.Phone),
		PortalAccountID: strings.TrimSpace(req.PortalAccountID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionPatientRegistered,
		audit.Target{Collection: audit.CollectionPatients, ID: p.ID.String()},
		audit.Details{"mrn": p.MRN})
	return p, nil
}

// GetPatient accepts either the patient's UUID or its MRN.
func (s *Service) GetPatient(ctx context.Context, ref string) (*Patient, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.GetByID(ctx, id)
	}
	if ref == "" {
		return nil, apperr.Validation("patient reference is required")
	}
	return s.repo.GetByMRN(ctx, ref)
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByPortalAccount resolves the patient record linked to a portal login.
func (s *Service) GetByPortalAccount(ctx context.Context, accountID string) (*Patient, error) {
	if accountID == "" {
		return nil, apperr.NotFound("no patient linked to an empty account")
	}
	return s.repo.GetByPortalAccount(ctx, accountID)
}

func (s *Service) ListPatients(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	f.Name = strings.TrimSpace(f.Name)
	f.MRN = strings.TrimSpace(f.MRN)
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) UpdatePatient(ctx context.Context, actor audit.Actor, ref string, req UpdateRequest) (*Patient, error) {
	p, err := s.GetPatient(ctx, ref)
	if err != nil {
		return nil, err
	}
	changed := make([]string, 0, 6)
	setName := func(dst *string, v *string, field string) error {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		if t == "" {
			return apperr.Validation("%s cannot be blank", field)
		}
		*dst = t
		changed = append(changed, field)
		return nil
	}
	if err := setName(&p.FirstName, req.FirstName, "first_name"); err != nil {
		return nil, err
	}
	if err := setName(&p.LastName, req.LastName, "last_name"); err != nil {
		return nil, err
	}
	if req.BirthDate != nil {
		dob, err := parseBirthDate(*req.BirthDate, s.now())
		if err != nil {
			return nil, err
		}
		p.BirthDate = dob
		changed = append(changed, "birth_date")
	}
	if req.Sex != nil {
		p.Sex = strings.TrimSpace(*req.Sex)
		changed = append(changed, "sex")
	}
	if req.Phone != nil {
		p.Phone = strings.TrimSpace(*req.Phone)
		changed = append(changed, "phone")
	}
	if req.PortalAccountID != nil {
		p.PortalAccountID = strings.TrimSpace(*req.PortalAccountID)
		changed = append(changed, "portal_account_id")
	}
	if len(changed) == 0 {
		return nil, apperr.Validation("no fields to update")
	}

	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionPatientUpdated,
		audit.Target{Collection: audit.CollectionPatients, ID: p.ID.String()},
		audit.Details{"mrn": p.MRN, "fields": changed})
	return p, nil
}
