package user

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/lims/internal/domain/audit"
	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/auth"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{2,63}$`)

type Service struct {
	repo  Repository
	audit *audit.Recorder
	now   func() time.Time
}

func NewService(repo Repository, rec *audit.Recorder) *Service {
	return &Service{repo: repo, audit: rec, now: time.Now}
}

func (s *Service) CreateUser(ctx context.Context, actor audit.Actor, req CreateRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		return nil, apperr.Validation("username must be 3-64 lowercase letters, digits, '.', '_' or '-'")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return nil, apperr.Validation("display_name is required")
	}
	if !auth.ValidRole(req.Role) {
		return nil, apperr.Validation("unknown role %q", req.Role)
	}

	now := s.now().UTC()
	u := &User{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Role:        req.Role,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionUserCreated,
		audit.Target{Collection: audit.CollectionUsers, ID: u.ID.String()},
		audit.Details{"username": u.Username, "role": u.Role})
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, apperr.Validation("unknown role %q", role)
	}
	return s.repo.List(ctx, role, limit, offset)
}

func (s *Service) UpdateUser(ctx context.Context, actor audit.Actor, id uuid.UUID, req UpdateRequest) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	changed := audit.Details{}
	if req.DisplayName != nil {
		name := strings.TrimSpace(*req.DisplayName)
		if name == "" {
			return nil, apperr.Validation("display_name cannot be blank")
		}
		u.DisplayName = name
		changed["display_name"] = name
	}
	if req.Role != nil {
		if !auth.ValidRole(*req.Role) {
			return nil, apperr.Validation("unknown role %q", *req.Role)
		}
		changed["role"] = map[string]string{"from": u.Role, "to": *req.Role}
		u.Role = *req.Role
	}
	if req.Active != nil {
		u.Active = *req.Active
		changed["active"] = *req.Active
	}
	if len(changed) == 0 {
		return nil, apperr.Validation("no fields to update")
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actor, audit.ActionUserUpdated,
		audit.Target{Collection: audit.CollectionUsers, ID: u.ID.String()}, changed)
	return u, nil
}
