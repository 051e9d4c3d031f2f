package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient is never hard-deleted and its MRN never changes.
type Patient struct {
	ID              uuid.UUID `json:"id"`
	MRN             string    `json:"mrn"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	BirthDate       time.Time `json:"birth_date"`
	Sex             string    `json:"sex,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	PortalAccountID string    `json:"portal_account_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

const dateLayout = "2006-01-02"

type RegisterRequest struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	BirthDate       string `json:"birth_date"`
	Sex             string `json:"sex"`
	Phone           string `json:"phone"`
	PortalAccountID string `json:"portal_account_id"`
}

// UpdateRequest changes only the fields that are set. MRN is not updatable.
type UpdateRequest struct {
	FirstName       *string `json:"first_name"`
	LastName        *string `json:"last_name"`
	BirthDate       *string `json:"birth_date"`
	Sex             *string `json:"sex"`
	Phone           *string `json:"phone"`
	PortalAccountID *string `json:"portal_account_id"`
}

// Filter narrows List. Name matches first or last name case-insensitively.
type Filter struct {
	Name string
	MRN  string
}
