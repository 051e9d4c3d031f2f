package user

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create fails with Conflict when the username is taken.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}
