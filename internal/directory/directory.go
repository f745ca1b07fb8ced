package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidUsername is returned by Create for an empty username.
var ErrInvalidUsername = errors.New("directory: username is required")

// User is the durable local identity every login resolves to.
type User struct {
	ID        uuid.UUID
	Username  string
	Email     string
	Timezone  string
	Groups    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the persistent user store consulted by the auth backends.
//
// Lookup returns (nil, nil) when no user has the given name.
// Create is create-or-fetch: when a user with the same username already
// exists (for example created by a concurrent login) it returns that user
// instead of failing or creating a duplicate.
type Directory interface {
	Lookup(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, username, email, timezone string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetGroups(ctx context.Context, username string, groups []string) error
}
