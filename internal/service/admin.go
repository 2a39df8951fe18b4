package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/restaurant-waitlist/internal/model"
	"github.com/iliyamo/restaurant-waitlist/internal/repository"
)

// ErrAdminConflict means the configured admin email belongs to an account
// with another role.  The account is left untouched.
var ErrAdminConflict = errors.New("admin email is registered with another role")

// EnsureAdmin makes sure an ADMIN account exists for email and returns its
// id.  The bool is false when the account was already there; its password
// is not changed.  Registration only hands out OWNER and CUSTOMER, so this
// is the only way an ADMIN comes to exist.
func EnsureAdmin(ctx context.Context, users repository.Users, email, password string, cost int) (uint64, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		u, err := users.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if u.Role != model.RoleAdmin {
				return 0, false, fmt.Errorf("%w: %s is %s", ErrAdminConflict, u.Email, u.Role)
			}
			return u.ID, false, nil
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("look up admin: %w", err)
		}

		id, err := users.Create(ctx, email, password, model.RoleAdmin, cost)
		if errors.Is(err, repository.ErrEmailExists) {
			// another instance created it first
			continue
		}
		if err != nil {
			return 0, false, fmt.Errorf("create admin: %w", err)
		}
		return id, true, nil
	}
	return 0, false, fmt.Errorf("create admin: %w", repository.ErrEmailExists)
}
