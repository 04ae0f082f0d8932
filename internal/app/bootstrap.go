package app

import (
	"context"
	"fmt"
	"log"

	"examportal/internal/auth"
)

type userBootstrapper interface {
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, in auth.CreateUserInput) (*auth.User, error)
}

// BootstrapAdmin creates the first admin account when the users table is
// empty and BOOTSTRAP_ADMIN_PASSWORD is set. It reports whether a user was
// created.
func BootstrapAdmin(ctx context.Context, cfg Config, users userBootstrapper) (bool, error) {
	if cfg.BootstrapAdminPassword == "" {
		return false, nil
	}
	n, err := users.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	u, err := users.CreateUser(ctx, auth.CreateUserInput{
		Username: cfg.BootstrapAdminUser,
		Password: cfg.BootstrapAdminPassword,
		FullName: "Administrator",
		Role:     auth.RoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Printf("bootstrap admin %q created id=%d", u.Username, u.ID)
	return true, nil
}
