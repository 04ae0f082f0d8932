package app

import (
	"context"
	"errors"
	"testing"

	"examportal/internal/auth"
)

type fakeUsers struct {
	count   int
	created []auth.CreateUserInput
	err     error
}

func (f *fakeUsers) CountUsers(ctx context.Context) (int, error) {
	return f.count, f.err
}

func (f *fakeUsers) CreateUser(ctx context.Context, in auth.CreateUserInput) (*auth.User, error) {
	f.created = append(f.created, in)
	return &auth.User{ID: 1, Username: in.Username, Role: in.Role}, nil
}

func TestBootstrapAdmin(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		users    *fakeUsers
		want     bool
		wantErr  bool
		wantUser string
	}{
		{name: "no password", cfg: Config{BootstrapAdminUser: "admin"}, users: &fakeUsers{}},
		{name: "users exist", cfg: Config{BootstrapAdminUser: "admin", BootstrapAdminPassword: "secret123"}, users: &fakeUsers{count: 2}},
		{name: "empty table", cfg: Config{BootstrapAdminUser: "root", BootstrapAdminPassword: "secret123"}, users: &fakeUsers{}, want: true, wantUser: "root"},
		{name: "count fails", cfg: Config{BootstrapAdminPassword: "secret123"}, users: &fakeUsers{err: errors.New("db down")}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BootstrapAdmin(context.Background(), tc.cfg, tc.users)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected created=%v, got %v", tc.want, got)
			}
			if tc.want {
				if len(tc.users.created) != 1 || tc.users.created[0].Username != tc.wantUser || tc.users.created[0].Role != auth.RoleAdmin {
					t.Fatalf("unexpected created users: %+v", tc.users.created)
				}
			} else if len(tc.users.created) != 0 {
				t.Fatalf("expected no users created, got %+v", tc.users.created)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "development default secret", cfg: Config{AppEnv: "development", DBDriver: "sqlite", JWTSecret: devJWTSecret}},
		{name: "production default secret", cfg: Config{AppEnv: "production", DBDriver: "postgres", JWTSecret: devJWTSecret}, wantErr: true},
		{name: "production custom secret", cfg: Config{AppEnv: "PRODUCTION", DBDriver: "postgres", JWTSecret: "s3cret"}},
		{name: "unknown driver", cfg: Config{DBDriver: "mysql", JWTSecret: "x"}, wantErr: true},
	}
	for _, tc := range tests {
		if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("JWT_TTL_MINUTES", "30")
	t.Setenv("CSRF_ENFORCED", "yes")

	cfg := LoadConfig()
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "file:examportal.db?mode=rwc" {
		t.Fatalf("unexpected db config: %s %s", cfg.DBDriver, cfg.DBDSN)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if cfg.JWTTTL().Minutes() != 30 || !cfg.CSRFEnforced {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
	if cfg.PoolConfig().MaxOpenConns != 25 {
		t.Fatalf("unexpected pool config: %+v", cfg.PoolConfig())
	}
}
