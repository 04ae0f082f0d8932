package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidUserInput   = errors.New("invalid user input")
	ErrUsernameTaken      = errors.New("username already exists")
)

type Service struct {
	db         *sql.DB
	tokens     *TokenIssuer
	bcryptCost int
	now        func() time.Time
}

type ServiceConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Role     string
}

type LoginResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		tokens:     NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
}

func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	user, err := s.AuthenticatePassword(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at, password_hash
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`, identifier)

	var passwordHash string
	u, err := scanUser(row, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// UserFromToken resolves a bearer token to an active user.
func (s *Service) UserFromToken(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthorized
	}
	id, role, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !u.IsActive || u.Role != role {
		return nil, ErrUnauthorized
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at
		FROM users
		WHERE id = $1
	`, id)
	u, err := scanUser(row, nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fullName := strings.TrimSpace(in.FullName)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if username == "" || fullName == "" || !isValidRole(role) || len(strings.TrimSpace(in.Password)) < 8 {
		return nil, fmt.Errorf("%w: username, full_name, role, and password(>=8) are required", ErrInvalidUserInput)
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email", ErrInvalidUserInput)
		}
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = $1`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	out := User{Username: username, FullName: fullName, Role: role, IsActive: true, CreatedAt: now}
	if email != "" {
		out.Email = &email
	}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, full_name, role, is_active, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, TRUE, $6, $6)
		RETURNING id
	`, username, email, string(hash), fullName, role, now).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &out, nil
}

type SignupInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Signup registers a student account. Staff accounts are created by admins.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	fullName := strings.TrimSpace(strings.TrimSpace(in.FirstName) + " " + strings.TrimSpace(in.LastName))
	if fullName == "" {
		fullName = strings.TrimSpace(in.Username)
	}
	return s.CreateUser(ctx, CreateUserInput{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
		FullName: fullName,
		Role:     RoleStudent,
	})
}

func (s *Service) ListUsers(ctx context.Context, role string, limit int) ([]User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != "" && !isValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role filter", ErrInvalidUserInput)
	}
	if limit <= 0 || limit > 10000 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, email, full_name, role, is_active, created_at
		FROM users
		WHERE ($1 = '' OR role = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, role, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (s *Service) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_active = TRUE`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountUsersByRole counts active users per role.
func (s *Service) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, COUNT(*)
		FROM users
		WHERE is_active = TRUE
		GROUP BY role
	`)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	defer rows.Close()

	out := map[string]int{RoleAdmin: 0, RoleTeacher: 0, RoleStudent: 0}
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan role count: %w", err)
		}
		out[role] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role counts: %w", err)
	}
	return out, nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }, passwordHash *string) (*User, error) {
	var u User
	var email sql.NullString
	dest := []any{&u.ID, &u.Username, &email, &u.FullName, &u.Role, &u.IsActive, &u.CreatedAt}
	if passwordHash != nil {
		dest = append(dest, passwordHash)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}
