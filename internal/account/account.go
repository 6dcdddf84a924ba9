// Package account manages user credentials: password hashing, login checks,
// admin detection and bulk student creation.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examportal/internal/ingest/tabular"
	"github.com/pavelanni/examportal/internal/model"
)

// Store is the persistence the account service needs.
type Store interface {
	CreateUser(ctx context.Context, u model.User) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UserCount(ctx context.Context) (int, error)
	AdminUsers(ctx context.Context) ([]string, error)
	AddAdminUser(ctx context.Context, username string) error
}

// Service creates and authenticates users.
type Service struct {
	store Store
	cost  int
}

// New returns a Service hashing passwords with the given bcrypt cost.
// A cost of 0 selects bcrypt.DefaultCost.
func New(s Store, cost int) *Service {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: s, cost: cost}
}

// NewUser describes a user to create.
type NewUser struct {
	Username    string
	DisplayName string
	Password    string
	Admin       bool
}

// Create hashes the password and stores the user. Admins are also appended
// to the AdminUsers setting.
func (s *Service) Create(ctx context.Context, nu NewUser) (*model.User, error) {
	username := strings.ToLower(strings.TrimSpace(nu.Username))
	if username == "" {
		return nil, fmt.Errorf("username required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		Username:     username,
		DisplayName:  strings.TrimSpace(nu.DisplayName),
		PasswordHash: string(hash),
		Role:         model.UserRoleStudent,
		Active:       true,
	}
	if u.DisplayName == "" {
		u.DisplayName = username
	}
	if nu.Admin {
		u.Role = model.UserRoleAdmin
	}
	id, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	u.ID = id
	if nu.Admin {
		if err := s.store.AddAdminUser(ctx, username); err != nil {
			return nil, fmt.Errorf("register admin: %w", err)
		}
	}
	return &u, nil
}

// BulkResult is the outcome for one row of a bulk import. Status is "OK" or
// "ERROR: <reason>".
type BulkResult struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// BulkCreate creates a student per row, continuing past failures. It
// returns per-row results and the number of users created.
func (s *Service) BulkCreate(ctx context.Context, rows []tabular.UserRow) ([]BulkResult, int) {
	results := make([]BulkResult, 0, len(rows))
	created := 0
	for _, row := range rows {
		_, err := s.Create(ctx, NewUser{
			Username:    row.Username,
			DisplayName: row.DisplayName,
			Password:    row.Password,
		})
		if err != nil {
			results = append(results, BulkResult{Username: row.Username, Status: "ERROR: " + err.Error()})
			continue
		}
		results = append(results, BulkResult{Username: row.Username, Status: "OK"})
		created++
	}
	slog.Info("bulk created users", "rows", len(rows), "created", created)
	return results, created
}

// Authenticate checks username and password. Unknown users, inactive users
// and wrong passwords all yield model.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, model.ErrInvalidCredentials
	}
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.Active {
		return nil, model.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	return u, nil
}

// IsAdmin reports whether u has the admin role or is listed in the
// AdminUsers setting.
func (s *Service) IsAdmin(ctx context.Context, u *model.User) (bool, error) {
	if u == nil {
		return false, nil
	}
	if u.Role == model.UserRoleAdmin {
		return true, nil
	}
	admins, err := s.store.AdminUsers(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(admins, strings.ToLower(u.Username)), nil
}

// SeedAdmin creates the default "admin" account when no users exist.
func (s *Service) SeedAdmin(ctx context.Context, password string) error {
	count, err := s.store.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or EXAMPORTAL_ADMIN_PASSWORD env var")
	}
	if _, err := s.Create(ctx, NewUser{
		Username:    "admin",
		DisplayName: "Administrator",
		Password:    password,
		Admin:       true,
	}); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
