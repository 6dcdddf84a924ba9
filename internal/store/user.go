package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

const userColumns = `id, username, display_name, password_hash, role, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (*model.User, error) {
	var u model.User
	if err := r.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new user. Usernames are stored lowercased and are
// unique regardless of case; a duplicate returns model.ErrUserExists.
func (s *Store) CreateUser(ctx context.Context, u model.User) (int64, error) {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	existing, err := s.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return 0, model.ErrUserExists
	}
	if u.Role == "" {
		u.Role = model.UserRoleStudent
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.PasswordHash, u.Role, u.Active, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username, "role", u.Role)
	return id, nil
}

// GetUserByUsername returns a user by username, ignoring case.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`,
		strings.ToLower(strings.TrimSpace(username)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// ListUsers returns all users, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive enables or disables login for a user.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// StudentCount returns the number of non-admin users.
func (s *Store) StudentCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role != ?`, model.UserRoleAdmin).Scan(&count)
	return count, err
}

// DeleteUser removes a student together with their responses and grades.
// Assignments, submission status and sessions go with the user row.
// Admin accounts are refused with model.ErrProtectedUser.
func (s *Store) DeleteUser(ctx context.Context, id int64) (*model.User, error) {
	var deleted *model.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if u.Role == model.UserRoleAdmin {
			return model.ErrProtectedUser
		}
		for _, q := range []string{
			`DELETE FROM responses WHERE username = ?`,
			`DELETE FROM grades WHERE username = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, u.Username); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return err
		}
		deleted = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("deleted user", "id", id, "username", deleted.Username)
	return deleted, nil
}

// DeleteAllStudents removes every non-admin user and their results.
func (s *Store) DeleteAllStudents(ctx context.Context) (int64, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM responses WHERE username IN (SELECT username FROM users WHERE role != ?)`,
			`DELETE FROM grades WHERE username IN (SELECT username FROM users WHERE role != ?)`,
		} {
			if _, err := tx.ExecContext(ctx, q, model.UserRoleAdmin); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE role != ?`, model.UserRoleAdmin)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.Info("deleted all students", "count", n)
	return n, nil
}
