package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/pavelanni/examportal/internal/model"
)

var settingDefaults = []struct{ key, value string }{
	{model.SettingExamActive, "TRUE"},
	{model.SettingTotalQuestions, strconv.Itoa(model.DefaultTotalQuestions)},
	{model.SettingActiveSubject, model.DefaultActiveSubject},
	{model.SettingAdminUsers, "admin"},
}

// seedSettings writes default values for any setting that is not yet stored.
func (s *Store) seedSettings(ctx context.Context) error {
	for _, d := range settingDefaults {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
			d.key, d.value,
		); err != nil {
			return err
		}
	}
	return nil
}

// SetSetting upserts a key-value pair in the settings table.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// Setting returns the value for a key and whether it exists.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Settings returns every stored setting.
func (s *Store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// AdminUsers returns the lowercased usernames listed in the AdminUsers setting.
func (s *Store) AdminUsers(ctx context.Context) ([]string, error) {
	v, _, err := s.Setting(ctx, model.SettingAdminUsers)
	if err != nil {
		return nil, err
	}
	return splitUsernames(v), nil
}

// AddAdminUser appends username to the AdminUsers setting if absent.
func (s *Store) AddAdminUser(ctx context.Context, username string) error {
	names, err := s.AdminUsers(ctx)
	if err != nil {
		return err
	}
	username = strings.ToLower(strings.TrimSpace(username))
	for _, n := range names {
		if n == username {
			return nil
		}
	}
	return s.SetSetting(ctx, model.SettingAdminUsers, strings.Join(append(names, username), ","))
}

func splitUsernames(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
