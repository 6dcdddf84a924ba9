package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across pool connections.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedSettings(context.Background()); err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE COLLATE NOCASE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		subject TEXT NOT NULL,
		source TEXT NOT NULL,
		question_count INTEGER NOT NULL DEFAULT 0,
		uploaded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS passages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		passage_text TEXT NOT NULL,
		passage_type TEXT NOT NULL DEFAULT 'prose',
		upload_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject TEXT NOT NULL,
		question_text TEXT NOT NULL,
		option_a TEXT NOT NULL DEFAULT '',
		option_b TEXT NOT NULL DEFAULT '',
		option_c TEXT NOT NULL DEFAULT '',
		option_d TEXT NOT NULL DEFAULT '',
		option_a_image TEXT NOT NULL DEFAULT '',
		option_b_image TEXT NOT NULL DEFAULT '',
		option_c_image TEXT NOT NULL DEFAULT '',
		option_d_image TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		passage_id INTEGER,
		instruction_text TEXT NOT NULL DEFAULT '',
		upload_id INTEGER,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (passage_id) REFERENCES passages(id) ON DELETE SET NULL,
		FOREIGN KEY (upload_id) REFERENCES uploads(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_questions_upload ON questions(upload_id);

	CREATE TABLE IF NOT EXISTS assignments (
		user_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		question_ids TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, subject),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS submission_status (
		user_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		submitted INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME,
		score INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, subject),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		subject TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		answers TEXT NOT NULL DEFAULT '{}',
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		percentage TEXT NOT NULL DEFAULT '0.00',
		graded_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// inClause returns "?, ?, ?" for n placeholders and the ids as query args.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// likeContains builds a case-insensitive LIKE pattern matching s anywhere.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
