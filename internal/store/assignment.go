package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// Assignment returns the paper assigned to a user for a subject, or nil if
// none has been drawn yet.
func (s *Store) Assignment(ctx context.Context, userID int64, subject string) ([]int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT question_ids FROM assignments WHERE user_id = ? AND subject = ?`, userID, subject,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return ids, nil
}

// CreateAssignment stores ids as the user's paper unless one already exists,
// and returns whichever paper is stored afterwards. Concurrent callers all
// observe the first writer's paper.
func (s *Store) CreateAssignment(ctx context.Context, userID int64, subject string, ids []int64) ([]int64, error) {
	raw, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (user_id, subject, question_ids, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, subject) DO NOTHING`,
		userID, subject, string(raw), time.Now(),
	); err != nil {
		return nil, err
	}
	return s.Assignment(ctx, userID, subject)
}

// SubmissionStatus returns the submission state for a user and subject. A
// pair that was never submitted reports Submitted=false.
func (s *Store) SubmissionStatus(ctx context.Context, userID int64, subject string) (*model.SubmissionStatus, error) {
	var st model.SubmissionStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT submitted, submitted_at, score, total FROM submission_status
		 WHERE user_id = ? AND subject = ?`, userID, subject,
	).Scan(&st.Submitted, &st.SubmittedAt, &st.Score, &st.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.SubmissionStatus{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecordSubmission marks the pair submitted and appends the response and
// grade rows, all in one transaction. If the pair was already submitted
// nothing is written and model.ErrAlreadySubmitted is returned.
func (s *Store) RecordSubmission(ctx context.Context, sub model.Submission) error {
	answers, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO submission_status (user_id, subject, submitted, submitted_at, score, total)
			 VALUES (?, ?, 1, ?, ?, ?)
			 ON CONFLICT(user_id, subject) DO UPDATE SET
				submitted = 1,
				submitted_at = excluded.submitted_at,
				score = excluded.score,
				total = excluded.total
			 WHERE submission_status.submitted = 0`,
			sub.UserID, sub.Subject, sub.SubmittedAt, sub.Score, sub.Total,
		)
		if err != nil {
			return fmt.Errorf("update submission status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return model.ErrAlreadySubmitted
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO responses (username, subject, score, answers, submitted_at) VALUES (?, ?, ?, ?, ?)`,
			sub.Username, sub.Subject, sub.Score, string(answers), sub.SubmittedAt,
		); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO grades (username, display_name, subject, score, percentage, graded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sub.Username, sub.DisplayName, sub.Subject, sub.Score, sub.Percentage, sub.SubmittedAt,
		); err != nil {
			return fmt.Errorf("insert grade: %w", err)
		}
		return nil
	})
}
