package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// ImportBatch writes an upload record, its passages and its questions in one
// transaction. Every question and passage carries the new upload id, so a
// later DeleteUpload removes exactly this batch. A batch without questions
// writes nothing and returns nil.
func (s *Store) ImportBatch(ctx context.Context, b model.ImportBatch) (*model.Upload, error) {
	if len(b.Questions) == 0 {
		return nil, nil
	}
	up := &model.Upload{
		Filename:      b.Filename,
		Subject:       b.Subject,
		Source:        b.Source,
		QuestionCount: len(b.Questions),
		UploadedAt:    time.Now(),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO uploads (filename, subject, source, question_count, uploaded_at)
			 VALUES (?, ?, ?, ?, ?)`,
			up.Filename, up.Subject, up.Source, up.QuestionCount, up.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}
		if up.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		passageIDs := make(map[int]int64, len(b.Passages))
		for _, p := range b.Passages {
			typ := p.Type
			if typ == "" {
				typ = "prose"
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO passages (subject, passage_text, passage_type, upload_id, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				b.Subject, p.Text, typ, up.ID, up.UploadedAt,
			)
			if err != nil {
				return fmt.Errorf("insert passage: %w", err)
			}
			if passageIDs[p.Ref], err = res.LastInsertId(); err != nil {
				return err
			}
		}

		for _, q := range b.Questions {
			var passageID *int64
			if id, ok := passageIDs[q.PassageRef]; ok && q.PassageRef != 0 {
				passageID = &id
			}
			if _, err := insertQuestion(ctx, tx, model.Question{
				Subject:         q.Subject,
				Text:            q.Text,
				Options:         q.Options,
				OptionImages:    q.OptionImages,
				CorrectAnswer:   q.CorrectAnswer,
				ImageURL:        q.ImageURL,
				PassageID:       passageID,
				InstructionText: q.InstructionText,
				UploadID:        &up.ID,
			}, up.UploadedAt); err != nil {
				return fmt.Errorf("insert question: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("imported batch", "upload_id", up.ID, "filename", up.Filename,
		"subject", up.Subject, "questions", up.QuestionCount, "passages", len(b.Passages))
	return up, nil
}

// InsertQuestion stores a single question outside of any upload batch.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return insertQuestion(ctx, s.db, q, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertQuestion(ctx context.Context, e execer, q model.Question, now time.Time) (int64, error) {
	res, err := e.ExecContext(ctx,
		`INSERT INTO questions (subject, question_text,
			option_a, option_b, option_c, option_d,
			option_a_image, option_b_image, option_c_image, option_d_image,
			correct_answer, image_url, passage_id, instruction_text, upload_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Subject, q.Text,
		q.Options[0], q.Options[1], q.Options[2], q.Options[3],
		q.OptionImages[0], q.OptionImages[1], q.OptionImages[2], q.OptionImages[3],
		q.CorrectAnswer, q.ImageURL, nullableID(q.PassageID), q.InstructionText, nullableID(q.UploadID), now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// QuestionIDsBySubject returns the ids of questions whose subject contains
// subject, case-insensitively, in id order.
func (s *Store) QuestionIDsBySubject(ctx context.Context, subject string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM questions WHERE LOWER(subject) LIKE ? ESCAPE '\' ORDER BY id`,
		likeContains(subject),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// QuestionsByIDs loads the given questions with their passage text. Ids that
// no longer exist are absent from the result.
func (s *Store) QuestionsByIDs(ctx context.Context, ids []int64) (map[int64]model.QuestionDetail, error) {
	out := make(map[int64]model.QuestionDetail, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.subject, q.question_text,
			q.option_a, q.option_b, q.option_c, q.option_d,
			q.option_a_image, q.option_b_image, q.option_c_image, q.option_d_image,
			q.correct_answer, q.image_url, q.passage_id, q.instruction_text, q.upload_id,
			COALESCE(p.passage_text, '')
		 FROM questions q LEFT JOIN passages p ON p.id = q.passage_id
		 WHERE q.id IN (`+in+`)`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d model.QuestionDetail
		q := &d.Question
		if err := rows.Scan(&q.ID, &q.Subject, &q.Text,
			&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3],
			&q.OptionImages[0], &q.OptionImages[1], &q.OptionImages[2], &q.OptionImages[3],
			&q.CorrectAnswer, &q.ImageURL, &q.PassageID, &q.InstructionText, &q.UploadID,
			&d.PassageText,
		); err != nil {
			return nil, err
		}
		out[q.ID] = d
	}
	return out, rows.Err()
}

// CorrectAnswers returns the stored answer key for exactly the given ids.
func (s *Store) CorrectAnswers(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	in, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correct_answer FROM questions WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var ans string
		if err := rows.Scan(&id, &ans); err != nil {
			return nil, err
		}
		out[id] = ans
	}
	return out, rows.Err()
}

// ListUploads returns upload records, newest first.
func (s *Store) ListUploads(ctx context.Context) ([]model.Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, subject, source, question_count, uploaded_at
		 FROM uploads ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ups []model.Upload
	for rows.Next() {
		var u model.Upload
		if err := rows.Scan(&u.ID, &u.Filename, &u.Subject, &u.Source, &u.QuestionCount, &u.UploadedAt); err != nil {
			return nil, err
		}
		ups = append(ups, u)
	}
	return ups, rows.Err()
}

// DeleteUpload removes an upload batch with its questions and passages.
func (s *Store) DeleteUpload(ctx context.Context, id int64) (*model.Upload, error) {
	var up model.Upload
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, filename, subject, source, question_count, uploaded_at FROM uploads WHERE id = ?`, id,
		).Scan(&up.ID, &up.Filename, &up.Subject, &up.Source, &up.QuestionCount, &up.UploadedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM questions WHERE upload_id = ?`,
			`DELETE FROM passages WHERE upload_id = ?`,
			`DELETE FROM uploads WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("deleted upload", "upload_id", id, "filename", up.Filename, "questions", up.QuestionCount)
	return &up, nil
}

// ClearQuestions deletes questions for one subject, or everything when
// subject is empty or "all". Upload records and passages of the cleared
// subject go with them. It returns the number of questions removed.
func (s *Store) ClearQuestions(ctx context.Context, subject string) (int64, error) {
	all := subject == "" || strings.EqualFold(subject, "all")
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if all {
			res, err = tx.ExecContext(ctx, `DELETE FROM questions`)
		} else {
			res, err = tx.ExecContext(ctx, `DELETE FROM questions WHERE subject = ?`, subject)
		}
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if all {
			for _, q := range []string{`DELETE FROM passages`, `DELETE FROM uploads`} {
				if _, err := tx.ExecContext(ctx, q); err != nil {
					return err
				}
			}
			return nil
		}
		// Uploads whose questions are all gone are stale history.
		for _, q := range []string{
			`DELETE FROM passages WHERE subject = ? AND id NOT IN (SELECT passage_id FROM questions WHERE passage_id IS NOT NULL)`,
			`DELETE FROM uploads WHERE subject = ? AND id NOT IN (SELECT upload_id FROM questions WHERE upload_id IS NOT NULL)`,
		} {
			if _, err := tx.ExecContext(ctx, q, subject); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("cleared questions", "subject", subject, "deleted", n)
	return n, nil
}

// QuestionCounts returns the number of questions per subject and the total
// number of stored passages.
func (s *Store) QuestionCounts(ctx context.Context) ([]model.SubjectCount, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject, COUNT(*) FROM questions GROUP BY subject ORDER BY subject`)
	if err != nil {
		return nil, 0, err
	}
	var counts []model.SubjectCount
	for rows.Next() {
		var c model.SubjectCount
		if err := rows.Scan(&c.Subject, &c.Count); err != nil {
			rows.Close()
			return nil, 0, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	var passages int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&passages); err != nil {
		return nil, 0, err
	}
	return counts, passages, nil
}
