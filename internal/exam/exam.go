// Package exam draws per-student question papers, serves questions from them
// and scores submissions.
package exam

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// Store is the persistence the engine needs. *store.Store satisfies it.
type Store interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	QuestionIDsBySubject(ctx context.Context, subject string) ([]int64, error)
	QuestionsByIDs(ctx context.Context, ids []int64) (map[int64]model.QuestionDetail, error)
	CorrectAnswers(ctx context.Context, ids []int64) (map[int64]string, error)
	Assignment(ctx context.Context, userID int64, subject string) ([]int64, error)
	CreateAssignment(ctx context.Context, userID int64, subject string, ids []int64) ([]int64, error)
	SubmissionStatus(ctx context.Context, userID int64, subject string) (*model.SubmissionStatus, error)
	RecordSubmission(ctx context.Context, sub model.Submission) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	LatestResponse(ctx context.Context, username, subject string) (*model.Response, error)
}

// Engine implements paper assignment, question delivery and scoring.
type Engine struct {
	store Store
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithRand sets the random source used to shuffle question pools.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock sets the time source used to stamp submissions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s Store, opts ...Option) *Engine {
	e := &Engine{
		store: s,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExamActive reports whether admins have enabled the exam.
func (e *Engine) ExamActive(ctx context.Context) (bool, error) {
	v, _, err := e.store.Setting(ctx, model.SettingExamActive)
	if err != nil {
		return false, err
	}
	return model.ExamActiveValue(v), nil
}

// ActiveSubject returns the subject students should sit, defaulting to EVS.
func (e *Engine) ActiveSubject(ctx context.Context) (string, error) {
	v, _, err := e.store.Setting(ctx, model.SettingActiveSubject)
	if err != nil {
		return "", err
	}
	if v == "" {
		return model.DefaultActiveSubject, nil
	}
	return v, nil
}

func (e *Engine) totalQuestions(ctx context.Context) (int, error) {
	v, _, err := e.store.Setting(ctx, model.SettingTotalQuestions)
	if err != nil {
		return 0, err
	}
	return model.TotalQuestionsValue(v), nil
}

func (e *Engine) requireActive(ctx context.Context) error {
	active, err := e.ExamActive(ctx)
	if err != nil {
		return err
	}
	if !active {
		return model.ErrExamDisabled
	}
	return nil
}

// AssignPaper returns the user's paper for subject, drawing and storing one
// on first use. Once stored a paper never changes.
func (e *Engine) AssignPaper(ctx context.Context, user *model.User, subject string) ([]int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.ErrSubjectRequired
	}
	ids, err := e.store.Assignment(ctx, user.ID, subject)
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	pool, err := e.store.QuestionIDsBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	need, err := e.totalQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load paper size: %w", err)
	}
	if len(pool) < need {
		return nil, &model.PoolError{Subject: subject, Need: need, Have: len(pool)}
	}

	e.mu.Lock()
	shuffle(e.rng, pool)
	e.mu.Unlock()

	stored, err := e.store.CreateAssignment(ctx, user.ID, subject, pool[:need])
	if err != nil {
		return nil, fmt.Errorf("store assignment: %w", err)
	}
	slog.Info("assigned paper", "user", user.Username, "subject", subject, "questions", len(stored))
	return stored, nil
}

// shuffle is a Fisher-Yates shuffle over the whole slice.
func shuffle(r *rand.Rand, ids []int64) {
	for i := len(ids) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// Question returns the index-th question of the user's paper, or nil when
// index is out of range or the question no longer exists.
func (e *Engine) Question(ctx context.Context, user *model.User, subject string, index int) (*model.QuestionView, error) {
	if err := e.requireActive(ctx); err != nil {
		return nil, err
	}
	subject = strings.TrimSpace(subject)
	ids, err := e.AssignPaper(ctx, user, subject)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ids) {
		return nil, nil
	}
	qs, err := e.store.QuestionsByIDs(ctx, ids[index:index+1])
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	d, ok := qs[ids[index]]
	if !ok {
		return nil, nil
	}
	return &model.QuestionView{
		ID:              d.ID,
		Subject:         d.Subject,
		Question:        d.Text,
		Options:         d.Options,
		OptionImages:    d.OptionImages,
		Total:           len(ids),
		ImageURL:        d.ImageURL,
		PassageID:       d.PassageID,
		PassageText:     d.PassageText,
		InstructionText: d.InstructionText,
	}, nil
}

// Status returns the submission state for the user and subject.
func (e *Engine) Status(ctx context.Context, user *model.User, subject string) (*model.SubmissionStatus, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, model.ErrSubjectRequired
	}
	return e.store.SubmissionStatus(ctx, user.ID, subject)
}

// Submit scores answers against the user's paper and records the result.
// A subject can be submitted once; later attempts return
// model.ErrAlreadySubmitted.
func (e *Engine) Submit(ctx context.Context, user *model.User, subject string, answers map[string]string) (*model.SubmitResult, error) {
	if err := e.requireActive(ctx); err != nil {
		return nil, err
	}
	subject = strings.TrimSpace(subject)
	st, err := e.Status(ctx, user, subject)
	if err != nil {
		return nil, err
	}
	if st.Submitted {
		return nil, model.ErrAlreadySubmitted
	}
	ids, err := e.AssignPaper(ctx, user, subject)
	if err != nil {
		return nil, err
	}
	correct, err := e.store.CorrectAnswers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load answer key: %w", err)
	}
	if answers == nil {
		answers = map[string]string{}
	}

	score := Score(ids, correct, answers)
	res := &model.SubmitResult{Score: score, Total: len(ids), Percentage: Percentage(score, len(ids))}
	err = e.store.RecordSubmission(ctx, model.Submission{
		UserID:      user.ID,
		Username:    strings.ToLower(user.Username),
		DisplayName: user.Name(),
		Subject:     subject,
		Answers:     answers,
		Score:       res.Score,
		Total:       res.Total,
		Percentage:  res.Percentage,
		SubmittedAt: e.now(),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("exam submitted", "user", user.Username, "subject", subject,
		"score", res.Score, "total", res.Total)
	return res, nil
}
