package exam

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/examportal/internal/model"
)

// ResultDetails rebuilds a student's latest submission for subject question
// by question. Questions come from the stored paper, or from the answered
// ids when the student has no paper. It returns nil when nothing was
// submitted.
func (e *Engine) ResultDetails(ctx context.Context, username, subject string) (*model.ResultDetails, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	subject = strings.TrimSpace(subject)
	resp, err := e.store.LatestResponse(ctx, username, subject)
	if err != nil {
		return nil, fmt.Errorf("load response: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	var ids []int64
	user, err := e.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user != nil {
		if ids, err = e.store.Assignment(ctx, user.ID, subject); err != nil {
			return nil, fmt.Errorf("load assignment: %w", err)
		}
	}
	if len(ids) == 0 {
		ids = answeredIDs(resp.Answers)
	}

	qs, err := e.store.QuestionsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	out := &model.ResultDetails{Details: []model.ResultDetail{}, Score: resp.Score, Total: len(ids)}
	for i, id := range ids {
		q, ok := qs[id]
		if !ok {
			continue
		}
		given := resp.Answers[strconv.FormatInt(id, 10)]
		out.Details = append(out.Details, model.ResultDetail{
			QNo:           i + 1,
			Question:      q.Text,
			Passage:       q.PassageText,
			OptionA:       q.Options[0],
			OptionB:       q.Options[1],
			OptionC:       q.Options[2],
			OptionD:       q.Options[3],
			CorrectAnswer: model.NormalizeAnswer(q.CorrectAnswer),
			StudentAnswer: model.NormalizeAnswer(given),
			IsCorrect:     answerMatches(given, q.CorrectAnswer),
		})
	}
	return out, nil
}

func answeredIDs(answers map[string]string) []int64 {
	ids := make([]int64, 0, len(answers))
	for k := range answers {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
