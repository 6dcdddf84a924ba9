package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/examportal/internal/model"
)

// Summary lists every response as a results row, newest first.
func (s *Store) Summary(ctx context.Context) ([]model.SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submitted_at, username, subject, score FROM responses ORDER BY submitted_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SummaryRow
	for rows.Next() {
		var r model.SummaryRow
		if err := rows.Scan(&r.Timestamp, &r.Username, &r.Subject, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanResponse(r rowScanner) (*model.Response, error) {
	var resp model.Response
	var raw string
	if err := r.Scan(&resp.ID, &resp.Username, &resp.Subject, &resp.Score, &raw, &resp.SubmittedAt); err != nil {
		return nil, err
	}
	resp.Answers = map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &resp.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for response %d: %w", resp.ID, err)
		}
	}
	return &resp, nil
}

// ListResponses returns the full response log in submission order.
func (s *Store) ListResponses(ctx context.Context) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, subject, score, answers, submitted_at FROM responses ORDER BY submitted_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestResponse returns the most recent response for a user and subject,
// or nil if there is none.
func (s *Store) LatestResponse(ctx context.Context, username, subject string) (*model.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx,
		`SELECT id, username, subject, score, answers, submitted_at FROM responses
		 WHERE username = ? AND subject = ? ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		strings.ToLower(username), subject,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListGrades returns every grade row, newest first.
func (s *Store) ListGrades(ctx context.Context) ([]model.Grade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, display_name, subject, score, percentage, graded_at
		 FROM grades ORDER BY graded_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Grade
	for rows.Next() {
		var g model.Grade
		if err := rows.Scan(&g.ID, &g.Username, &g.DisplayName, &g.Subject, &g.Score, &g.Percentage, &g.GradedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Analytics summarizes all grades for the admin dashboard.
func (s *Store) Analytics(ctx context.Context) (*model.Analytics, error) {
	students, err := s.StudentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}
	grades, err := s.ListGrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return BuildAnalytics(students, grades), nil
}

const performerLimit = 10

// BuildAnalytics computes dashboard statistics from grade rows.
func BuildAnalytics(students int, grades []model.Grade) *model.Analytics {
	a := &model.Analytics{
		TotalStudents: students,
		TotalExams:    len(grades),
		AvgScore:      "0.0",
		PassRate:      "0.0",
		SubjectStats:  map[string]model.SubjectStats{},
		Distribution:  map[string]int{},
		TopPerformers: []model.Performer{},
		LowPerformers: []model.Performer{},
	}
	for _, b := range model.DistributionBuckets {
		a.Distribution[b] = 0
	}
	if len(grades) == 0 {
		return a
	}

	type scored struct {
		g   model.Grade
		pct float64
	}
	all := make([]scored, 0, len(grades))
	var sum float64
	passed := 0
	subjectSums := map[string]float64{}
	for _, g := range grades {
		pct, _ := strconv.ParseFloat(g.Percentage, 64)
		all = append(all, scored{g, pct})
		sum += pct
		if pct >= model.PassPercentage {
			passed++
		}
		subjectSums[g.Subject] += pct
		st := a.SubjectStats[g.Subject]
		st.Count++
		a.SubjectStats[g.Subject] = st
		a.Distribution[bucketFor(pct)]++
	}
	for subj, st := range a.SubjectStats {
		st.AvgPercentage = subjectSums[subj] / float64(st.Count)
		a.SubjectStats[subj] = st
	}
	a.AvgScore = strconv.FormatFloat(sum/float64(len(grades)), 'f', 1, 64)
	a.PassRate = strconv.FormatFloat(float64(passed)*100/float64(len(grades)), 'f', 1, 64)

	sort.SliceStable(all, func(i, j int) bool { return all[i].pct > all[j].pct })
	for i := 0; i < len(all) && i < performerLimit; i++ {
		a.TopPerformers = append(a.TopPerformers, performer(all[i].g))
	}
	for i := len(all) - 1; i >= 0 && len(a.LowPerformers) < performerLimit; i-- {
		if all[i].pct >= model.PassPercentage {
			break
		}
		a.LowPerformers = append(a.LowPerformers, performer(all[i].g))
	}
	return a
}

func bucketFor(pct float64) string {
	switch {
	case pct <= 20:
		return "0-20"
	case pct <= 40:
		return "21-40"
	case pct <= 60:
		return "41-60"
	case pct <= 80:
		return "61-80"
	default:
		return "81-100"
	}
}

func performer(g model.Grade) model.Performer {
	name := g.DisplayName
	if name == "" {
		name = g.Username
	}
	return model.Performer{DisplayName: name, Subject: g.Subject, Score: g.Score, Percentage: g.Percentage}
}

// ExportResponsesCSV writes the response log, newest first, as CSV with
// every cell quoted and the answers column holding the JSON answer map.
func (s *Store) ExportResponsesCSV(ctx context.Context, w io.Writer) error {
	responses, err := s.ListResponses(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(responses, func(i, j int) bool {
		return responses[i].SubmittedAt.After(responses[j].SubmittedAt)
	})
	return WriteResponsesCSV(w, responses)
}

// WriteResponsesCSV renders responses in the export layout.
func WriteResponsesCSV(w io.Writer, responses []model.Response) error {
	rows := [][]string{{"Timestamp", "Username", "Subject", "Score", "Answers"}}
	for _, r := range responses {
		answers, err := json.Marshal(r.Answers)
		if err != nil {
			return err
		}
		rows = append(rows, []string{
			r.SubmittedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			r.Username,
			r.Subject,
			strconv.Itoa(r.Score),
			string(answers),
		})
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		quoted := make([]string, len(row))
		for j, c := range row {
			quoted[j] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
		}
		lines[i] = strings.Join(quoted, ",")
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n"))
	return err
}
