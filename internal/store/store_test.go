package store

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, subject, text, answer string) int64 {
	t.Helper()
	id, err := s.InsertQuestion(context.Background(), model.Question{
		Subject:       subject,
		Text:          text,
		Options:       [4]string{"one", "two", "three", "four"},
		CorrectAnswer: answer,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func createTestUser(t *testing.T, s *Store, username string, role model.UserRole) int64 {
	t.Helper()
	id, err := s.CreateUser(context.Background(), model.User{
		Username:     username,
		DisplayName:  "Name " + username,
		PasswordHash: "hash",
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestUser: %v", err)
	}
	return id
}

func TestSeededSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		key  string
		want string
	}{
		{model.SettingExamActive, "TRUE"},
		{model.SettingTotalQuestions, "50"},
		{model.SettingActiveSubject, "EVS"},
		{model.SettingAdminUsers, "admin"},
	}
	for _, tt := range tests {
		got, ok, err := s.Setting(ctx, tt.key)
		if err != nil {
			t.Fatalf("Setting(%q): %v", tt.key, err)
		}
		if !ok || got != tt.want {
			t.Errorf("Setting(%q) = %q, %v; want %q, true", tt.key, got, ok, tt.want)
		}
	}

	if _, ok, _ := s.Setting(ctx, "Missing"); ok {
		t.Error("expected missing key to report ok=false")
	}

	if err := s.SetSetting(ctx, model.SettingTotalQuestions, "10"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if got, _, _ := s.Setting(ctx, model.SettingTotalQuestions); got != "10" {
		t.Errorf("expected 10 after update, got %q", got)
	}

	// Re-seeding must not clobber stored values.
	if err := s.seedSettings(ctx); err != nil {
		t.Fatalf("seedSettings: %v", err)
	}
	if got, _, _ := s.Setting(ctx, model.SettingTotalQuestions); got != "10" {
		t.Errorf("seed overwrote setting: got %q", got)
	}
}

func TestAdminUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetSetting(ctx, model.SettingAdminUsers, " Alice, ,bob "); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.AddAdminUser(ctx, "ALICE"); err != nil {
		t.Fatalf("AddAdminUser: %v", err)
	}
	if err := s.AddAdminUser(ctx, "carol"); err != nil {
		t.Fatalf("AddAdminUser: %v", err)
	}
	names, err := s.AdminUsers(ctx)
	if err != nil {
		t.Fatalf("AdminUsers: %v", err)
	}
	if strings.Join(names, ",") != "alice,bob,carol" {
		t.Errorf("unexpected admin users %v", names)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := createTestUser(t, s, "Student1", model.UserRoleStudent)

	u, err := s.GetUserByUsername(ctx, "STUDENT1")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("expected user %d, got %+v", id, u)
	}
	if u.Username != "student1" {
		t.Errorf("expected lowercased username, got %q", u.Username)
	}

	_, err = s.CreateUser(ctx, model.User{Username: "student1", PasswordHash: "x"})
	if !errors.Is(err, model.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	missing, err := s.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing user; got %v, %v", missing, err)
	}

	if err := s.SetUserActive(ctx, id, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	u, _ = s.GetUserByID(ctx, id)
	if u.Active {
		t.Error("expected user to be inactive")
	}

	createTestUser(t, s, "admin", model.UserRoleAdmin)
	count, _ := s.UserCount(ctx)
	students, _ := s.StudentCount(ctx)
	if count != 2 || students != 1 {
		t.Errorf("expected 2 users / 1 student, got %d / %d", count, students)
	}
}

func TestDeleteUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	adminID := createTestUser(t, s, "admin", model.UserRoleAdmin)
	sid := createTestUser(t, s, "s1", model.UserRoleStudent)
	q := insertTestQuestion(t, s, "EVS", "q", "A")

	if _, err := s.CreateAssignment(ctx, sid, "EVS", []int64{q}); err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if err := s.RecordSubmission(ctx, model.Submission{
		UserID: sid, Username: "s1", Subject: "EVS",
		Answers: map[string]string{"1": "A"}, Score: 1, Total: 1,
		Percentage: "100.00", SubmittedAt: time.Now(),
	}); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	if _, err := s.DeleteUser(ctx, adminID); !errors.Is(err, model.ErrProtectedUser) {
		t.Errorf("expected ErrProtectedUser, got %v", err)
	}
	if _, err := s.DeleteUser(ctx, 999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	deleted, err := s.DeleteUser(ctx, sid)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if deleted.Username != "s1" {
		t.Errorf("expected s1, got %q", deleted.Username)
	}

	ids, _ := s.Assignment(ctx, sid, "EVS")
	if ids != nil {
		t.Errorf("expected assignment removed, got %v", ids)
	}
	resp, _ := s.ListResponses(ctx)
	grades, _ := s.ListGrades(ctx)
	if len(resp) != 0 || len(grades) != 0 {
		t.Errorf("expected results removed, got %d responses %d grades", len(resp), len(grades))
	}
}

func TestDeleteAllStudents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, s, "admin", model.UserRoleAdmin)
	createTestUser(t, s, "s1", model.UserRoleStudent)
	createTestUser(t, s, "s2", model.UserRoleStudent)

	n, err := s.DeleteAllStudents(ctx)
	if err != nil {
		t.Fatalf("DeleteAllStudents: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 || users[0].Role != model.UserRoleAdmin {
		t.Errorf("expected only admin left, got %+v", users)
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "s1", model.UserRoleStudent)

	token, err := s.CreateAuthSession(ctx, uid, time.Hour)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(token) != 32 {
		t.Errorf("expected 32-char token, got %q", token)
	}
	sess, err := s.GetAuthSession(ctx, token)
	if err != nil || sess == nil || sess.UserID != uid {
		t.Fatalf("GetAuthSession = %+v, %v", sess, err)
	}

	expired, err := s.CreateAuthSession(ctx, uid, -time.Minute)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if sess, _ := s.GetAuthSession(ctx, expired); sess != nil {
		t.Error("expected expired session to be rejected")
	}

	if _, err := s.CreateAuthSession(ctx, uid, -time.Minute); err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	n, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session cleaned, got %d", n)
	}

	if err := s.DeleteAuthSession(ctx, token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if sess, _ := s.GetAuthSession(ctx, token); sess != nil {
		t.Error("expected deleted session to be gone")
	}
}

func TestImportBatchAndDeleteUpload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := model.ImportBatch{
		Filename: "english.docx",
		Subject:  "English",
		Source:   model.SourceWord,
		Passages: []model.PassageRecord{{Ref: 1, Text: "Once upon a time", Type: "prose"}},
		Questions: []model.QuestionRecord{
			{Subject: "English", Text: "Who?", Options: [4]string{"a", "b", "c", "d"}, CorrectAnswer: "A", PassageRef: 1},
			{Subject: "English", Text: "What?", Options: [4]string{"a", "b", "c", "d"}, CorrectAnswer: "B"},
		},
	}
	up, err := s.ImportBatch(ctx, batch)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if up.ID == 0 || up.QuestionCount != 2 {
		t.Fatalf("unexpected upload %+v", up)
	}

	// A question inserted outside any batch must survive DeleteUpload.
	other := insertTestQuestion(t, s, "English", "standalone", "C")

	ids, err := s.QuestionIDsBySubject(ctx, "english")
	if err != nil {
		t.Fatalf("QuestionIDsBySubject: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(ids))
	}

	details, err := s.QuestionsByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("QuestionsByIDs: %v", err)
	}
	var withPassage int
	for _, d := range details {
		if d.PassageID != nil {
			withPassage++
			if d.PassageText != "Once upon a time" {
				t.Errorf("expected passage text, got %q", d.PassageText)
			}
		}
		if d.UploadID == nil && d.ID != other {
			t.Errorf("question %d missing upload id", d.ID)
		}
	}
	if withPassage != 1 {
		t.Errorf("expected 1 question with passage, got %d", withPassage)
	}

	uploads, _ := s.ListUploads(ctx)
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploads))
	}

	if _, err := s.DeleteUpload(ctx, up.ID); err != nil {
		t.Fatalf("DeleteUpload: %v", err)
	}
	ids, _ = s.QuestionIDsBySubject(ctx, "English")
	if len(ids) != 1 || ids[0] != other {
		t.Errorf("expected only standalone question left, got %v", ids)
	}
	_, passages, _ := s.QuestionCounts(ctx)
	if passages != 0 {
		t.Errorf("expected passages removed, got %d", passages)
	}
	if _, err := s.DeleteUpload(ctx, up.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	empty, err := s.ImportBatch(ctx, model.ImportBatch{Filename: "empty.docx", Subject: "English"})
	if err != nil || empty != nil {
		t.Errorf("expected nil upload for empty batch, got %+v, %v", empty, err)
	}
}

func TestQuestionIDsBySubjectMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestQuestion(t, s, "Science", "q1", "A")
	insertTestQuestion(t, s, "Social Science", "q2", "A")
	insertTestQuestion(t, s, "Maths", "q3", "A")
	insertTestQuestion(t, s, "100% Maths", "q4", "A")

	tests := []struct {
		subject string
		want    int
	}{
		{"science", 2},
		{"SCIENCE", 2},
		{"Maths", 2},
		{"100%", 1},
		{"%", 1},
		{"_", 0},
		{"History", 0},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			ids, err := s.QuestionIDsBySubject(ctx, tt.subject)
			if err != nil {
				t.Fatalf("QuestionIDsBySubject: %v", err)
			}
			if len(ids) != tt.want {
				t.Errorf("got %d ids, want %d", len(ids), tt.want)
			}
		})
	}
}

func TestClearQuestions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insertTestQuestion(t, s, "EVS", "q1", "A")
	insertTestQuestion(t, s, "EVS", "q2", "A")
	insertTestQuestion(t, s, "Maths", "q3", "A")

	n, err := s.ClearQuestions(ctx, "EVS")
	if err != nil {
		t.Fatalf("ClearQuestions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	counts, _, _ := s.QuestionCounts(ctx)
	if len(counts) != 1 || counts[0].Subject != "Maths" || counts[0].Count != 1 {
		t.Errorf("unexpected counts %+v", counts)
	}

	if _, err := s.ClearQuestions(ctx, "all"); err != nil {
		t.Fatalf("ClearQuestions(all): %v", err)
	}
	counts, _, _ = s.QuestionCounts(ctx)
	if len(counts) != 0 {
		t.Errorf("expected empty bank, got %+v", counts)
	}
}

func TestCreateAssignmentKeepsFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "s1", model.UserRoleStudent)

	first, err := s.CreateAssignment(ctx, uid, "EVS", []int64{3, 1, 2})
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	second, err := s.CreateAssignment(ctx, uid, "EVS", []int64{9, 8, 7})
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	if !equalIDs(first, []int64{3, 1, 2}) || !equalIDs(second, first) {
		t.Errorf("expected first paper kept, got %v then %v", first, second)
	}

	other, _ := s.CreateAssignment(ctx, uid, "Maths", []int64{5})
	if !equalIDs(other, []int64{5}) {
		t.Errorf("expected separate paper per subject, got %v", other)
	}
}

func TestCreateAssignmentConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "s1", model.UserRoleStudent)

	const n = 8
	results := make([][]int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := s.CreateAssignment(ctx, uid, "EVS", []int64{int64(i), int64(i + 100)})
			if err != nil {
				t.Errorf("CreateAssignment: %v", err)
				return
			}
			results[i] = ids
		}()
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		if !equalIDs(results[i], results[0]) {
			t.Fatalf("callers saw different papers: %v vs %v", results[i], results[0])
		}
	}
}

func TestRecordSubmissionOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "s1", model.UserRoleStudent)

	st, err := s.SubmissionStatus(ctx, uid, "EVS")
	if err != nil {
		t.Fatalf("SubmissionStatus: %v", err)
	}
	if st.Submitted {
		t.Fatal("expected not submitted")
	}

	sub := model.Submission{
		UserID: uid, Username: "s1", DisplayName: "Student One", Subject: "EVS",
		Answers: map[string]string{"1": "A", "2": "C"}, Score: 1, Total: 2,
		Percentage: "50.00", SubmittedAt: time.Now(),
	}
	if err := s.RecordSubmission(ctx, sub); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}
	if err := s.RecordSubmission(ctx, sub); !errors.Is(err, model.ErrAlreadySubmitted) {
		t.Errorf("expected ErrAlreadySubmitted, got %v", err)
	}

	st, _ = s.SubmissionStatus(ctx, uid, "EVS")
	if !st.Submitted || st.Score != 1 || st.Total != 2 || st.SubmittedAt == nil {
		t.Errorf("unexpected status %+v", st)
	}

	responses, _ := s.ListResponses(ctx)
	if len(responses) != 1 {
		t.Fatalf("expected exactly 1 response, got %d", len(responses))
	}
	if responses[0].Answers["2"] != "C" {
		t.Errorf("answers not round-tripped: %v", responses[0].Answers)
	}
	latest, _ := s.LatestResponse(ctx, "S1", "EVS")
	if latest == nil || latest.ID != responses[0].ID {
		t.Errorf("LatestResponse = %+v", latest)
	}
	grades, _ := s.ListGrades(ctx)
	if len(grades) != 1 || grades[0].Percentage != "50.00" || grades[0].DisplayName != "Student One" {
		t.Errorf("unexpected grades %+v", grades)
	}
}

func TestRecordSubmissionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := createTestUser(t, s, "s1", model.UserRoleStudent)

	sub := model.Submission{
		UserID: uid, Username: "s1", DisplayName: "Student One", Subject: "EVS",
		Answers: map[string]string{"1": "A"}, Score: 1, Total: 1,
		Percentage: "100.00", SubmittedAt: time.Now(),
	}

	// Make the last write of the transaction fail.
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE grades RENAME TO grades_away`); err != nil {
		t.Fatalf("rename grades: %v", err)
	}
	if err := s.RecordSubmission(ctx, sub); err == nil {
		t.Fatal("expected error when grades table is missing")
	}

	st, err := s.SubmissionStatus(ctx, uid, "EVS")
	if err != nil {
		t.Fatalf("SubmissionStatus: %v", err)
	}
	if st.Submitted {
		t.Error("submission status written despite failed transaction")
	}
	responses, _ := s.ListResponses(ctx)
	if len(responses) != 0 {
		t.Errorf("expected no responses after rollback, got %d", len(responses))
	}

	if _, err := s.db.ExecContext(ctx, `ALTER TABLE grades_away RENAME TO grades`); err != nil {
		t.Fatalf("restore grades: %v", err)
	}
	if err := s.RecordSubmission(ctx, sub); err != nil {
		t.Fatalf("RecordSubmission after restore: %v", err)
	}
	st, _ = s.SubmissionStatus(ctx, uid, "EVS")
	if !st.Submitted {
		t.Error("expected submitted after retry")
	}
	grades, _ := s.ListGrades(ctx)
	if len(grades) != 1 {
		t.Errorf("expected 1 grade, got %d", len(grades))
	}
}

func TestBuildAnalytics(t *testing.T) {
	empty := BuildAnalytics(3, nil)
	if empty.TotalExams != 0 || empty.AvgScore != "0.0" || empty.PassRate != "0.0" {
		t.Errorf("unexpected empty analytics %+v", empty)
	}
	if len(empty.Distribution) != 5 {
		t.Errorf("expected 5 buckets, got %v", empty.Distribution)
	}

	grades := []model.Grade{
		{Username: "a", Subject: "EVS", Score: 10, Percentage: "100.00"},
		{Username: "b", Subject: "EVS", Score: 4, Percentage: "40.00"},
		{Username: "c", Subject: "Maths", Score: 1, Percentage: "10.00"},
		{Username: "d", Subject: "Maths", Score: 7, Percentage: "70.00"},
	}
	a := BuildAnalytics(4, grades)
	if a.AvgScore != "55.0" {
		t.Errorf("AvgScore = %s, want 55.0", a.AvgScore)
	}
	if a.PassRate != "75.0" {
		t.Errorf("PassRate = %s, want 75.0", a.PassRate)
	}
	wantDist := map[string]int{"0-20": 1, "21-40": 1, "41-60": 0, "61-80": 1, "81-100": 1}
	for k, v := range wantDist {
		if a.Distribution[k] != v {
			t.Errorf("Distribution[%s] = %d, want %d", k, a.Distribution[k], v)
		}
	}
	if a.SubjectStats["EVS"].AvgPercentage != 70 || a.SubjectStats["Maths"].Count != 2 {
		t.Errorf("unexpected subject stats %+v", a.SubjectStats)
	}
	if len(a.TopPerformers) != 4 || a.TopPerformers[0].DisplayName != "a" {
		t.Errorf("unexpected top performers %+v", a.TopPerformers)
	}
	if len(a.LowPerformers) != 1 || a.LowPerformers[0].DisplayName != "c" {
		t.Errorf("expected only c below the pass mark, got %+v", a.LowPerformers)
	}
}

func TestWriteResponsesCSV(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	responses := []model.Response{
		{Username: "s1", Subject: "EVS", Score: 1, Answers: map[string]string{"2": "B"}, SubmittedAt: ts},
		{Username: `say "hi"`, Subject: "EVS", Score: 0, Answers: map[string]string{}, SubmittedAt: ts},
	}
	var buf bytes.Buffer
	if err := WriteResponsesCSV(&buf, responses); err != nil {
		t.Fatalf("WriteResponsesCSV: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	tests := []struct {
		line int
		want string
	}{
		{0, `"Timestamp","Username","Subject","Score","Answers"`},
		{1, `"2024-03-01T10:00:00.000Z","s1","EVS","1","{""2"":""B""}"`},
		{2, `"2024-03-01T10:00:00.000Z","say ""hi""","EVS","0","{}"`},
	}
	for _, tt := range tests {
		if lines[tt.line] != tt.want {
			t.Errorf("line %d = %s, want %s", tt.line, lines[tt.line], tt.want)
		}
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
