package model

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Setting keys understood by the configuration store.
const (
	SettingExamActive     = "ExamActive"
	SettingTotalQuestions = "TotalQuestionsPerSubject"
	SettingActiveSubject  = "ActiveSubject"
	SettingAdminUsers     = "AdminUsers"
)

// Defaults for settings that are missing or unparsable.
const (
	DefaultTotalQuestions = 50
	DefaultActiveSubject  = "EVS"
)

// UploadSource identifies where an upload batch came from.
type UploadSource string

const (
	SourceWord  UploadSource = "word"
	SourceSheet UploadSource = "sheet"
	SourceCSV   UploadSource = "csv"
)

// Option placeholders written by the document parser.
const (
	ImagePlaceholder = "[Image]"
)

// Question is a stored multiple-choice question.
type Question struct {
	ID              int64     `json:"id"`
	Subject         string    `json:"subject"`
	Text            string    `json:"question_text"`
	Options         [4]string `json:"options"`
	OptionImages    [4]string `json:"option_images"`
	CorrectAnswer   string    `json:"correct_answer"`
	ImageURL        string    `json:"image_url"`
	PassageID       *int64    `json:"passage_id,omitempty"`
	InstructionText string    `json:"instruction_text,omitempty"`
	UploadID        *int64    `json:"upload_id,omitempty"`
}

// QuestionRecord is a parsed question ready to be inserted. PassageRef refers
// to a passage local to the same import (see ImportBatch.Passages).
type QuestionRecord struct {
	Subject         string
	Text            string
	Options         [4]string
	OptionImages    [4]string
	CorrectAnswer   string
	ImageURL        string
	PassageRef      int
	InstructionText string
}

// Passage is a shared reading text referenced by questions.
type Passage struct {
	ID       int64  `json:"id"`
	Subject  string `json:"subject"`
	Text     string `json:"passage_text"`
	Type     string `json:"passage_type"`
	UploadID *int64 `json:"upload_id,omitempty"`
}

// QuestionDetail is a stored question joined with its passage text.
type QuestionDetail struct {
	Question
	PassageText string
}

// PassageRecord is a parsed passage keyed by its import-local reference.
type PassageRecord struct {
	Ref  int
	Text string
	Type string
}

// Upload is a record of one ingestion operation.
type Upload struct {
	ID            int64        `json:"id"`
	Filename      string       `json:"filename"`
	Subject       string       `json:"subject"`
	Source        UploadSource `json:"source"`
	QuestionCount int          `json:"question_count"`
	UploadedAt    time.Time    `json:"uploaded_at"`
}

// ImportBatch is everything a single upload writes to the question store.
type ImportBatch struct {
	Filename  string
	Subject   string
	Source    UploadSource
	Passages  []PassageRecord
	Questions []QuestionRecord
}

// QuestionView is the student-facing rendering of one question in a paper.
// It never carries the correct answer.
type QuestionView struct {
	ID              int64     `json:"id"`
	Subject         string    `json:"subject"`
	Question        string    `json:"question"`
	Options         [4]string `json:"options"`
	OptionImages    [4]string `json:"optionImages"`
	Total           int       `json:"total"`
	ImageURL        string    `json:"imageUrl"`
	PassageID       *int64    `json:"passageId"`
	PassageText     string    `json:"passageText"`
	InstructionText string    `json:"instructionText"`
}

// SubmissionStatus is the per (user, subject) submission state.
type SubmissionStatus struct {
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	Score       int        `json:"score"`
	Total       int        `json:"total"`
}

// Submission is the full set of writes produced by one scored submit.
type Submission struct {
	UserID      int64
	Username    string
	DisplayName string
	Subject     string
	Answers     map[string]string
	Score       int
	Total       int
	Percentage  string
	SubmittedAt time.Time
}

// SubmitResult is returned to the student after scoring.
type SubmitResult struct {
	Score      int    `json:"score"`
	Total      int    `json:"total"`
	Percentage string `json:"percentage"`
}

// Response is one append-only submission log row.
type Response struct {
	ID          int64             `json:"id"`
	Username    string            `json:"username"`
	Subject     string            `json:"subject"`
	Score       int               `json:"score"`
	Answers     map[string]string `json:"answers"`
	SubmittedAt time.Time         `json:"timestamp"`
}

// Grade is the denormalized reporting row written alongside a Response.
type Grade struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Subject     string    `json:"subject"`
	Score       int       `json:"score"`
	Percentage  string    `json:"percentage"`
	GradedAt    time.Time `json:"graded_at"`
}

// ExamConfig holds runtime server parameters set via CLI flags.
type ExamConfig struct {
	SecureCookies  bool          // Set Secure flag on cookies (disable for local dev)
	SessionTTL     time.Duration // Lifetime of a login session
	MaxUploadMB    int64
	LoginRate      float64 // Login attempts per second per client
	LoginBurst     int
	MediaDir       string // Serve stored images from this directory when set
	MediaURLPrefix string
}

// ExamActiveValue reports whether a stored ExamActive value enables the exam.
// Only the exact string "TRUE" does.
func ExamActiveValue(v string) bool {
	return v == "TRUE"
}

// TotalQuestionsValue parses a stored TotalQuestionsPerSubject value, falling
// back to DefaultTotalQuestions for missing, invalid or non-positive values.
func TotalQuestionsValue(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return DefaultTotalQuestions
	}
	return n
}
