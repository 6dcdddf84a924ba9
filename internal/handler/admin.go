package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pavelanni/examportal/internal/account"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/ingest"
	"github.com/pavelanni/examportal/internal/ingest/blocks"
	"github.com/pavelanni/examportal/internal/ingest/tabular"
	"github.com/pavelanni/examportal/internal/model"
)

const defaultMaxUploadMB = 20

type createUserRequest struct {
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName"`
	IsAdmin     bool   `json:"isAdmin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		h.fail(w, r, http.StatusBadRequest, "UsernameRequired", nil)
		return
	}
	u, err := h.accounts.Create(r.Context(), account.NewUser{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Admin:       req.IsAdmin,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})
}

type bulkUsersRequest struct {
	CSVText        string `json:"csvText" validate:"required"`
	PasswordPrefix string `json:"passwordPrefix"`
}

func (h *Handler) handleBulkCreateUsers(w http.ResponseWriter, r *http.Request) {
	var req bulkUsersRequest
	if !h.decode(w, r, &req) {
		return
	}
	rows := tabular.ParseUsers(tabular.ReadCSV(req.CSVText), req.PasswordPrefix)
	results, created := h.accounts.BulkCreate(r.Context(), rows)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results, "created": created})
}

type userListItem struct {
	model.User
	IsAdmin bool `json:"isAdmin"`
}

func (h *Handler) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]userListItem, 0, len(users))
	for _, u := range users {
		isAdmin, err := h.accounts.IsAdmin(r.Context(), &u)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		out = append(out, userListItem{User: u, IsAdmin: isAdmin})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": out})
}

type deleteUserRequest struct {
	UserID   int64  `json:"userId" validate:"required_without=Username"`
	Username string `json:"username" validate:"required_without=UserID"`
}

// studentTarget resolves a user by id or username and refuses admins with
// protectedMsg. It writes the failure response itself and returns nil then.
func (h *Handler) studentTarget(w http.ResponseWriter, r *http.Request, id int64, username, protectedMsg string) *model.User {
	var (
		target *model.User
		err    error
	)
	if id != 0 {
		target, err = h.store.GetUserByID(r.Context(), id)
	} else {
		target, err = h.store.GetUserByUsername(r.Context(), username)
	}
	if err != nil {
		h.respondError(w, r, err)
		return nil
	}
	if target == nil {
		h.fail(w, r, http.StatusNotFound, "UserNotFound", nil)
		return nil
	}
	isAdmin, err := h.accounts.IsAdmin(r.Context(), target)
	if err != nil {
		h.respondError(w, r, err)
		return nil
	}
	if isAdmin {
		h.fail(w, r, http.StatusForbidden, protectedMsg, nil)
		return nil
	}
	return target
}

// handleDeleteUser removes a student with their responses, grades and
// assignments. Admins cannot be deleted.
func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req deleteUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	target := h.studentTarget(w, r, req.UserID, req.Username, "CannotDeleteAdmin")
	if target == nil {
		return
	}

	deleted, err := h.store.DeleteUser(r.Context(), target.ID)
	if errors.Is(err, model.ErrNotFound) {
		h.fail(w, r, http.StatusNotFound, "UserNotFound", nil)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted.Username})
}

type setUserActiveRequest struct {
	UserID   int64  `json:"userId" validate:"required_without=Username"`
	Username string `json:"username" validate:"required_without=UserID"`
	Active   *bool  `json:"active" validate:"required"`
}

// handleSetUserActive enables or disables a student's login. Disabled
// students keep their results; their open sessions stop working at once.
func (h *Handler) handleSetUserActive(w http.ResponseWriter, r *http.Request) {
	var req setUserActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	target := h.studentTarget(w, r, req.UserID, req.Username, "CannotDisableAdmin")
	if target == nil {
		return
	}
	err := h.store.SetUserActive(r.Context(), target.ID, *req.Active)
	if errors.Is(err, model.ErrNotFound) {
		h.fail(w, r, http.StatusNotFound, "UserNotFound", nil)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	slog.Info("user active changed", "username", target.Username, "active", *req.Active)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "username": target.Username, "active": *req.Active})
}

func (h *Handler) handleDeleteAllStudents(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.DeleteAllStudents(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": n,
		"message": appI18n.Tp(r.Context(), "StudentsDeleted", int(n), nil),
	})
}

type uploadQuestionsRequest struct {
	CSVText  string `json:"csvText" validate:"required"`
	Subject  string `json:"subject"`
	Filename string `json:"filename"`
}

func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	var req uploadQuestionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := h.importer.ImportCSV(r.Context(), req.Filename, req.Subject, req.CSVText)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.metrics.Imported(string(model.SourceCSV), rep.Added)
	h.writeReport(w, r, rep)
}

type wordUploadRequest struct {
	WordBase64 string `json:"wordBase64" validate:"required"`
	Subject    string `json:"subject" validate:"required"`
	Filename   string `json:"filename"`
}

// handleUploadWordQuestions accepts a .docx (or its HTML rendering) either
// as a multipart "file" field or base64 encoded in JSON.
func (h *Handler) handleUploadWordQuestions(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.config.MaxUploadMB << 20
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadMB << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var filename, subject string
	var data []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			h.fail(w, r, http.StatusRequestEntityTooLarge, "FileTooLarge", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			h.fail(w, r, http.StatusBadRequest, "WordFileRequired", nil)
			return
		}
		defer file.Close()
		if data, err = io.ReadAll(file); err != nil {
			h.respondError(w, r, err)
			return
		}
		filename, subject = header.Filename, r.FormValue("subject")
	} else {
		var req wordUploadRequest
		if !h.decode(w, r, &req) {
			return
		}
		payload := req.WordBase64
		if strings.HasPrefix(payload, "data:") {
			_, payload, _ = strings.Cut(payload, ",")
		}
		var err error
		if data, err = base64.StdEncoding.DecodeString(payload); err != nil {
			h.fail(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Detail": "wordBase64 is not valid base64"})
			return
		}
		filename, subject = req.Filename, req.Subject
	}
	if len(data) == 0 || strings.TrimSpace(subject) == "" {
		h.fail(w, r, http.StatusBadRequest, "WordFileRequired", nil)
		return
	}

	var rep *ingest.Report
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		rep, err = h.importer.ImportHTML(r.Context(), filename, subject, data)
	default:
		rep, err = h.importer.ImportDocx(r.Context(), filename, subject, data)
	}
	if errors.Is(err, blocks.ErrInvalidDocument) {
		h.fail(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Detail": err.Error()})
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.metrics.Imported(string(model.SourceWord), rep.Added)
	h.writeReport(w, r, rep)
}

type sheetRequest struct {
	SheetURL string `json:"sheetUrl"`
}

func (h *Handler) handleImportSheet(w http.ResponseWriter, r *http.Request) {
	var req sheetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SheetURL) == "" {
		h.fail(w, r, http.StatusBadRequest, "SheetURLRequired", nil)
		return
	}
	rep, err := h.importer.ImportSheet(r.Context(), strings.TrimSpace(req.SheetURL))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.metrics.Imported(string(model.SourceSheet), rep.Added)
	h.writeReport(w, r, rep)
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, rep *ingest.Report) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"added":    rep.Added,
		"skipped":  rep.Skipped,
		"passages": rep.Passages,
		"upload":   rep.Upload,
		"message":  appI18n.Tp(r.Context(), "QuestionsAdded", rep.Added, nil),
	})
}

func (h *Handler) handleGetUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.store.ListUploads(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "uploads": uploads})
}

type uploadIDRequest struct {
	UploadID int64 `json:"uploadId" validate:"required,gt=0"`
}

func (h *Handler) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadIDRequest
	if !h.decode(w, r, &req) {
		return
	}
	up, err := h.store.DeleteUpload(r.Context(), req.UploadID)
	if errors.Is(err, model.ErrNotFound) {
		h.fail(w, r, http.StatusNotFound, "UploadNotFound", nil)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": appI18n.Td(r.Context(), "DeletedUpload", map[string]any{"Filename": up.Filename, "Count": up.QuestionCount}),
	})
}

func (h *Handler) handleQuestionCount(w http.ResponseWriter, r *http.Request) {
	counts, passages, err := h.store.QuestionCounts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "counts": counts, "passageCount": passages})
}

func (h *Handler) handleClearQuestions(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.store.ClearQuestions(r.Context(), req.Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	msg := appI18n.Td(r.Context(), "ClearedAll", nil)
	if req.Subject != "" && req.Subject != "all" {
		msg = appI18n.Td(r.Context(), "ClearedSubject", map[string]any{"Subject": req.Subject})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n, "message": msg})
}

type examActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) handleSetExamActive(w http.ResponseWriter, r *http.Request) {
	var req examActiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	v := "FALSE"
	if *req.Active {
		v = "TRUE"
	}
	if err := h.store.SetSetting(r.Context(), model.SettingExamActive, v); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "examActive": *req.Active})
}

type totalQuestionsRequest struct {
	Total int `json:"total"`
}

func (h *Handler) handleSetTotalQuestions(w http.ResponseWriter, r *http.Request) {
	var req totalQuestionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Total < 1 {
		h.fail(w, r, http.StatusBadRequest, "InvalidNumber", nil)
		return
	}
	if err := h.store.SetSetting(r.Context(), model.SettingTotalQuestions, strconv.Itoa(req.Total)); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "total": req.Total})
}

func (h *Handler) handleSetActiveSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		h.fail(w, r, http.StatusBadRequest, "SubjectRequired", nil)
		return
	}
	if err := h.store.SetSetting(r.Context(), model.SettingActiveSubject, subject); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activeSubject": subject})
}

func (h *Handler) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.Summary(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": rows})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	if err := h.store.ExportResponsesCSV(r.Context(), &b); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "csv": b.String()})
}

type resultDetailsRequest struct {
	Username string `json:"username" validate:"required"`
	Subject  string `json:"subject" validate:"required"`
}

type resultDetailsResponse struct {
	Success bool `json:"success"`
	*model.ResultDetails
}

func (h *Handler) handleResultDetails(w http.ResponseWriter, r *http.Request) {
	var req resultDetailsRequest
	if !h.decode(w, r, &req) {
		return
	}
	details, err := h.exam.ResultDetails(r.Context(), req.Username, req.Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if details == nil {
		h.fail(w, r, http.StatusNotFound, "ResponseNotFound", nil)
		return
	}
	writeJSON(w, http.StatusOK, resultDetailsResponse{Success: true, ResultDetails: details})
}

type analyticsResponse struct {
	Success bool `json:"success"`
	*model.Analytics
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Analytics(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsResponse{Success: true, Analytics: a})
}
