package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/examportal/internal/account"
	"github.com/pavelanni/examportal/internal/exam"
	appI18n "github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/ingest"
	"github.com/pavelanni/examportal/internal/metrics"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/sheets"
	"github.com/pavelanni/examportal/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exam     *exam.Engine
	accounts *account.Service
	importer *ingest.Importer
	metrics  *metrics.Metrics
	config   model.ExamConfig

	validate *validator.Validate
	logins   *loginLimiter
}

// New creates a new Handler.
func New(s *store.Store, e *exam.Engine, a *account.Service, im *ingest.Importer, m *metrics.Metrics, cfg model.ExamConfig) (*Handler, error) {
	if s == nil || e == nil || a == nil || im == nil || m == nil {
		return nil, fmt.Errorf("handler: missing dependency")
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    s,
		exam:     e,
		accounts: a,
		importer: im,
		metrics:  m,
		config:   cfg,
		validate: v,
		logins:   newLoginLimiter(cfg.LoginRate, cfg.LoginBurst),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	if h.config.MediaDir != "" {
		prefix := strings.TrimSuffix(h.config.MediaURLPrefix, "/")
		if prefix == "" {
			prefix = "/media"
		}
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(h.config.MediaDir))))
	}

	r.Route("/api", func(r chi.Router) {
		r.With(h.throttleLogins).Post("/auth/login", h.handleLogin)
		r.Post("/auth/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)

			r.Post("/questions/get-question", h.handleGetQuestion)
			r.Post("/exam/submit", h.handleSubmit)
			r.Post("/exam/get-active-subject", h.handleActiveSubject)
			r.Post("/exam/status", h.handleStatus)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/get-config", h.handleGetConfig)

				r.Group(func(r chi.Router) {
					r.Use(h.requireAdmin)

					r.Post("/create-user", h.handleCreateUser)
					r.Post("/bulk-create-users", h.handleBulkCreateUsers)
					r.Post("/get-users", h.handleGetUsers)
					r.Post("/delete-user", h.handleDeleteUser)
					r.Post("/set-user-active", h.handleSetUserActive)
					r.Post("/delete-all-students", h.handleDeleteAllStudents)

					r.Post("/upload-questions", h.handleUploadQuestions)
					r.Post("/upload-word-questions", h.handleUploadWordQuestions)
					r.Post("/import-google-sheet", h.handleImportSheet)
					r.Post("/get-uploads", h.handleGetUploads)
					r.Post("/delete-upload", h.handleDeleteUpload)
					r.Post("/get-question-count", h.handleQuestionCount)
					r.Post("/clear-questions", h.handleClearQuestions)

					r.Post("/set-exam-active", h.handleSetExamActive)
					r.Post("/set-total-questions", h.handleSetTotalQuestions)
					r.Post("/set-active-subject", h.handleSetActiveSubject)

					r.Post("/get-summary", h.handleGetSummary)
					r.Post("/export-csv", h.handleExportCSV)
					r.Post("/get-result-details", h.handleResultDetails)
					r.Post("/get-analytics", h.handleAnalytics)
				})
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// fail writes a localized error message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	writeJSON(w, status, failure{Message: appI18n.Td(r.Context(), msgID, data)})
}

// respondError maps domain errors to status codes and messages. Anything
// unrecognised is logged and reported as a server error.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var pool *model.PoolError
	switch {
	case errors.As(err, &pool):
		h.fail(w, r, http.StatusConflict, "NotEnoughQuestions",
			map[string]any{"Subject": pool.Subject, "Need": pool.Need, "Have": pool.Have})
	case errors.Is(err, model.ErrExamDisabled):
		h.fail(w, r, http.StatusConflict, "ExamDisabled", nil)
	case errors.Is(err, model.ErrAlreadySubmitted):
		h.fail(w, r, http.StatusConflict, "AlreadySubmitted", nil)
	case errors.Is(err, model.ErrSubjectRequired):
		h.fail(w, r, http.StatusBadRequest, "SubjectRequired", nil)
	case errors.Is(err, model.ErrUserExists):
		h.fail(w, r, http.StatusConflict, "UserExists", nil)
	case errors.Is(err, model.ErrProtectedUser):
		h.fail(w, r, http.StatusForbidden, "CannotDeleteAdmin", nil)
	case errors.Is(err, sheets.ErrInvalidURL):
		h.fail(w, r, http.StatusBadRequest, "SheetURLInvalid", nil)
	case errors.Is(err, sheets.ErrUnavailable):
		h.fail(w, r, http.StatusBadGateway, "SheetUnavailable", nil)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		h.fail(w, r, http.StatusInternalServerError, "ServerError", nil)
	}
}

// decode reads a JSON body into dst and validates it. On failure the
// response has been written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.fail(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Detail": "malformed JSON"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.fail(w, r, http.StatusBadRequest, "InvalidRequest", map[string]any{"Detail": validationDetail(err)})
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
