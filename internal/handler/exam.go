package handler

import (
	"errors"
	"net/http"

	"github.com/pavelanni/examportal/internal/model"
)

type questionRequest struct {
	Subject string `json:"subject"`
	Index   int    `json:"index"`
}

// handleGetQuestion returns one question of the student's paper, or null
// past the end of it.
func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if !h.decode(w, r, &req) {
		return
	}
	view, err := h.exam.Question(r.Context(), model.UserFromContext(r.Context()), req.Subject, req.Index)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	Subject string            `json:"subject"`
	Answers map[string]string `json:"answers"`
}

type submitResponse struct {
	Success bool `json:"success"`
	*model.SubmitResult
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.exam.Submit(r.Context(), model.UserFromContext(r.Context()), req.Subject, req.Answers)
	switch {
	case err == nil:
		h.metrics.Submission("ok")
	case errors.Is(err, model.ErrAlreadySubmitted):
		h.metrics.Submission("duplicate")
	case errors.Is(err, model.ErrExamDisabled):
		h.metrics.Submission("disabled")
	default:
		h.metrics.Submission("error")
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Success: true, SubmitResult: res})
}

func (h *Handler) handleActiveSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := h.exam.ActiveSubject(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"subject": subject})
}

type subjectRequest struct {
	Subject string `json:"subject"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !h.decode(w, r, &req) {
		return
	}
	st, err := h.exam.Status(r.Context(), model.UserFromContext(r.Context()), req.Subject)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type configRequest struct {
	Key string `json:"key" validate:"required"`
}

// handleGetConfig returns one Configuration Store value to any logged-in
// user. Missing keys read as an empty string.
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, _, err := h.store.Setting(r.Context(), req.Key)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": v})
}
