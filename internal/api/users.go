package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ListUsers pages through stored users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil || limit <= 0 || limit > 1000 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}

	users, err := h.Store.ListUsers(r.Context(), offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":  users,
		"count":  len(users),
		"offset": offset,
	})
}

// GetUser returns one stored user with its label.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GetTimeline returns a user's stored timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.Store.GetTimeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetFeatures returns a user's feature vector, from the cache when fresh.
func (h *Handler) GetFeatures(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	at, err := asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "asOf must be an RFC 3339 timestamp")
		return
	}

	vec, err := h.Pipeline.Vector(r.Context(), userID, at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   userID,
		"features": vec,
	})
}

// AssessUser scores a stored timeline synchronously.
func (h *Handler) AssessUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	at, err := asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "asOf must be an RFC 3339 timestamp")
		return
	}

	res, err := h.Pipeline.Assess(r.Context(), userID, at, GetTraceID(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(res.Assessment, res.Vector.Map()))
}

// GetAssessment returns a stored assessment.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Store.GetAssessment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) response(a *domain.Assessment, features map[string]float64) *domain.AssessmentResponse {
	resp := a.ToResponse()
	resp.Reasons = decision.Reasons(a)
	resp.Features = features
	return resp
}
