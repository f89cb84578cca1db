// moderation.go — действия администратора: валидация и отклонение
// датасетов, назначение ролей.
package handlers

import (
	"net/http"

	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
)

type rejectRequest struct {
	Reason string `json:"reason"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// ValidateDataset обрабатывает POST /admin/datasets/{id}/validate.
func (h *APIHandler) ValidateDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Datasets.Validate(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDataset(d))
}

// RejectDataset обрабатывает POST /admin/datasets/{id}/reject.
// Пустая причина — 400 с полем reason.
func (h *APIHandler) RejectDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.svc.Datasets.Reject(r.Context(), middleware.ActorFromContext(r.Context()), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDataset(d))
}

// SetUserRole обрабатывает PUT /admin/users/{id}/role.
func (h *APIHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.Accounts.SetRole(r.Context(), middleware.ActorFromContext(r.Context()), id, req.Role)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}
