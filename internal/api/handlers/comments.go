// comments.go — комментарии и оценки датасетов.
package handlers

import (
	"net/http"

	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
)

type commentRequest struct {
	Text   string `json:"text"`
	Rating *int   `json:"rating"`
}

// ListComments обрабатывает GET /datasets/{id}/comments.
func (h *APIHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	comments, err := h.svc.Engagement.ListComments(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[commentResponse]{Items: toComments(comments)})
}

// AddComment обрабатывает POST /datasets/{id}/comments.
// Оценка необязательна; средняя оценка датасета пересчитывается сервисом.
func (h *APIHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.svc.Engagement.AddComment(r.Context(), middleware.ActorFromContext(r.Context()), id, req.Text, req.Rating)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toComment(c))
}
