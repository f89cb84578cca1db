// api.go — JSON API для внешних клиентов: поиск и статистика.
package handlers

import (
	"net/http"

	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

// SearchDatasets обрабатывает GET /api/search?q=.
// Возвращает не более 10 валидированных датасетов; results всегда массив.
func (h *APIHandler) SearchDatasets(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.Queries.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []service.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

// GetStats обрабатывает GET /api/stats. Не администратору, включая
// анонимного пользователя, сервис отвечает 403.
func (h *APIHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Queries.AdminStats(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
