// catalog.go — главная страница и справочник доменов.
package handlers

import (
	"errors"
	"net/http"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

// GetHome обрабатывает GET /: счётчики, популярные датасеты и активные домены.
func (h *APIHandler) GetHome(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Queries.HomeStats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, homeResponse{
		ValidatedDatasets: stats.ValidatedDatasets,
		TotalDownloads:    stats.TotalDownloads,
		TotalUsers:        stats.TotalUsers,
		Popular:           toDatasets(stats.Popular),
		ActiveDomains:     toDomainStats(stats.ActiveDomains),
	})
}

// ListDomains обрабатывает GET /domains.
func (h *APIHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.svc.Catalog.ListDomains(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[domainResponse]{Items: toDomainStats(domains)})
}

// GetDomain обрабатывает GET /domains/{id}.
func (h *APIHandler) GetDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Catalog.GetDomain(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Домен не найден")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDomain(d))
}
