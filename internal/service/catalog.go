// catalog.go — справочник тематических доменов.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/patrickeudess/nosdonnees/internal/database"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// CatalogService — сервис доменов. Домены — статичный справочник,
// поэтому одиночные записи кэшируются.
type CatalogService struct {
	store  Store
	cache  *CacheService[*model.Domain]
	logger *slog.Logger
}

// NewCatalogService создаёт сервис доменов.
func NewCatalogService(store Store, cache *CacheService[*model.Domain], logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "catalog_service")),
	}
}

// GetDomain возвращает домен по ID (кэш или БД).
func (s *CatalogService) GetDomain(ctx context.Context, id string) (*model.Domain, error) {
	if d, ok := s.cache.Get(id); ok {
		return d, nil
	}

	d, err := s.store.Repos().Domains.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.cache.Set(id, d)
	return d, nil
}

// ListDomains возвращает все домены с количеством валидированных датасетов.
func (s *CatalogService) ListDomains(ctx context.Context) ([]*model.DomainStats, error) {
	domains, err := s.store.Repos().Domains.ListWithCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка доменов: %w", err)
	}
	return domains, nil
}

// ActiveDomains возвращает limit доменов с наибольшим числом
// валидированных датасетов.
func (s *CatalogService) ActiveDomains(ctx context.Context, limit int) ([]*model.DomainStats, error) {
	domains, err := s.store.Repos().Domains.MostActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("получение активных доменов: %w", err)
	}
	return domains, nil
}

// SeedDomains создаёт отсутствующие домены. Существующие (по имени)
// не изменяются. Возвращает количество созданных.
func (s *CatalogService) SeedDomains(ctx context.Context, domains []database.SeedDomain) (int, error) {
	created := 0
	for _, sd := range domains {
		d := &model.Domain{
			ID:          uuid.New().String(),
			Name:        sd.Name,
			Description: sd.Description,
			Icon:        sd.Icon,
		}
		ok, err := s.store.Repos().Domains.CreateIfMissing(ctx, d)
		if err != nil {
			return created, fmt.Errorf("создание домена %q: %w", sd.Name, err)
		}
		if ok {
			created++
		}
	}

	s.logger.Info("Начальные домены загружены",
		slog.Int("created", created),
		slog.Int("total", len(domains)),
	)
	return created, nil
}
