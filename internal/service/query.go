// query.go — списки, поиск и статистика каталога.
// Правило видимости применяется в каждом запросе: аноним видит только
// validated, пользователь также собственные датасеты, admin видит всё.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

// Лимиты выдачи.
const (
	// SearchLimit — максимум результатов автодополнения.
	SearchLimit = 10
	// MaxPage — номер последней допустимой страницы списка.
	MaxPage = 10000
	// excerptLength — длина выдержки описания в символах.
	excerptLength = 100
	// homePopularLimit, homeDomainsLimit — блоки главной страницы.
	homePopularLimit = 6
	homeDomainsLimit = 5
	// dashboardListLimit — длина списков панели администратора.
	dashboardListLimit = 10
	// dashboardQueueLimit — максимум записей в очередях модерации и в списке своих датасетов.
	dashboardQueueLimit = 100
)

var searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "nd_search_duration_seconds",
	Help:    "Длительность поиска датасетов.",
	Buckets: prometheus.DefBuckets,
})

// ListFilter — фильтры списка датасетов. Пустые значения не применяются.
type ListFilter struct {
	Query    string
	DomainID string
	Format   string
	Country  string
	DateFrom *time.Time
	DateTo   *time.Time
	// Page — номер страницы с 1
	Page int
}

// DatasetPage — страница списка датасетов.
type DatasetPage struct {
	Items      []*model.Dataset
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// SearchResult — элемент автодополнения.
type SearchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// HomeStats — данные главной страницы.
type HomeStats struct {
	ValidatedDatasets int64
	TotalDownloads    int64
	TotalUsers        int64
	Popular           []*model.Dataset
	ActiveDomains     []*model.DomainStats
}

// AdminStats — сводка для администратора.
type AdminStats struct {
	TotalDatasets     int64 `json:"total_datasets"`
	ValidatedDatasets int64 `json:"validated_datasets"`
	PendingDatasets   int64 `json:"pending_datasets"`
	RejectedDatasets  int64 `json:"rejected_datasets"`
	TotalUsers        int64 `json:"total_users"`
}

// Dashboard — личная панель пользователя.
type Dashboard struct {
	Counts            model.StatusCounts
	DownloadsReceived int64
	// AverageRating — средняя оценка собственных датасетов, nil если оценок нет
	AverageRating *float64
	Datasets      []*model.Dataset
	// Admin заполняется только для администратора
	Admin *AdminDashboard
}

// AdminDashboard — очереди модерации и сводные списки.
type AdminDashboard struct {
	Pending         []*model.Dataset
	Rejected        []*model.Dataset
	RecentValidated []*model.Dataset
	TopDownloaded   []*model.Dataset
}

// QueryService — сервис выборок каталога.
type QueryService struct {
	store    Store
	ratings  *RatingService
	pageSize int
	logger   *slog.Logger
}

// NewQueryService создаёт сервис выборок. pageSize — размер страницы списка.
func NewQueryService(store Store, ratings *RatingService, pageSize int, logger *slog.Logger) *QueryService {
	if pageSize < 1 {
		pageSize = 12
	}
	return &QueryService{
		store:    store,
		ratings:  ratings,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "query_service")),
	}
}

// visibilityFor возвращает правило видимости для актора.
func visibilityFor(actor lifecycle.Actor) repository.Visibility {
	switch {
	case actor.IsAdmin():
		return repository.Visibility{All: true}
	case actor.IsAuthenticated():
		return repository.Visibility{UserID: actor.UserID}
	default:
		return repository.Visibility{}
	}
}

// List возвращает страницу видимых актору датасетов, новые первыми.
func (s *QueryService) List(ctx context.Context, actor lifecycle.Actor, f ListFilter) (*DatasetPage, error) {
	var invalid []string
	if f.DomainID != "" && !isUUID(f.DomainID) {
		invalid = append(invalid, "domain")
	}
	if f.Format != "" && !IsAllowedFormat(f.Format) {
		invalid = append(invalid, "format")
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		invalid = append(invalid, "date_from", "date_to")
	}
	if len(invalid) > 0 {
		return nil, newValidationError("некорректные фильтры", invalid...)
	}

	page := min(max(f.Page, 1), MaxPage)

	start := time.Now()
	items, total, err := s.store.Repos().Datasets.Search(ctx, repository.SearchParams{
		Visibility: visibilityFor(actor),
		Query:      f.Query,
		DomainID:   f.DomainID,
		Format:     f.Format,
		Country:    f.Country,
		DateFrom:   f.DateFrom,
		DateTo:     f.DateTo,
		Sort:       repository.SortNewest,
		Limit:      s.pageSize,
		Offset:     (page - 1) * s.pageSize,
	})
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("поиск датасетов: %w", err)
	}
	if err := s.ratings.Fill(ctx, s.store.Repos().Comments, items...); err != nil {
		return nil, err
	}

	return &DatasetPage{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   s.pageSize,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
	}, nil
}

// Popular возвращает limit валидированных датасетов с наибольшим
// числом скачиваний.
func (s *QueryService) Popular(ctx context.Context, limit int) ([]*model.Dataset, error) {
	if limit < 1 || limit > s.pageSize {
		limit = s.pageSize
	}
	items, _, err := s.store.Repos().Datasets.Search(ctx, repository.SearchParams{
		Sort:  repository.SortPopular,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("получение популярных датасетов: %w", err)
	}
	if err := s.ratings.Fill(ctx, s.store.Repos().Comments, items...); err != nil {
		return nil, err
	}
	return items, nil
}

// Search — автодополнение по валидированным датасетам, не более SearchLimit
// результатов. Пустой запрос даёт пустой результат.
func (s *QueryService) Search(ctx context.Context, q string) ([]SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []SearchResult{}, nil
	}

	start := time.Now()
	items, _, err := s.store.Repos().Datasets.Search(ctx, repository.SearchParams{
		Query: q,
		Sort:  repository.SortNewest,
		Limit: SearchLimit,
	})
	searchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("поиск датасетов: %w", err)
	}

	results := make([]SearchResult, 0, len(items))
	for _, d := range items {
		results = append(results, SearchResult{
			ID:          d.ID,
			Title:       d.Title,
			Description: excerpt(d),
			URL:         DatasetURL(d.ID),
		})
	}
	return results, nil
}

// DatasetURL возвращает путь карточки датасета.
func DatasetURL(id string) string {
	return "/datasets/" + id
}

// excerpt — краткое описание, иначе первые excerptLength символов описания.
func excerpt(d *model.Dataset) string {
	if d.ShortDescription != "" {
		return d.ShortDescription
	}
	runes := []rune(d.Description)
	if len(runes) > excerptLength {
		return string(runes[:excerptLength])
	}
	return d.Description
}

// HomeStats собирает данные главной страницы.
func (s *QueryService) HomeStats(ctx context.Context) (*HomeStats, error) {
	repos := s.store.Repos()

	counts, err := repos.Datasets.CountByStatus(ctx, "")
	if err != nil {
		return nil, err
	}
	downloads, err := repos.Datasets.TotalDownloads(ctx)
	if err != nil {
		return nil, err
	}
	users, err := repos.Users.Count(ctx)
	if err != nil {
		return nil, err
	}
	popular, err := s.Popular(ctx, homePopularLimit)
	if err != nil {
		return nil, err
	}
	domains, err := repos.Domains.MostActive(ctx, homeDomainsLimit)
	if err != nil {
		return nil, fmt.Errorf("получение активных доменов: %w", err)
	}

	return &HomeStats{
		ValidatedDatasets: counts.Validated,
		TotalDownloads:    downloads,
		TotalUsers:        users,
		Popular:           popular,
		ActiveDomains:     domains,
	}, nil
}

// AdminStats возвращает сводку по статусам. Только для администратора,
// в остальных случаях ErrPermissionDenied (в том числе для анонима).
func (s *QueryService) AdminStats(ctx context.Context, actor lifecycle.Actor) (*AdminStats, error) {
	if !actor.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	repos := s.store.Repos()
	counts, err := repos.Datasets.CountByStatus(ctx, "")
	if err != nil {
		return nil, err
	}
	users, err := repos.Users.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &AdminStats{
		TotalDatasets:     counts.Total,
		ValidatedDatasets: counts.Validated,
		PendingDatasets:   counts.Pending,
		RejectedDatasets:  counts.Rejected,
		TotalUsers:        users,
	}, nil
}

// Dashboard собирает личную панель. Для администратора добавляются
// очереди модерации.
func (s *QueryService) Dashboard(ctx context.Context, actor lifecycle.Actor) (*Dashboard, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	repos := s.store.Repos()

	counts, err := repos.Datasets.CountByStatus(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	downloads, err := repos.Downloads.CountForSubmitter(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	avg, err := repos.Comments.AverageRatingForSubmitter(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	own, err := s.list(ctx, repository.SearchParams{
		Visibility:  repository.Visibility{All: true},
		SubmittedBy: actor.UserID,
		Sort:        repository.SortUpdated,
		Limit:       dashboardQueueLimit,
	})
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		Counts:            counts,
		DownloadsReceived: downloads,
		AverageRating:     avg,
		Datasets:          own,
	}
	if !actor.IsAdmin() {
		return dash, nil
	}

	admin := &AdminDashboard{}
	queries := []struct {
		dst    *[]*model.Dataset
		params repository.SearchParams
	}{
		{&admin.Pending, repository.SearchParams{Status: lifecycle.StatusPending, Limit: dashboardQueueLimit}},
		{&admin.Rejected, repository.SearchParams{Status: lifecycle.StatusRejected, Sort: repository.SortUpdated, Limit: dashboardQueueLimit}},
		{&admin.RecentValidated, repository.SearchParams{Status: lifecycle.StatusValidated, Sort: repository.SortUpdated, Limit: dashboardListLimit}},
		{&admin.TopDownloaded, repository.SearchParams{Sort: repository.SortPopular, Limit: dashboardListLimit}},
	}
	for _, q := range queries {
		q.params.Visibility = repository.Visibility{All: true}
		items, err := s.list(ctx, q.params)
		if err != nil {
			return nil, err
		}
		*q.dst = items
	}
	dash.Admin = admin
	return dash, nil
}

// list выполняет поиск без подсчёта страниц и заполняет оценки.
func (s *QueryService) list(ctx context.Context, params repository.SearchParams) ([]*model.Dataset, error) {
	items, _, err := s.store.Repos().Datasets.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("получение датасетов: %w", err)
	}
	if err := s.ratings.Fill(ctx, s.store.Repos().Comments, items...); err != nil {
		return nil, err
	}
	return items, nil
}
