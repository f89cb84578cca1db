// datasets.go — движок жизненного цикла датасета: просмотр, модерация,
// редактирование метаданных и скачивание.
//
// Все изменения выполняются в транзакции с блокировкой строки
// (SELECT ... FOR UPDATE): при любой ошибке состояние в БД не меняется.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
	"github.com/patrickeudess/nosdonnees/internal/storage/blobstore"
)

// similarLimit — количество похожих датасетов в карточке.
const similarLimit = 5

// Prometheus-метрики жизненного цикла.
var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nd_lifecycle_transitions_total",
		Help: "Количество попыток перехода статуса датасета (по событию и результату).",
	}, []string{"event", "result"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nd_downloads_total",
		Help: "Количество запросов на скачивание датасетов (по результату).",
	}, []string{"result"})
)

// DatasetDetail — карточка датасета.
type DatasetDetail struct {
	Dataset     *model.Dataset
	Comments    []*model.Comment
	Similar     []*model.Dataset
	Permissions lifecycle.Permissions
}

// MetadataInput — изменение описательных полей. nil-поля не изменяются.
type MetadataInput struct {
	Title            *string
	Description      *string
	ShortDescription *string
	Source           *string
	Author           *string
	CreationDate     *time.Time
	DomainID         *string
	Tags             *string
	Country          *string
	Language         *string
	Methodology      *string
	Documentation    *string
}

// DownloadMeta — сведения о клиенте для журнала скачиваний.
type DownloadMeta struct {
	IPAddress string
	UserAgent string
}

// Download — открытый файл датасета. Вызывающий код обязан закрыть File.
type Download struct {
	Dataset *model.Dataset
	File    *os.File
}

// DatasetService — сервис жизненного цикла датасетов.
type DatasetService struct {
	store   Store
	blobs   BlobStore
	ratings *RatingService
	clock   Clock
	logger  *slog.Logger
}

// NewDatasetService создаёт сервис датасетов.
func NewDatasetService(
	store Store,
	blobs BlobStore,
	ratings *RatingService,
	clock Clock,
	logger *slog.Logger,
) *DatasetService {
	return &DatasetService{
		store:   store,
		blobs:   blobs,
		ratings: ratings,
		clock:   clock,
		logger:  logger.With(slog.String("component", "dataset_service")),
	}
}

// Get возвращает датасет и права актора на него.
// Невидимый датасет неотличим от отсутствующего.
func (s *DatasetService) Get(ctx context.Context, actor lifecycle.Actor, id string) (*model.Dataset, lifecycle.Permissions, error) {
	d, err := s.store.Repos().Datasets.GetByID(ctx, id)
	if err != nil {
		return nil, lifecycle.Permissions{}, mapRepoError(err)
	}

	perms := lifecycle.PermissionsFor(actor, d)
	if !perms.CanView {
		return nil, lifecycle.Permissions{}, ErrNotFound
	}
	if err := s.ratings.Fill(ctx, s.store.Repos().Comments, d); err != nil {
		return nil, lifecycle.Permissions{}, err
	}
	return d, perms, nil
}

// Detail возвращает карточку датасета и увеличивает view_count.
// Счётчик растёт при каждом просмотре, в том числе владельцем.
func (s *DatasetService) Detail(ctx context.Context, actor lifecycle.Actor, id string) (*DatasetDetail, error) {
	d, perms, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	repos := s.store.Repos()
	views, err := repos.Datasets.IncrementViews(ctx, d.ID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	d.ViewCount = views

	comments, err := repos.Comments.ListByDataset(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("получение комментариев: %w", err)
	}

	similar, _, err := repos.Datasets.Search(ctx, repository.SearchParams{
		Status:    lifecycle.StatusValidated,
		DomainID:  d.DomainID,
		ExcludeID: d.ID,
		Limit:     similarLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("получение похожих датасетов: %w", err)
	}

	return &DatasetDetail{
		Dataset:     d,
		Comments:    comments,
		Similar:     similar,
		Permissions: perms,
	}, nil
}

// Validate валидирует датасет (pending/rejected → validated). Только admin.
func (s *DatasetService) Validate(ctx context.Context, actor lifecycle.Actor, id string) (*model.Dataset, error) {
	return s.transition(ctx, actor, id, lifecycle.EventValidate, func(d *model.Dataset) error {
		return lifecycle.Validate(d, actor, s.clock.now())
	})
}

// Reject отклоняет датасет с причиной (pending/validated → rejected). Только admin.
func (s *DatasetService) Reject(ctx context.Context, actor lifecycle.Actor, id, reason string) (*model.Dataset, error) {
	return s.transition(ctx, actor, id, lifecycle.EventReject, func(d *model.Dataset) error {
		return lifecycle.Reject(d, actor, reason)
	})
}

// Publish отправляет черновик на модерацию (draft → pending). Только владелец.
func (s *DatasetService) Publish(ctx context.Context, actor lifecycle.Actor, id string) (*model.Dataset, error) {
	return s.transition(ctx, actor, id, lifecycle.EventPublish, func(d *model.Dataset) error {
		return lifecycle.Publish(d, actor)
	})
}

// transition выполняет переход статуса в транзакции с блокировкой строки.
func (s *DatasetService) transition(
	ctx context.Context,
	actor lifecycle.Actor,
	id string,
	ev lifecycle.Event,
	apply func(d *model.Dataset) error,
) (*model.Dataset, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	// Модерация доступна только администратору независимо от видимости
	if (ev == lifecycle.EventValidate || ev == lifecycle.EventReject) && !actor.IsAdmin() {
		transitionsTotal.WithLabelValues(string(ev), "denied").Inc()
		return nil, ErrPermissionDenied
	}

	var result *model.Dataset
	err := s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		d, err := repos.Datasets.GetByIDForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if !lifecycle.PermissionsFor(actor, d).CanView {
			return ErrNotFound
		}

		from := d.Status
		if err := apply(d); err != nil {
			return mapLifecycleError(err)
		}
		if err := repos.Datasets.UpdateModeration(ctx, d); err != nil {
			return mapRepoError(err)
		}

		s.logger.Info("Статус датасета изменён",
			slog.String("dataset_id", d.ID),
			slog.String("event", string(ev)),
			slog.String("from", from),
			slog.String("to", d.Status),
			slog.String("actor", actor.UserID),
		)
		result = d
		return nil
	})
	if err != nil {
		transitionsTotal.WithLabelValues(string(ev), transitionResult(err)).Inc()
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(ev), "success").Inc()
	return result, nil
}

func transitionResult(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnauthenticated):
		return "denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransition):
		return "invalid"
	default:
		return "error"
	}
}

// UpdateMetadata изменяет описательные поля датасета. Доступно владельцу
// и администратору в любом статусе; статус при этом не меняется.
func (s *DatasetService) UpdateMetadata(ctx context.Context, actor lifecycle.Actor, id string, in MetadataInput) (*model.Dataset, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}

	var result *model.Dataset
	err := s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		d, err := repos.Datasets.GetByIDForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		perms := lifecycle.PermissionsFor(actor, d)
		if !perms.CanView {
			return ErrNotFound
		}
		if !perms.CanEdit {
			return ErrPermissionDenied
		}

		if err := applyMetadata(d, in); err != nil {
			return err
		}
		if in.DomainID != nil {
			dom, err := repos.Domains.GetByID(ctx, d.DomainID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return newValidationError("домен не существует", "domain")
				}
				return err
			}
			d.DomainName = dom.Name
		}

		if err := repos.Datasets.UpdateMetadata(ctx, d); err != nil {
			return mapRepoError(err)
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Метаданные датасета обновлены",
		slog.String("dataset_id", result.ID),
		slog.String("actor", actor.UserID),
	)
	return result, nil
}

// applyMetadata применяет изменения к датасету и проверяет обязательные поля.
func applyMetadata(d *model.Dataset, in MetadataInput) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&d.Title, in.Title)
	set(&d.Description, in.Description)
	set(&d.ShortDescription, in.ShortDescription)
	set(&d.Source, in.Source)
	set(&d.Author, in.Author)
	set(&d.DomainID, in.DomainID)
	set(&d.Tags, in.Tags)
	set(&d.Country, in.Country)
	set(&d.Language, in.Language)
	set(&d.Methodology, in.Methodology)
	set(&d.Documentation, in.Documentation)
	if in.CreationDate != nil {
		d.CreationDate = *in.CreationDate
	}

	var invalid []string
	invalid = append(invalid, missingFields(
		field{"title", d.Title},
		field{"description", d.Description},
		field{"source", d.Source},
		field{"domain", d.DomainID},
	)...)
	if d.DomainID != "" && !isUUID(d.DomainID) {
		invalid = append(invalid, "domain")
	}
	invalid = append(invalid, tooLongFields(d)...)
	if len(invalid) > 0 {
		return newValidationError("некорректные метаданные датасета", invalid...)
	}
	return nil
}

// fieldLimits — ограничения длины строковых полей (в символах).
var fieldLimits = []struct {
	name  string
	value func(d *model.Dataset) string
	max   int
}{
	{"title", func(d *model.Dataset) string { return d.Title }, 200},
	{"short_description", func(d *model.Dataset) string { return d.ShortDescription }, 300},
	{"source", func(d *model.Dataset) string { return d.Source }, 200},
	{"author", func(d *model.Dataset) string { return d.Author }, 200},
	{"tags", func(d *model.Dataset) string { return d.Tags }, 500},
	{"country", func(d *model.Dataset) string { return d.Country }, 100},
	{"language", func(d *model.Dataset) string { return d.Language }, 10},
}

func tooLongFields(d *model.Dataset) []string {
	var fields []string
	for _, l := range fieldLimits {
		if utf8.RuneCountInString(l.value(d)) > l.max {
			fields = append(fields, l.name)
		}
	}
	return fields
}

// Download открывает файл датасета и фиксирует скачивание.
// Увеличение download_count и запись в журнал выполняются в одной
// транзакции: либо оба изменения, либо ни одного.
func (s *DatasetService) Download(ctx context.Context, actor lifecycle.Actor, id string, meta DownloadMeta) (*Download, error) {
	d, err := s.store.Repos().Datasets.GetByID(ctx, id)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, mapRepoError(err)
	}
	if !lifecycle.PermissionsFor(actor, d).CanDownload {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	f, err := s.blobs.Open(d.FilePath)
	if err != nil {
		downloadsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error("Файл датасета отсутствует в хранилище",
				slog.String("dataset_id", d.ID),
				slog.String("file_path", d.FilePath),
			)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("открытие файла датасета: %w", err)
	}

	var userID *string
	if actor.IsAuthenticated() {
		uid := actor.UserID
		userID = &uid
	}

	err = s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		count, err := repos.Datasets.IncrementDownloads(ctx, d.ID)
		if err != nil {
			return mapRepoError(err)
		}
		if err := repos.Downloads.Append(ctx, &model.DownloadLog{
			ID:        uuid.New().String(),
			DatasetID: d.ID,
			UserID:    userID,
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
		}); err != nil {
			return err
		}
		d.DownloadCount = count
		return nil
	})
	if err != nil {
		f.Close()
		downloadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	downloadsTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Датасет скачан",
		slog.String("dataset_id", d.ID),
		slog.Bool("anonymous", userID == nil),
	)
	return &Download{Dataset: d, File: f}, nil
}
