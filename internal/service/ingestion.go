// ingestion.go — приём загруженного файла и создание датасета.
//
// Порядок: проверка актора → обязательные поля → расширение → размер →
// домен → запись файла → запись в БД. Файл пишется только после всех
// проверок; при ошибке записи в БД файл удаляется.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
	"github.com/patrickeudess/nosdonnees/internal/repository"
	"github.com/patrickeudess/nosdonnees/internal/storage/blobstore"
)

// defaultLanguage — язык датасета по умолчанию.
const defaultLanguage = "fr"

// allowedFormats — допустимые расширения загружаемых файлов.
var allowedFormats = map[string]bool{
	"csv":  true,
	"xlsx": true,
	"xls":  true,
	"json": true,
	"xml":  true,
	"sql":  true,
	"zip":  true,
}

// AllowedFormats возвращает допустимые форматы файлов.
func AllowedFormats() []string {
	return []string{"csv", "xlsx", "xls", "json", "xml", "sql", "zip"}
}

// IsAllowedFormat проверяет формат файла (без учёта регистра).
func IsAllowedFormat(format string) bool {
	return allowedFormats[strings.ToLower(format)]
}

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nd_uploads_total",
	Help: "Количество загрузок датасетов (по результату).",
}, []string{"result"})

// UploadInput — данные формы загрузки.
type UploadInput struct {
	Title            string
	Description      string
	ShortDescription string
	Source           string
	Author           string
	// CreationDate — дата создания данных, nil — текущая дата
	CreationDate  *time.Time
	DomainID      string
	Tags          string
	Country       string
	Language      string
	Methodology   string
	Documentation string

	// FileName — исходное имя файла, определяет формат
	FileName string
	// File — содержимое, nil если файл не передан
	File io.Reader
	// FileSize — заявленный размер, -1 если неизвестен
	FileSize int64

	// Draft — сохранить черновиком без отправки на модерацию
	Draft bool
}

// IngestionService — сервис загрузки датасетов.
type IngestionService struct {
	store   Store
	blobs   BlobStore
	policy  lifecycle.Policy
	maxSize int64
	clock   Clock
	logger  *slog.Logger
}

// NewIngestionService создаёт сервис загрузки.
// maxSize — максимальный размер файла в байтах.
func NewIngestionService(
	store Store,
	blobs BlobStore,
	policy lifecycle.Policy,
	maxSize int64,
	clock Clock,
	logger *slog.Logger,
) *IngestionService {
	return &IngestionService{
		store:   store,
		blobs:   blobs,
		policy:  policy,
		maxSize: maxSize,
		clock:   clock,
		logger:  logger.With(slog.String("component", "ingestion_service")),
	}
}

// MaxSize возвращает лимит размера файла.
func (s *IngestionService) MaxSize() int64 {
	return s.maxSize
}

// Upload проверяет данные, сохраняет файл и создаёт датасет в начальном
// статусе. Для вызывающего кода операция атомарна: при ошибке не остаётся
// ни записи в БД, ни файла.
func (s *IngestionService) Upload(ctx context.Context, actor lifecycle.Actor, in UploadInput) (*model.Dataset, error) {
	d, err := s.upload(ctx, actor, in)
	uploadsTotal.WithLabelValues(uploadResult(err)).Inc()
	return d, err
}

func (s *IngestionService) upload(ctx context.Context, actor lifecycle.Actor, in UploadInput) (*model.Dataset, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	if !rbac.CanUpload(actor.Role) {
		return nil, ErrPermissionDenied
	}

	fileName := strings.TrimSpace(filepath.Base(in.FileName))
	if in.File == nil || fileName == "" || fileName == "." {
		fileName = ""
	}
	if missing := missingFields(
		field{"title", in.Title},
		field{"description", in.Description},
		field{"source", in.Source},
		field{"domain", in.DomainID},
		field{"file", fileName},
	); len(missing) > 0 {
		return nil, newValidationError("обязательные поля не заполнены", missing...)
	}

	if !isUUID(strings.TrimSpace(in.DomainID)) {
		return nil, newValidationError("некорректный идентификатор домена", "domain")
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if !allowedFormats[format] {
		return nil, newValidationError(
			fmt.Sprintf("недопустимый формат файла %q, допустимые: %s", format, strings.Join(AllowedFormats(), ", ")),
			"file")
	}

	if in.FileSize > s.maxSize {
		return nil, fmt.Errorf("%w: %d байт при лимите %d", ErrPayloadTooLarge, in.FileSize, s.maxSize)
	}

	now := s.clock.now()
	d := &model.Dataset{
		ID:               uuid.New().String(),
		Title:            strings.TrimSpace(in.Title),
		Description:      strings.TrimSpace(in.Description),
		ShortDescription: strings.TrimSpace(in.ShortDescription),
		Source:           strings.TrimSpace(in.Source),
		Author:           strings.TrimSpace(in.Author),
		CreationDate:     now.Truncate(24 * time.Hour),
		DomainID:         strings.TrimSpace(in.DomainID),
		Tags:             strings.TrimSpace(in.Tags),
		Country:          strings.TrimSpace(in.Country),
		Language:         strings.TrimSpace(in.Language),
		Methodology:      strings.TrimSpace(in.Methodology),
		Documentation:    strings.TrimSpace(in.Documentation),
		FileName:         fileName,
		FileFormat:       format,
		SubmittedBy:      actor.UserID,
	}
	if in.CreationDate != nil {
		d.CreationDate = *in.CreationDate
	}
	if d.Language == "" {
		d.Language = defaultLanguage
	}
	if invalid := tooLongFields(d); len(invalid) > 0 {
		return nil, newValidationError("превышена длина полей", invalid...)
	}

	repos := s.store.Repos()
	dom, err := repos.Domains.GetByID(ctx, d.DomainID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newValidationError("домен не существует", "domain")
		}
		return nil, fmt.Errorf("проверка домена: %w", err)
	}
	d.DomainName = dom.Name

	// Запись файла: только после всех проверок входных данных
	blob, err := s.blobs.Put(in.File, fileName, actor.UserID, s.maxSize)
	if err != nil {
		if errors.Is(err, blobstore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: лимит %d байт", ErrPayloadTooLarge, s.maxSize)
		}
		return nil, fmt.Errorf("сохранение файла: %w", err)
	}
	if blob.Size == 0 {
		s.removeBlob(blob.Key)
		return nil, newValidationError("файл пуст", "file")
	}
	d.FilePath = blob.Key
	d.FileSize = blob.Size

	s.policy.Initialize(d, actor, in.Draft, now)

	if err := repos.Datasets.Create(ctx, d); err != nil {
		s.removeBlob(blob.Key)
		return nil, mapRepoError(err)
	}

	s.logger.Info("Датасет загружен",
		slog.String("dataset_id", d.ID),
		slog.String("format", d.FileFormat),
		slog.Int64("size", d.FileSize),
		slog.String("status", d.Status),
		slog.String("checksum", blob.Checksum),
		slog.String("submitted_by", d.SubmittedBy),
	)
	return d, nil
}

// removeBlob удаляет файл, запись которого в БД не удалась.
func (s *IngestionService) removeBlob(key string) {
	if err := s.blobs.Delete(key); err != nil {
		s.logger.Error("Не удалось удалить файл после отката загрузки",
			slog.String("file_path", key),
			slog.String("error", err.Error()),
		)
	}
}

func uploadResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrUnauthenticated):
		return "denied"
	default:
		return "error"
	}
}

// field — имя поля формы и его значение.
type field struct {
	name  string
	value string
}

// missingFields возвращает имена всех пустых полей в порядке перечисления.
func missingFields(fields ...field) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// isUUID сообщает, является ли значение идентификатором в формате UUID.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
