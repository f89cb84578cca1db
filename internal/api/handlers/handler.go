// handler.go — общий обработчик API: зависимости от сервисного слоя,
// разбор запросов и перевод ошибок сервиса в HTTP-ответы.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

// maxJSONBody — ограничение размера JSON-тела запроса.
const maxJSONBody = 1 << 20

// Accounts — операции учётных записей (service.AccountService).
type Accounts interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.Session, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	UpdateProfile(ctx context.Context, actor lifecycle.Actor, in service.ProfileInput) (*model.User, error)
	SetRole(ctx context.Context, actor lifecycle.Actor, userID, role string) (*model.User, error)
}

// Catalog — справочник доменов (service.CatalogService).
type Catalog interface {
	GetDomain(ctx context.Context, id string) (*model.Domain, error)
	ListDomains(ctx context.Context) ([]*model.DomainStats, error)
}

// Datasets — жизненный цикл датасетов (service.DatasetService).
type Datasets interface {
	Detail(ctx context.Context, actor lifecycle.Actor, id string) (*service.DatasetDetail, error)
	UpdateMetadata(ctx context.Context, actor lifecycle.Actor, id string, in service.MetadataInput) (*model.Dataset, error)
	Publish(ctx context.Context, actor lifecycle.Actor, id string) (*model.Dataset, error)
	Validate(ctx context.Context, actor lifecycle.Actor, id string) (*model.Dataset, error)
	Reject(ctx context.Context, actor lifecycle.Actor, id, reason string) (*model.Dataset, error)
	Download(ctx context.Context, actor lifecycle.Actor, id string, meta service.DownloadMeta) (*service.Download, error)
}

// Ingestion — загрузка датасетов (service.IngestionService).
type Ingestion interface {
	Upload(ctx context.Context, actor lifecycle.Actor, in service.UploadInput) (*model.Dataset, error)
	MaxSize() int64
}

// Engagement — комментарии (service.EngagementService).
type Engagement interface {
	AddComment(ctx context.Context, actor lifecycle.Actor, datasetID, text string, rating *int) (*model.Comment, error)
	ListComments(ctx context.Context, actor lifecycle.Actor, datasetID string) ([]*model.Comment, error)
}

// Queries — выборки и статистика (service.QueryService).
type Queries interface {
	List(ctx context.Context, actor lifecycle.Actor, f service.ListFilter) (*service.DatasetPage, error)
	Popular(ctx context.Context, limit int) ([]*model.Dataset, error)
	Search(ctx context.Context, q string) ([]service.SearchResult, error)
	HomeStats(ctx context.Context) (*service.HomeStats, error)
	AdminStats(ctx context.Context, actor lifecycle.Actor) (*service.AdminStats, error)
	Dashboard(ctx context.Context, actor lifecycle.Actor) (*service.Dashboard, error)
}

// Services — зависимости обработчиков.
type Services struct {
	Accounts   Accounts
	Catalog    Catalog
	Datasets   Datasets
	Ingestion  Ingestion
	Engagement Engagement
	Queries    Queries
}

// SessionCookie — параметры сессионной cookie.
type SessionCookie struct {
	Name   string
	Secure bool
}

// APIHandler — основной обработчик API каталога.
type APIHandler struct {
	svc    Services
	cookie SessionCookie
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(svc Services, cookie SessionCookie, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		svc:    svc,
		cookie: cookie,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса в dst. Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Пустое тело запроса")
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// pathID извлекает UUID из параметра пути id. Некорректный идентификатор
// не может принадлежать существующему ресурсу, поэтому ответ — 404.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		apierrors.NotFound(w, "Ресурс не найден")
		return "", false
	}
	return id.String(), true
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Непредвиденные ошибки логируются с причиной и отдаются как 500.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		apierrors.ValidationFields(w, ve.Message, ve.Fields)
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrUnauthenticated):
		apierrors.Unauthorized(w, "Требуется вход в систему")
	case errors.Is(err, service.ErrPermissionDenied):
		apierrors.Forbidden(w, "Недостаточно прав")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrPayloadTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
