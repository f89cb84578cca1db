// datasets.go — HTTP handlers датасетов: список, карточка, редактирование,
// публикация черновика, скачивание и загрузка.
package handlers

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

// Параметры multipart-загрузки.
const (
	// multipartMemory — часть формы, хранимая в памяти; остальное уходит во временные файлы
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки и текстовые поля формы сверх лимита файла
	multipartOverhead = 1 << 20
)

// bindQuery связывает query-параметр name с dest. При ошибке отвечает 400
// с именем параметра.
func bindQuery(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		apierrors.ValidationFields(w, fmt.Sprintf("Некорректный параметр %s", name), []string{name})
		return false
	}
	return true
}

// ListDatasets обрабатывает GET /datasets.
// Фильтры: q, domain, format, country, date_from, date_to; пагинация: page.
func (h *APIHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	var (
		page     *int
		dateFrom *openapi_types.Date
		dateTo   *openapi_types.Date
	)
	if !bindQuery(w, r, "page", &page) ||
		!bindQuery(w, r, "date_from", &dateFrom) ||
		!bindQuery(w, r, "date_to", &dateTo) {
		return
	}

	q := r.URL.Query()
	filter := service.ListFilter{
		Query:    q.Get("q"),
		DomainID: q.Get("domain"),
		Format:   q.Get("format"),
		Country:  q.Get("country"),
	}
	if page != nil {
		filter.Page = *page
	}
	if dateFrom != nil {
		filter.DateFrom = &dateFrom.Time
	}
	if dateTo != nil {
		filter.DateTo = &dateTo.Time
	}

	result, err := h.svc.Queries.List(r.Context(), middleware.ActorFromContext(r.Context()), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, datasetPageResponse{
		Items:      toDatasets(result.Items),
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
	})
}

// ListPopularDatasets обрабатывает GET /datasets/popular.
func (h *APIHandler) ListPopularDatasets(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if !bindQuery(w, r, "limit", &limit) {
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	items, err := h.svc.Queries.Popular(r.Context(), n)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[datasetResponse]{Items: toDatasets(items)})
}

// GetDataset обрабатывает GET /datasets/{id}. Каждый просмотр
// увеличивает view_count.
func (h *APIHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Datasets.Detail(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, datasetDetailResponse{
		Dataset:     toDataset(detail.Dataset),
		Comments:    toComments(detail.Comments),
		Similar:     toDatasets(detail.Similar),
		Permissions: detail.Permissions,
	})
}

// metadataRequest — тело PATCH /datasets/{id}. Отсутствующие поля не изменяются.
type metadataRequest struct {
	Title            *string             `json:"title"`
	Description      *string             `json:"description"`
	ShortDescription *string             `json:"short_description"`
	Source           *string             `json:"source"`
	Author           *string             `json:"author"`
	CreationDate     *openapi_types.Date `json:"creation_date"`
	DomainID         *string             `json:"domain_id"`
	Tags             *string             `json:"tags"`
	Country          *string             `json:"country"`
	Language         *string             `json:"language"`
	Methodology      *string             `json:"methodology"`
	Documentation    *string             `json:"documentation"`
}

// UpdateDataset обрабатывает PATCH /datasets/{id}. Статус модерации
// при редактировании не меняется.
func (h *APIHandler) UpdateDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req metadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := service.MetadataInput{
		Title:            req.Title,
		Description:      req.Description,
		ShortDescription: req.ShortDescription,
		Source:           req.Source,
		Author:           req.Author,
		DomainID:         req.DomainID,
		Tags:             req.Tags,
		Country:          req.Country,
		Language:         req.Language,
		Methodology:      req.Methodology,
		Documentation:    req.Documentation,
	}
	if req.CreationDate != nil {
		in.CreationDate = &req.CreationDate.Time
	}

	d, err := h.svc.Datasets.UpdateMetadata(r.Context(), middleware.ActorFromContext(r.Context()), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDataset(d))
}

// PublishDataset обрабатывает POST /datasets/{id}/publish: draft → pending.
func (h *APIHandler) PublishDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Datasets.Publish(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDataset(d))
}

// DownloadDataset обрабатывает GET /datasets/{id}/download.
// Счётчик и запись журнала фиксируются до отправки содержимого.
// Поддерживает Range requests через http.ServeContent.
func (h *APIHandler) DownloadDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	dl, err := h.svc.Datasets.Download(r.Context(), middleware.ActorFromContext(r.Context()), id,
		service.DownloadMeta{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer dl.File.Close()

	stat, err := dl.File.Stat()
	if err != nil {
		h.writeServiceError(w, r, fmt.Errorf("stat файла датасета %s: %w", id, err))
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(dl.Dataset.FileFormat))
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.Dataset.FileName}))

	http.ServeContent(w, r, dl.Dataset.FileName, stat.ModTime(), dl.File)
}

// formatContentTypes — MIME-типы допустимых форматов. Системная таблица
// mime зависит от окружения и может не знать csv или sql.
var formatContentTypes = map[string]string{
	"csv":  "text/csv; charset=utf-8",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"xls":  "application/vnd.ms-excel",
	"json": "application/json",
	"xml":  "application/xml",
	"sql":  "application/sql",
	"zip":  "application/zip",
}

func contentTypeFor(format string) string {
	if ct, ok := formatContentTypes[format]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + format); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// clientIP возвращает адрес клиента без порта. RemoteAddr уже
// скорректирован middleware RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UploadDataset обрабатывает POST /datasets (multipart/form-data).
// Поля: title, description, source, domain, file (обязательные),
// short_description, author, creation_date, tags, country, language,
// methodology, documentation, draft.
func (h *APIHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.Ingestion.MaxSize()+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер файла превышает %d байт", h.svc.Ingestion.MaxSize()))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := service.UploadInput{
		Title:            r.FormValue("title"),
		Description:      r.FormValue("description"),
		ShortDescription: r.FormValue("short_description"),
		Source:           r.FormValue("source"),
		Author:           r.FormValue("author"),
		DomainID:         r.FormValue("domain"),
		Tags:             r.FormValue("tags"),
		Country:          r.FormValue("country"),
		Language:         r.FormValue("language"),
		Methodology:      r.FormValue("methodology"),
		Documentation:    r.FormValue("documentation"),
		FileSize:         -1,
	}

	var invalid []string
	if v := strings.TrimSpace(r.FormValue("creation_date")); v != "" {
		date, err := time.Parse(openapi_types.DateFormat, v)
		if err != nil {
			invalid = append(invalid, "creation_date")
		} else {
			in.CreationDate = &date
		}
	}
	if v := strings.TrimSpace(r.FormValue("draft")); v != "" {
		draft, err := parseFormBool(v)
		if err != nil {
			invalid = append(invalid, "draft")
		}
		in.Draft = draft
	}
	if len(invalid) > 0 {
		apierrors.ValidationFields(w, "Некорректные поля формы", invalid)
		return
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		in.File = file
		in.FileName = filepath.Base(header.Filename)
		in.FileSize = header.Size
	case errors.Is(err, http.ErrMissingFile):
		// Отсутствие файла сервис сообщит вместе с остальными пропущенными полями
	default:
		apierrors.ValidationFields(w, "Некорректный файл", []string{"file"})
		return
	}

	d, err := h.svc.Ingestion.Upload(r.Context(), middleware.ActorFromContext(r.Context()), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDataset(d))
}

// parseFormBool разбирает булево поле формы; "on" — значение HTML checkbox.
func parseFormBool(v string) (bool, error) {
	if strings.EqualFold(v, "on") {
		return true, nil
	}
	return strconv.ParseBool(v)
}
