package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

const (
	testDatasetID = "5b0f8a7e-3c1d-4f6a-9e2b-1a2b3c4d5e6f"
	testUserID    = "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"
	testCookie    = "nd_session"
)

// stubServices — заглушка всех зависимостей обработчика. Незаданные
// функции отвечают service.ErrNotFound.
type stubServices struct {
	maxSize int64

	login      func(username, password string) (*service.Session, error)
	getUser    func(id string) (*model.User, error)
	detail     func(actor lifecycle.Actor, id string) (*service.DatasetDetail, error)
	download   func(actor lifecycle.Actor, id string, meta service.DownloadMeta) (*service.Download, error)
	upload     func(actor lifecycle.Actor, in service.UploadInput) (*model.Dataset, error)
	addComment func(actor lifecycle.Actor, id, text string, rating *int) (*model.Comment, error)
	list       func(actor lifecycle.Actor, f service.ListFilter) (*service.DatasetPage, error)
	search     func(q string) ([]service.SearchResult, error)
	adminStats func(actor lifecycle.Actor) (*service.AdminStats, error)
	reject     func(actor lifecycle.Actor, id, reason string) (*model.Dataset, error)
}

func (s *stubServices) Register(context.Context, service.RegisterInput) (*model.User, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) Login(_ context.Context, username, password string) (*service.Session, error) {
	if s.login == nil {
		return nil, service.ErrUnauthenticated
	}
	return s.login(username, password)
}

func (s *stubServices) GetUser(_ context.Context, id string) (*model.User, error) {
	if s.getUser == nil {
		return nil, service.ErrNotFound
	}
	return s.getUser(id)
}

func (s *stubServices) UpdateProfile(context.Context, lifecycle.Actor, service.ProfileInput) (*model.User, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) SetRole(context.Context, lifecycle.Actor, string, string) (*model.User, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) GetDomain(context.Context, string) (*model.Domain, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) ListDomains(context.Context) ([]*model.DomainStats, error) {
	return nil, nil
}

func (s *stubServices) Detail(_ context.Context, actor lifecycle.Actor, id string) (*service.DatasetDetail, error) {
	if s.detail == nil {
		return nil, service.ErrNotFound
	}
	return s.detail(actor, id)
}

func (s *stubServices) UpdateMetadata(context.Context, lifecycle.Actor, string, service.MetadataInput) (*model.Dataset, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) Publish(context.Context, lifecycle.Actor, string) (*model.Dataset, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) Validate(context.Context, lifecycle.Actor, string) (*model.Dataset, error) {
	return nil, service.ErrNotFound
}

func (s *stubServices) Reject(_ context.Context, actor lifecycle.Actor, id, reason string) (*model.Dataset, error) {
	if s.reject == nil {
		return nil, service.ErrNotFound
	}
	return s.reject(actor, id, reason)
}

func (s *stubServices) Download(_ context.Context, actor lifecycle.Actor, id string, meta service.DownloadMeta) (*service.Download, error) {
	if s.download == nil {
		return nil, service.ErrNotFound
	}
	return s.download(actor, id, meta)
}

func (s *stubServices) Upload(_ context.Context, actor lifecycle.Actor, in service.UploadInput) (*model.Dataset, error) {
	if s.upload == nil {
		return nil, service.ErrNotFound
	}
	return s.upload(actor, in)
}

func (s *stubServices) MaxSize() int64 {
	return s.maxSize
}

func (s *stubServices) AddComment(_ context.Context, actor lifecycle.Actor, id, text string, rating *int) (*model.Comment, error) {
	if s.addComment == nil {
		return nil, service.ErrNotFound
	}
	return s.addComment(actor, id, text, rating)
}

func (s *stubServices) ListComments(context.Context, lifecycle.Actor, string) ([]*model.Comment, error) {
	return nil, nil
}

func (s *stubServices) List(_ context.Context, actor lifecycle.Actor, f service.ListFilter) (*service.DatasetPage, error) {
	if s.list == nil {
		return &service.DatasetPage{Page: 1, PageSize: 12}, nil
	}
	return s.list(actor, f)
}

func (s *stubServices) Popular(context.Context, int) ([]*model.Dataset, error) {
	return nil, nil
}

func (s *stubServices) Search(_ context.Context, q string) ([]service.SearchResult, error) {
	if s.search == nil {
		return nil, nil
	}
	return s.search(q)
}

func (s *stubServices) HomeStats(context.Context) (*service.HomeStats, error) {
	return &service.HomeStats{}, nil
}

func (s *stubServices) AdminStats(_ context.Context, actor lifecycle.Actor) (*service.AdminStats, error) {
	if s.adminStats == nil {
		return nil, service.ErrPermissionDenied
	}
	return s.adminStats(actor)
}

func (s *stubServices) Dashboard(context.Context, lifecycle.Actor) (*service.Dashboard, error) {
	return nil, service.ErrUnauthenticated
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(stub *stubServices) *APIHandler {
	return NewAPIHandler(Services{
		Accounts:   stub,
		Catalog:    stub,
		Datasets:   stub,
		Ingestion:  stub,
		Engagement: stub,
		Queries:    stub,
	}, SessionCookie{Name: testCookie, Secure: true}, testLogger())
}

// newTestRouter регистрирует маршруты, нужные тестам, без middleware
// аутентификации: пользователь задаётся через withUser.
func newTestRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/datasets", h.ListDatasets)
	r.Post("/datasets", h.UploadDataset)
	r.Get("/datasets/{id}", h.GetDataset)
	r.Get("/datasets/{id}/download", h.DownloadDataset)
	r.Post("/datasets/{id}/comments", h.AddComment)
	r.Post("/admin/datasets/{id}/reject", h.RejectDataset)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Get("/profile", h.GetProfile)
	r.Get("/api/search", h.SearchDatasets)
	r.Get("/api/stats", h.GetStats)
	return r
}

func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), u))
}
