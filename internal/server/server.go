// Пакет server — HTTP-сервер каталога: сборка маршрутов chi
// и graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/api/handlers"
	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/api/openapi"
	"github.com/patrickeudess/nosdonnees/internal/config"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
)

// Routes — обработчики и middleware для сборки роутера.
type Routes struct {
	API      *handlers.APIHandler
	Health   *handlers.HealthHandler
	Identity *middleware.Identity
	// Validator — проверка запросов по OpenAPI контракту; nil отключает проверку
	Validator *middleware.Validator
}

// NewRouter собирает роутер каталога.
//
// Глобальные middleware: request id, реальный IP клиента, метрики,
// логирование, перехват паник, определение пользователя.
// Валидатор контракта подключается к группам JSON-маршрутов; загрузка
// (multipart) и скачивание (поток файла) проверяются обработчиками.
func NewRouter(routes Routes, logger *slog.Logger) http.Handler {
	api := routes.API

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Recoverer(logger))
	router.Use(routes.Identity.Middleware())

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Ресурс не найден")
	})

	// Служебные endpoints
	router.Get("/health/live", routes.Health.HealthLive)
	router.Get("/health/ready", routes.Health.HealthReady)
	router.Get("/metrics", routes.Health.GetMetrics)
	router.Method(http.MethodGet, "/api/openapi.yaml", openapi.Handler())

	validated := func(r chi.Router) {
		if routes.Validator != nil {
			r.Use(routes.Validator.Middleware())
		}
	}

	// Публичные маршруты; права на конкретный датасет проверяет сервис
	router.Group(func(r chi.Router) {
		validated(r)

		r.Get("/", api.GetHome)
		r.Get("/domains", api.ListDomains)
		r.Get("/domains/{id}", api.GetDomain)
		r.Get("/datasets", api.ListDatasets)
		r.Get("/datasets/popular", api.ListPopularDatasets)
		r.Get("/datasets/{id}", api.GetDataset)
		r.Get("/datasets/{id}/comments", api.ListComments)

		r.Get("/api/search", api.SearchDatasets)
		// Не администратору сервис отвечает 403, в том числе анониму
		r.Get("/api/stats", api.GetStats)

		r.Post("/auth/register", api.Register)
		r.Post("/auth/login", api.Login)
		r.Post("/auth/logout", api.Logout)
	})

	// Скачивание открыто анониму для валидированных датасетов, невидимый датасет 404
	router.Get("/datasets/{id}/download", api.DownloadDataset)

	// Вошедший пользователь
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())
		validated(r)

		r.Patch("/datasets/{id}", api.UpdateDataset)
		r.Post("/datasets/{id}/publish", api.PublishDataset)
		r.Post("/datasets/{id}/comments", api.AddComment)
		r.Get("/dashboard", api.GetDashboard)
		r.Get("/profile", api.GetProfile)
		r.Put("/profile", api.UpdateProfile)
	})

	// Загрузка: роль проверяется до чтения тела
	router.With(middleware.RequireRole(rbac.RoleContributor)).Post("/datasets", api.UploadDataset)

	// Модерация
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(rbac.RoleAdmin))
		validated(r)

		r.Post("/admin/datasets/{id}/validate", api.ValidateDataset)
		r.Post("/admin/datasets/{id}/reject", api.RejectDataset)
		r.Put("/admin/users/{id}/role", api.SetUserRole)
	})

	return router
}

// Server — HTTP-сервер каталога.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с готовым роутером.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
