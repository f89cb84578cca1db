// Точка входа каталога Nosdonnées.
// Команды: serve (по умолчанию) — миграции, подключение к PostgreSQL,
// сервисный слой, topologymetrics и HTTP-сервер с graceful shutdown;
// migrate — применение или откат миграций; seed — справочник доменов
// и учётная запись администратора.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/patrickeudess/nosdonnees/internal/api/handlers"
	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/api/openapi"
	"github.com/patrickeudess/nosdonnees/internal/auth"
	"github.com/patrickeudess/nosdonnees/internal/config"
	"github.com/patrickeudess/nosdonnees/internal/database"
	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
	"github.com/patrickeudess/nosdonnees/internal/server"
	"github.com/patrickeudess/nosdonnees/internal/service"
	"github.com/patrickeudess/nosdonnees/internal/storage/blobstore"
)

// serviceID — имя сервиса для topologymetrics.
const serviceID = "nosdonnees"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "nosdonnees",
		Short:         "Каталог открытых данных Nosdonnées",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Запустить HTTP-сервер",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		migrateCmd(),
		seedCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Показать версию",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("nosdonnees %s\n", config.Version)
			},
		},
	)
	return cmd
}

func migrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции БД (или откатить с --down)",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if down > 0 {
				return database.MigrateDown(cfg, down, logger)
			}
			return database.Migrate(cfg, logger)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Откатить указанное количество миграций")
	return cmd
}

func seedCmd() *cobra.Command {
	var domainsFile string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Создать домены и администратора (ND_ADMIN_PASSWORD)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg, logger); err != nil {
				return err
			}

			domains, err := loadSeedDomains(domainsFile)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := database.Connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := newApp(cfg, pool, nil, logger)
			return app.seed(ctx, domains)
		},
	}
	cmd.Flags().StringVar(&domainsFile, "domains", "", "YAML-файл со списком доменов (по умолчанию встроенный)")
	return cmd
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	return cfg, config.SetupLogger(cfg), nil
}

func loadSeedDomains(path string) ([]database.SeedDomain, error) {
	if path == "" {
		return database.DefaultDomains()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла доменов: %w", err)
	}
	return database.ParseSeedDomains(data)
}

// app — сервисный слой, собранный из конфигурации.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	accounts   *service.AccountService
	catalog    *service.CatalogService
	datasets   *service.DatasetService
	ingestion  *service.IngestionService
	engagement *service.EngagementService
	queries    *service.QueryService
}

// newApp создаёт сервисы. blobs может быть nil для команд без работы с файлами.
func newApp(cfg *config.Config, pool *pgxpool.Pool, blobs *blobstore.Store, logger *slog.Logger) *app {
	store := repository.NewStore(pool)

	domainCache := service.NewCacheService[*model.Domain]("domains", cfg.CacheSize, cfg.CacheTTL)
	ratingCache := service.NewCacheService[*float64]("ratings", cfg.CacheSize, cfg.CacheTTL)
	ratings := service.NewRatingService(ratingCache)

	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	tokens := auth.NewTokenManager(cfg.SessionSecret, cfg.SessionTTL)
	policy := lifecycle.Policy{AutoValidateAdmin: cfg.AutoValidateAdminUploads}

	a := &app{
		cfg:        cfg,
		logger:     logger,
		accounts:   service.NewAccountService(store, hasher, tokens, cfg.DefaultRole, logger),
		catalog:    service.NewCatalogService(store, domainCache, logger),
		engagement: service.NewEngagementService(store, ratings, logger),
		queries:    service.NewQueryService(store, ratings, cfg.PageSize, logger),
	}
	if blobs != nil {
		a.datasets = service.NewDatasetService(store, blobs, ratings, nil, logger)
		a.ingestion = service.NewIngestionService(store, blobs, policy, cfg.MaxUploadSize, nil, logger)
	}
	return a
}

// seed создаёт отсутствующие домены и, если задан ND_ADMIN_PASSWORD,
// учётную запись администратора.
func (a *app) seed(ctx context.Context, domains []database.SeedDomain) error {
	created, err := a.catalog.SeedDomains(ctx, domains)
	if err != nil {
		return fmt.Errorf("создание доменов: %w", err)
	}
	a.logger.Info("Справочник доменов заполнен",
		slog.Int("total", len(domains)),
		slog.Int("created", created),
	)

	if a.cfg.AdminPassword == "" {
		a.logger.Info("ND_ADMIN_PASSWORD не задан, администратор не создаётся")
		return nil
	}
	if _, err := a.accounts.EnsureAdmin(ctx, a.cfg.AdminUsername, a.cfg.AdminEmail, a.cfg.AdminPassword); err != nil {
		return fmt.Errorf("создание администратора: %w", err)
	}
	return nil
}

func serve(ctx context.Context) error {
	// 1. Конфигурация и логирование
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Nosdonnées запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("ND_DEPHEALTH_GROUP") == "" {
		logger.Warn("ND_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 2. Миграции БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return err
	}

	// 3. PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 3.1 Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт
	// через тот же пул и обнаруживает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 4. Хранилище файлов
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		return err
	}
	logger.Info("Хранилище файлов готово", slog.String("data_dir", blobs.DataDir()))

	// 5. Сервисы и начальные данные
	a := newApp(cfg, pool, blobs, logger)

	domains, err := database.DefaultDomains()
	if err != nil {
		return err
	}
	if err := a.seed(ctx, domains); err != nil {
		return err
	}

	// 6. OpenAPI контракт для валидации запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		return err
	}

	// 7. Роутер
	apiHandler := handlers.NewAPIHandler(handlers.Services{
		Accounts:   a.accounts,
		Catalog:    a.catalog,
		Datasets:   a.datasets,
		Ingestion:  a.ingestion,
		Engagement: a.engagement,
		Queries:    a.queries,
	}, handlers.SessionCookie{Name: cfg.SessionCookie, Secure: cfg.SessionSecure}, logger)

	router := server.NewRouter(server.Routes{
		API:       apiHandler,
		Health:    handlers.NewHealthHandler(database.NewReadinessChecker(pool), blobs),
		Identity:  middleware.NewIdentity(a.accounts, cfg.SessionCookie, logger),
		Validator: middleware.NewValidator(doc, logger),
	}, logger)

	// 8. topologymetrics — мониторинг PostgreSQL
	dephealthSvc, err := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, router)
	runErr := srv.Run()

	// 10. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("Nosdonnées остановлен")
	return nil
}
