// Пакет config — загрузка и валидация конфигурации Nosdonnées
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера; чтение и запись рассчитаны на файлы до MaxUploadSize
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула подключений
	DBMaxConns int

	// --- Хранилище файлов ---

	// Директория для загруженных файлов
	DataDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// --- Каталог и модерация ---

	// Размер страницы при выводе списка датасетов
	PageSize int
	// Датасеты, загруженные администратором, сразу валидируются
	AutoValidateAdminUploads bool
	// Роль, назначаемая при регистрации
	DefaultRole string

	// --- Сессии ---

	// Ключ HMAC для подписи сессионных токенов
	SessionSecret []byte
	// Время жизни сессии
	SessionTTL time.Duration
	// Имя cookie сессии
	SessionCookie string
	// Флаг Secure для cookie
	SessionSecure bool
	// Стоимость bcrypt
	BcryptCost int

	// --- Кэш ---

	CacheSize int
	CacheTTL  time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Начальные данные ---

	AdminUsername string
	AdminEmail    string
	// Пустой пароль — администратор не создаётся
	AdminPassword string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("ND_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("ND_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ND_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ND_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ND_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("ND_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ND_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("ND_HTTP_READ_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ND_HTTP_READ_TIMEOUT: %w", err)
	}

	cfg.HTTPWriteTimeout, err = getEnvDuration("ND_HTTP_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ND_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("ND_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ND_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("ND_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("ND_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ND_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("ND_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("ND_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("ND_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("ND_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("ND_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("ND_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("ND_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("ND_DB_MAX_CONNS: значение должно быть положительным, получено %d", cfg.DBMaxConns)
	}

	// --- Хранилище файлов ---

	cfg.DataDir = getEnvDefault("ND_DATA_DIR", "./uploads")

	cfg.MaxUploadSize, err = parseSize(getEnvDefault("ND_MAX_UPLOAD_SIZE", "100MiB"))
	if err != nil {
		return nil, fmt.Errorf("ND_MAX_UPLOAD_SIZE: %w", err)
	}

	// --- Каталог и модерация ---

	cfg.PageSize, err = getEnvInt("ND_PAGE_SIZE", 12)
	if err != nil {
		return nil, fmt.Errorf("ND_PAGE_SIZE: %w", err)
	}
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return nil, fmt.Errorf("ND_PAGE_SIZE: значение %d вне допустимого диапазона 1-100", cfg.PageSize)
	}

	cfg.AutoValidateAdminUploads, err = getEnvBool("ND_AUTO_VALIDATE_ADMIN_UPLOADS", true)
	if err != nil {
		return nil, fmt.Errorf("ND_AUTO_VALIDATE_ADMIN_UPLOADS: %w", err)
	}

	cfg.DefaultRole = getEnvDefault("ND_DEFAULT_ROLE", "visitor")
	if cfg.DefaultRole != "visitor" && cfg.DefaultRole != "contributor" {
		return nil, fmt.Errorf("ND_DEFAULT_ROLE: недопустимое значение %q, допустимые: visitor, contributor", cfg.DefaultRole)
	}

	// --- Сессии ---

	secret, err := getEnvRequired("ND_SESSION_SECRET")
	if err != nil {
		return nil, err
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("ND_SESSION_SECRET: минимальная длина 32 байта, получено %d", len(secret))
	}
	cfg.SessionSecret = []byte(secret)

	cfg.SessionTTL, err = getEnvDuration("ND_SESSION_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ND_SESSION_TTL: %w", err)
	}

	cfg.SessionCookie = getEnvDefault("ND_SESSION_COOKIE", "nosdonnees_session")

	cfg.SessionSecure, err = getEnvBool("ND_SESSION_SECURE", false)
	if err != nil {
		return nil, fmt.Errorf("ND_SESSION_SECURE: %w", err)
	}

	cfg.BcryptCost, err = getEnvInt("ND_BCRYPT_COST", 12)
	if err != nil {
		return nil, fmt.Errorf("ND_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("ND_BCRYPT_COST: значение %d вне допустимого диапазона 4-31", cfg.BcryptCost)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("ND_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("ND_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("ND_CACHE_SIZE: значение должно быть положительным, получено %d", cfg.CacheSize)
	}

	cfg.CacheTTL, err = getEnvDuration("ND_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("ND_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("ND_DEPHEALTH_GROUP", "nosdonnees")

	cfg.DephealthCheckInterval, err = getEnvDuration("ND_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ND_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Начальные данные ---

	cfg.AdminUsername = getEnvDefault("ND_ADMIN_USERNAME", "admin")
	cfg.AdminEmail = getEnvDefault("ND_ADMIN_EMAIL", "admin@nosdonnees.fr")
	cfg.AdminPassword = os.Getenv("ND_ADMIN_PASSWORD")

	cfg.ShutdownTimeout, err = getEnvDuration("ND_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ND_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL для лейблов topologymetrics.
// Пароль в URL не включается.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// sizeUnits — множители единиц размера. Проверяются по порядку,
// поэтому двухбуквенные суффиксы стоят раньше однобуквенных.
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// parseSize разбирает размер вида "100MiB", "50MB", "1024" в байты.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	multiplier := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректный размер: %q", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("размер должен быть положительным, получено %d", n)
	}
	return n * multiplier, nil
}
