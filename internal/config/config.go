// Пакет config — загрузка и валидация конфигурации Ingest Module
// из переменных окружения (с опциональной предзагрузкой .env файла).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые backend'ы хранилища метаданных.
const (
	BackendFS        = "fs"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMongo     = "mongo"
	BackendFirestore = "firestore"
)

// DefaultMaxUploadSize — максимальный размер загружаемого файла по умолчанию (100 MiB).
const DefaultMaxUploadSize int64 = 100 << 20

// Config содержит все параметры конфигурации Ingest Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Идентификатор сервиса (вершина графа topologymetrics).
	// Пустой — вычисляется из hostname (см. cmd/ingest-module)
	ServiceID string
	// Публичный базовый URL для построения accessUrl
	PublicBaseURL string
	// Сегмент URL, под которым смонтирована директория blob'ов
	StaticPrefix string
	// Директория хранения загруженных файлов
	DataDir string
	// Директория журнала намерений (ingest/delete)
	JournalDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64

	// Backend метаданных: fs, postgres, redis, mongo, firestore
	MetaBackend string
	// Корень партиционированного пространства ключей (<root>/<ownerKey>/<id>)
	MetaRoot string
	// Директория документов для fs backend
	MetaDir string

	// PostgreSQL (backend postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Redis (backend redis)
	RedisURL string

	// MongoDB (backend mongo)
	MongoURI      string
	MongoDatabase string

	// Firestore (backend firestore)
	FirestoreProject     string
	FirestoreCredentials string

	// Размер и TTL LRU-кэша id → ownerKey
	OwnerCacheSize int
	OwnerCacheTTL  time.Duration
	// Максимальный limit для кросс-партиционного листинга
	ListAllMaxLimit int

	// Интервал фоновой сверки журнала и blob'ов
	ReconcileInterval time.Duration
	// Удалять ли осиротевшие blob'ы при сверке (иначе только отчёт)
	ReconcileRemoveOrphans bool
	// Интервал проверки доступности backend'а метаданных
	AvailabilityCheckInterval time.Duration

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// TLS (опционально, оба или ни одного)
	TLSCert string
	TLSKey  string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией (опционально)
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Перед чтением переменных подгружается dotenv-файл (IM_ENV_FILE, по умолчанию .env),
// если он существует. Уже заданные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if err := loadDotenv(getEnvDefault("IM_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// IM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("IM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// IM_SERVICE_ID — пусто: имя определяется из hostname пода при запуске
	cfg.ServiceID = strings.TrimSpace(os.Getenv("IM_SERVICE_ID"))

	// IM_PUBLIC_BASE_URL — адрес, из которого строится accessUrl
	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("IM_PUBLIC_BASE_URL", "http://localhost:8030"), "/")
	if u, perr := url.Parse(cfg.PublicBaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("IM_PUBLIC_BASE_URL: некорректный URL %q", cfg.PublicBaseURL)
	}

	cfg.StaticPrefix = strings.Trim(getEnvDefault("IM_STATIC_PREFIX", "static"), "/")
	if cfg.StaticPrefix == "" || strings.Contains(cfg.StaticPrefix, "/") {
		return nil, fmt.Errorf("IM_STATIC_PREFIX: ожидается один сегмент пути, получено %q", cfg.StaticPrefix)
	}

	// IM_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("IM_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// IM_JOURNAL_DIR — обязательный
	cfg.JournalDir, err = getEnvRequired("IM_JOURNAL_DIR")
	if err != nil {
		return nil, err
	}

	// IM_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxUploadSize, err = getEnvInt64("IM_MAX_UPLOAD_SIZE", DefaultMaxUploadSize)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("IM_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	if err := cfg.loadBackend(); err != nil {
		return nil, err
	}

	cfg.OwnerCacheSize, err = getEnvInt("IM_OWNER_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("IM_OWNER_CACHE_SIZE: %w", err)
	}
	if cfg.OwnerCacheSize <= 0 {
		return nil, fmt.Errorf("IM_OWNER_CACHE_SIZE: значение должно быть положительным")
	}
	cfg.OwnerCacheTTL, err = getEnvDuration("IM_OWNER_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_OWNER_CACHE_TTL: %w", err)
	}

	cfg.ListAllMaxLimit, err = getEnvInt("IM_LIST_ALL_MAX_LIMIT", 1000)
	if err != nil {
		return nil, fmt.Errorf("IM_LIST_ALL_MAX_LIMIT: %w", err)
	}
	if cfg.ListAllMaxLimit <= 0 {
		return nil, fmt.Errorf("IM_LIST_ALL_MAX_LIMIT: значение должно быть положительным")
	}

	// IM_RECONCILE_INTERVAL — интервал сверки (по умолчанию 1h)
	cfg.ReconcileInterval, err = getEnvDuration("IM_RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_RECONCILE_INTERVAL: %w", err)
	}
	cfg.ReconcileRemoveOrphans, err = getEnvBool("IM_RECONCILE_REMOVE_ORPHANS", false)
	if err != nil {
		return nil, fmt.Errorf("IM_RECONCILE_REMOVE_ORPHANS: %w", err)
	}

	cfg.AvailabilityCheckInterval, err = getEnvDuration("IM_AVAILABILITY_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_AVAILABILITY_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "ingest-module")
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// Интервалы тикеров должны быть положительными
	for name, d := range map[string]time.Duration{
		"IM_RECONCILE_INTERVAL":          cfg.ReconcileInterval,
		"IM_AVAILABILITY_CHECK_INTERVAL": cfg.AvailabilityCheckInterval,
		"IM_DEPHEALTH_CHECK_INTERVAL":    cfg.DephealthCheckInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s: интервал должен быть положительным, получено %s", name, d)
		}
	}

	// TLS — либо оба параметра, либо ни одного
	cfg.TLSCert = getEnvDefault("IM_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("IM_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("IM_TLS_CERT и IM_TLS_KEY задаются только вместе")
	}

	// IM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("IM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	// IM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("IM_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("IM_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("IM_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("IM_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("IM_LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("IM_LOG_MAX_AGE_DAYS", 28); err != nil {
		return nil, fmt.Errorf("IM_LOG_MAX_AGE_DAYS: %w", err)
	}

	// IM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadBackend читает параметры выбранного backend'а метаданных.
func (cfg *Config) loadBackend() error {
	var err error

	cfg.MetaBackend = getEnvDefault("IM_META_BACKEND", BackendFS)
	cfg.MetaRoot = getEnvDefault("IM_META_ROOT", "files")
	if strings.ContainsAny(cfg.MetaRoot, "/:. ") {
		return fmt.Errorf("IM_META_ROOT: недопустимые символы в %q", cfg.MetaRoot)
	}

	switch cfg.MetaBackend {
	case BackendFS:
		cfg.MetaDir, err = getEnvRequired("IM_META_DIR")
		if err != nil {
			return err
		}

	case BackendPostgres:
		if cfg.DBHost, err = getEnvRequired("IM_DB_HOST"); err != nil {
			return err
		}
		if cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432); err != nil {
			return fmt.Errorf("IM_DB_PORT: %w", err)
		}
		if cfg.DBName, err = getEnvRequired("IM_DB_NAME"); err != nil {
			return err
		}
		if cfg.DBUser, err = getEnvRequired("IM_DB_USER"); err != nil {
			return err
		}
		if cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD"); err != nil {
			return err
		}
		cfg.DBSSLMode = getEnvDefault("IM_DB_SSL_MODE", "disable")

	case BackendRedis:
		if cfg.RedisURL, err = getEnvRequired("IM_REDIS_URL"); err != nil {
			return err
		}

	case BackendMongo:
		if cfg.MongoURI, err = getEnvRequired("IM_MONGO_URI"); err != nil {
			return err
		}
		cfg.MongoDatabase = getEnvDefault("IM_MONGO_DATABASE", "ingest")

	case BackendFirestore:
		if cfg.FirestoreProject, err = getEnvRequired("IM_FIRESTORE_PROJECT"); err != nil {
			return err
		}
		cfg.FirestoreCredentials = getEnvDefault("IM_FIRESTORE_CREDENTIALS", "")

	default:
		return fmt.Errorf("IM_META_BACKEND: недопустимое значение %q, допустимые: fs, postgres, redis, mongo, firestore",
			cfg.MetaBackend)
	}

	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (cfg *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.DBUser), url.QueryEscape(cfg.DBPassword),
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (cfg *Config) MigrateURL() string {
	return fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.DBUser), url.QueryEscape(cfg.DBPassword),
		cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBSSLMode)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном IM_LOG_FILE логи пишутся одновременно в stdout и в файл с ротацией.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadDotenv подгружает переменные из dotenv-файла. Отсутствие файла не ошибка.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("IM_ENV_FILE: ошибка чтения %s: %w", path, err)
	}
	return nil
}

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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
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
