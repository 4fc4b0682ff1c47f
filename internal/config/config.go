package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/catalogmirror/internal/database"
)

// PRESENCE_OBSERVE_POLICY の値
const (
	ObserveRequeue = "requeue"
	ObserveRestore = "restore"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DatabaseDriver string

	// Catalog
	CatalogBaseURL             string
	CatalogPageParam           string
	CatalogMinTotalPages       int
	CatalogPageDelay           time.Duration
	CatalogMaxPagesPerRun      int
	CatalogSweepMaxFailedPages int
	CatalogPassInterval        time.Duration

	// Fetch
	FetchTimeout       time.Duration
	FetchMaxSize       int64
	FetchRetryAttempts int
	FetchRetryDelay    time.Duration
	FetchUserAgent     string
	FetchAllowPrivate  bool

	// Detail worker
	DetailConcurrency     int
	DetailBatchSize       int
	DetailPollInterval    time.Duration
	DetailStaleAfter      time.Duration
	DetailReclaimInterval time.Duration
	DetailMaxAttempts     int
	DetailRatePerSec      float64
	DetailDrainTimeout    time.Duration
	DetailRequeueOnChange bool

	// Presence
	PresenceObservePolicy string

	// Archive
	ArchiveInactiveAfter time.Duration
	ArchiveInterval      time.Duration

	// Parser
	ParserSelectorsFile string

	// Rate Limit
	RateLimitExport int

	// Server
	ServerPort string

	// Logging
	LogLevel string
}

// LoadDotEnv は.envファイルを環境変数に読み込む。ファイルが無い場合は何もしない。
// 既に設定済みの環境変数は上書きしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.CatalogBaseURL = os.Getenv("CATALOG_BASE_URL")
	if cfg.CatalogBaseURL == "" {
		missing = append(missing, "CATALOG_BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DatabaseDriver = getEnvString("DATABASE_DRIVER", database.DetectDriver(cfg.DatabaseURL))
	cfg.CatalogPageParam = getEnvString("CATALOG_PAGE_PARAM", "pg")
	cfg.CatalogMinTotalPages = getEnvInt("CATALOG_MIN_TOTAL_PAGES", 3000)
	cfg.CatalogPageDelay = getEnvDuration("CATALOG_PAGE_DELAY", 300*time.Millisecond)
	cfg.CatalogMaxPagesPerRun = getEnvInt("CATALOG_MAX_PAGES_PER_RUN", 0)
	cfg.CatalogSweepMaxFailedPages = getEnvInt("CATALOG_SWEEP_MAX_FAILED_PAGES", 0)
	cfg.CatalogPassInterval = getEnvDuration("CATALOG_PASS_INTERVAL", time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 20*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.FetchRetryAttempts = getEnvInt("FETCH_RETRY_ATTEMPTS", 3)
	cfg.FetchRetryDelay = getEnvDuration("FETCH_RETRY_DELAY", time.Second)
	cfg.FetchUserAgent = getEnvString("FETCH_USER_AGENT", "")
	cfg.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", false)
	cfg.DetailConcurrency = getEnvInt("DETAIL_CONCURRENCY", 5)
	cfg.DetailBatchSize = getEnvInt("DETAIL_BATCH_SIZE", 50)
	cfg.DetailPollInterval = getEnvDuration("DETAIL_POLL_INTERVAL", 2*time.Second)
	cfg.DetailStaleAfter = getEnvDuration("DETAIL_STALE_AFTER", 10*time.Minute)
	cfg.DetailReclaimInterval = getEnvDuration("DETAIL_RECLAIM_INTERVAL", time.Minute)
	cfg.DetailMaxAttempts = getEnvInt("DETAIL_MAX_ATTEMPTS", 0)
	cfg.DetailRatePerSec = getEnvFloat("DETAIL_RATE_PER_SEC", 0)
	cfg.DetailDrainTimeout = getEnvDuration("DETAIL_DRAIN_TIMEOUT", 10*time.Hour)
	cfg.DetailRequeueOnChange = getEnvBool("DETAIL_REQUEUE_ON_CHANGE", false)
	cfg.PresenceObservePolicy = strings.ToLower(getEnvString("PRESENCE_OBSERVE_POLICY", ObserveRequeue))
	cfg.ArchiveInactiveAfter = getEnvDuration("ARCHIVE_INACTIVE_AFTER", 90*24*time.Hour)
	cfg.ArchiveInterval = getEnvDuration("ARCHIVE_INTERVAL", 24*time.Hour)
	cfg.ParserSelectorsFile = getEnvString("PARSER_SELECTORS_FILE", "")
	cfg.RateLimitExport = getEnvInt("RATE_LIMIT_EXPORT", 6)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case database.DriverPostgres, database.DriverPgx, database.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be one of postgres, pgx, sqlite: %q", c.DatabaseDriver)
	}
	switch c.PresenceObservePolicy {
	case ObserveRequeue, ObserveRestore:
	default:
		return fmt.Errorf("PRESENCE_OBSERVE_POLICY must be %q or %q: %q", ObserveRequeue, ObserveRestore, c.PresenceObservePolicy)
	}
	if c.CatalogSweepMaxFailedPages < 0 {
		return fmt.Errorf("CATALOG_SWEEP_MAX_FAILED_PAGES must not be negative: %d", c.CatalogSweepMaxFailedPages)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
