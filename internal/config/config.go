package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/newsarchive/internal/model"
)

// アーカイブの保存先バックエンド。
const (
	BackendGitHub   = "github"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// 候補記事の検索元。
const (
	SourceCustomSearch = "customsearch"
	SourceRSS          = "rss"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Archive
	ArchiveBackend       string
	ArchiveName          string
	ArchivePath          string
	BackupDir            string
	BackupRetentionDays  int
	ArchiveTZOffsetHours int

	// GitHub
	GitHubToken    string
	GitHubOwner    string
	GitHubRepo     string
	GitHubFilePath string
	GitHubBranch   string
	GitHubAPIURL   string

	// S3
	S3Bucket       string
	S3Key          string
	S3Region       string
	S3Endpoint     string
	S3UsePathStyle bool

	// Database
	DatabaseURL string

	// Source
	SourceKind       string
	GoogleAPIKey     string
	GoogleCX         string
	SourceFeedURL    string
	SourceSite       string
	SourceURLFilter  string
	SourceLanguage   string
	MaxSearchResults int

	// Ingest
	DefaultLookbackDays int
	MinContentLength    int
	CategoriesFile      string
	Topics              []model.Topic
	IngestInterval      time.Duration
	IngestSchedule      string

	// Resolve
	ResolveTimeout  time.Duration
	ResolveMaxBytes int64
	AcceptLanguage  string

	// Pacing
	ResolveDelay      time.Duration
	ResolveJitter     time.Duration
	QueryDelay        time.Duration
	QueryJitter       time.Duration
	SourceMinInterval time.Duration

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Cache
	RedisURL        string
	ArchiveCacheTTL time.Duration

	// Server
	ServerPort        string
	RateLimitGeneral  int
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// LoadDotEnv はカレントディレクトリの.envファイルを環境変数へ読み込む。
// ファイルが存在しない場合は何もしない。既存の環境変数は上書きしない。
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	var present []string
	for _, f := range filenames {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の未設定や不正値は *model.ConfigError としてまとめて返す。
func Load() (*Config, error) {
	return load(true)
}

// LoadWithoutSource は検索元の必須項目を検証せずにConfigを読み込む。
// 検索を行わないコマンド（serve, migrate）で使う。
func LoadWithoutSource() (*Config, error) {
	return load(false)
}

func load(requireSource bool) (*Config, error) {
	cfg := &Config{}
	cfgErr := &model.ConfigError{}

	cfg.ArchiveBackend = strings.ToLower(getEnvString("ARCHIVE_BACKEND", BackendGitHub))
	cfg.ArchiveName = getEnvString("ARCHIVE_NAME", "reuters_archive")
	cfg.ArchivePath = getEnvString("ARCHIVE_PATH", "reuters_archive.json")
	cfg.BackupDir = getEnvString("BACKUP_DIR", ".")
	cfg.BackupRetentionDays = getEnvInt("BACKUP_RETENTION_DAYS", 30)
	cfg.ArchiveTZOffsetHours = getEnvInt("ARCHIVE_TZ_OFFSET_HOURS", 8)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	switch cfg.ArchiveBackend {
	case BackendGitHub:
		cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
		if cfg.GitHubToken == "" {
			cfgErr.Missing = append(cfgErr.Missing, "GITHUB_TOKEN")
		}
		repo := os.Getenv("GITHUB_REPO")
		if repo == "" {
			cfgErr.Missing = append(cfgErr.Missing, "GITHUB_REPO")
		} else if owner, name, ok := splitRepo(repo); ok {
			cfg.GitHubOwner, cfg.GitHubRepo = owner, name
		} else {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("GITHUB_REPO must be owner/name, got %q", repo))
		}
	case BackendS3:
		cfg.S3Bucket = os.Getenv("S3_BUCKET")
		if cfg.S3Bucket == "" {
			cfgErr.Missing = append(cfgErr.Missing, "S3_BUCKET")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			cfgErr.Missing = append(cfgErr.Missing, "DATABASE_URL")
		}
	case BackendFile:
	default:
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("ARCHIVE_BACKEND must be one of github, s3, postgres, file, got %q", cfg.ArchiveBackend))
	}
	cfg.GitHubFilePath = getEnvString("GITHUB_FILE_PATH", "reuters_archive.json")
	cfg.GitHubBranch = os.Getenv("GITHUB_BRANCH")
	cfg.GitHubAPIURL = os.Getenv("GITHUB_API_URL")
	cfg.S3Key = getEnvString("S3_KEY", "reuters_archive.json")
	cfg.S3Region = getEnvString("S3_REGION", "ap-northeast-1")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3UsePathStyle = getEnvBool("S3_USE_PATH_STYLE", false)

	cfg.SourceKind = strings.ToLower(getEnvString("SOURCE_KIND", SourceCustomSearch))
	switch cfg.SourceKind {
	case SourceCustomSearch:
		cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
		if cfg.GoogleAPIKey == "" && requireSource {
			cfgErr.Missing = append(cfgErr.Missing, "GOOGLE_API_KEY")
		}
		cfg.GoogleCX = os.Getenv("GOOGLE_CX")
		if cfg.GoogleCX == "" && requireSource {
			cfgErr.Missing = append(cfgErr.Missing, "GOOGLE_CX")
		}
	case SourceRSS:
		cfg.SourceFeedURL = os.Getenv("SOURCE_FEED_URL")
		if cfg.SourceFeedURL == "" && requireSource {
			cfgErr.Missing = append(cfgErr.Missing, "SOURCE_FEED_URL")
		}
	default:
		cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("SOURCE_KIND must be customsearch or rss, got %q", cfg.SourceKind))
	}
	cfg.SourceSite = getEnvString("SOURCE_SITE", "tw.tradingview.com/news/reuters.com/")
	cfg.SourceURLFilter = getEnvString("SOURCE_URL_FILTER", "tw.tradingview.com/news/reuters.com")
	cfg.SourceLanguage = getEnvString("SOURCE_LANGUAGE", "lang_zh-TW")
	cfg.MaxSearchResults = getEnvInt("MAX_SEARCH_RESULTS", 20)

	cfg.DefaultLookbackDays = getEnvInt("DEFAULT_LOOKBACK_DAYS", 5)
	cfg.MinContentLength = getEnvInt("MIN_CONTENT_LENGTH", 100)
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", 6*time.Hour)
	cfg.IngestSchedule = os.Getenv("INGEST_SCHEDULE")

	cfg.ResolveTimeout = getEnvDuration("RESOLVE_TIMEOUT", 15*time.Second)
	cfg.ResolveMaxBytes = getEnvInt64("RESOLVE_MAX_BYTES", 5242880)
	cfg.AcceptLanguage = getEnvString("ACCEPT_LANGUAGE", "zh-TW,zh;q=0.9,en;q=0.8")

	cfg.ResolveDelay = getEnvDuration("RESOLVE_DELAY", 3*time.Second)
	cfg.ResolveJitter = getEnvDuration("RESOLVE_JITTER", 2*time.Second)
	cfg.QueryDelay = getEnvDuration("QUERY_DELAY", 5*time.Second)
	cfg.QueryJitter = getEnvDuration("QUERY_JITTER", 3*time.Second)
	cfg.SourceMinInterval = getEnvDuration("SOURCE_MIN_INTERVAL", 0)

	cfg.KafkaBrokers = getEnvList("KAFKA_BROKERS")
	cfg.KafkaTopic = getEnvString("KAFKA_TOPIC", "newsarchive.records")

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.ArchiveCacheTTL = getEnvDuration("ARCHIVE_CACHE_TTL", time.Minute)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CORSAllowedOrigin = os.Getenv("CORS_ALLOWED_ORIGIN")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.MaxSearchResults <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "MAX_SEARCH_RESULTS must be positive")
	}
	if cfg.DefaultLookbackDays <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "DEFAULT_LOOKBACK_DAYS must be positive")
	}
	if cfg.MinContentLength < 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "MIN_CONTENT_LENGTH must not be negative")
	}
	if cfg.ArchiveTZOffsetHours < -12 || cfg.ArchiveTZOffsetHours > 14 {
		cfgErr.Invalid = append(cfgErr.Invalid, "ARCHIVE_TZ_OFFSET_HOURS must be between -12 and 14")
	}
	if cfg.BackupRetentionDays < 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "BACKUP_RETENTION_DAYS must not be negative")
	}
	if cfg.ResolveTimeout <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "RESOLVE_TIMEOUT must be positive")
	}
	if cfg.IngestInterval <= 0 {
		cfgErr.Invalid = append(cfgErr.Invalid, "INGEST_INTERVAL must be positive")
	}
	if cfg.IngestSchedule != "" {
		if _, err := cron.ParseStandard(cfg.IngestSchedule); err != nil {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("INGEST_SCHEDULE is not a valid cron expression: %v", err))
		}
	}

	cfg.CategoriesFile = os.Getenv("CATEGORIES_FILE")
	if cfg.CategoriesFile != "" {
		topics, err := LoadTopics(cfg.CategoriesFile)
		if err != nil {
			cfgErr.Invalid = append(cfgErr.Invalid, err.Error())
		}
		cfg.Topics = topics
	} else {
		cfg.Topics = model.DefaultTopics()
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return nil, cfgErr
	}
	return cfg, nil
}

// Location はアーカイブの日付・時刻を表すタイムゾーンを返す。
func (c *Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.ArchiveTZOffsetHours), c.ArchiveTZOffsetHours*3600)
}

func splitRepo(s string) (owner, name string, ok bool) {
	owner, name, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
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

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
