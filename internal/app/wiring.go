package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsarchive/internal/config"
	"github.com/hitoshi/newsarchive/internal/database"
	"github.com/hitoshi/newsarchive/internal/ingest"
	"github.com/hitoshi/newsarchive/internal/metrics"
	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/notify"
	"github.com/hitoshi/newsarchive/internal/repository"
	"github.com/hitoshi/newsarchive/internal/resolver"
	"github.com/hitoshi/newsarchive/internal/security"
	"github.com/hitoshi/newsarchive/internal/source"
	"github.com/hitoshi/newsarchive/internal/storage"
)

// archiveReader は参照APIが利用するアーカイブ読み込み元。
type archiveReader interface {
	Read(ctx context.Context) (*model.Archive, model.VersionToken, error)
	Describe() string
}

// closers は終了時に解放するリソースを保持する。
type closers []func() error

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			slog.Warn("failed to release resource", slog.String("error", err.Error()))
		}
	}
}

// newArchiveRepository はARCHIVE_BACKENDに応じたアーカイブリポジトリを生成する。
func newArchiveRepository(ctx context.Context, cfg *config.Config) (repository.ArchiveRepository, closers, error) {
	switch cfg.ArchiveBackend {
	case config.BackendGitHub:
		s, err := storage.NewGitHubStore(ctx, storage.GitHubConfig{
			Token:  cfg.GitHubToken,
			Owner:  cfg.GitHubOwner,
			Repo:   cfg.GitHubRepo,
			Path:   cfg.GitHubFilePath,
			Branch: cfg.GitHubBranch,
			APIURL: cfg.GitHubAPIURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.BackendS3:
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Key:          cfg.S3Key,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.BackendPostgres:
		db, err := database.OpenAndPing(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("database connection established")
		return repository.NewPostgresArchiveRepo(db, cfg.ArchiveName), closers{db.Close}, nil

	case config.BackendFile:
		return storage.NewFileStore(cfg.ArchivePath), nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported archive backend %q", cfg.ArchiveBackend)
	}
}

// newArchiveReader は参照API用のアーカイブ読み込み元を生成する。
// REDIS_URLが設定されていれば読み込み結果をRedisにキャッシュする。
// Redisに接続できない場合はキャッシュなしで続行する。
func newArchiveReader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (archiveReader, closers, error) {
	repo, cl, err := newArchiveRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.RedisURL == "" {
		return repo, cl, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		cl.Close()
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("failed to connect to redis, serving without cache",
			slog.String("error", err.Error()),
		)
		rdb.Close()
		return repo, cl, nil
	}

	cl = append(cl, rdb.Close)
	return storage.NewCachedReader(repo, rdb, cfg.ArchiveCacheTTL, logger), cl, nil
}

// newSource はSOURCE_KINDに応じた検索元を生成する。
func newSource(ctx context.Context, cfg *config.Config, guard *security.SSRFGuard, logger *slog.Logger) (ingest.Source, error) {
	switch cfg.SourceKind {
	case config.SourceCustomSearch:
		cs, err := source.NewCustomSearch(ctx, source.CustomSearchConfig{
			APIKey:   cfg.GoogleAPIKey,
			CX:       cfg.GoogleCX,
			Site:     cfg.SourceSite,
			Language: cfg.SourceLanguage,
		}, logger)
		if err != nil {
			return nil, err
		}
		return cs, nil
	case config.SourceRSS:
		return source.NewRSSSource(cfg.SourceFeedURL, guard.NewSafeClient(cfg.ResolveTimeout), logger), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.SourceKind)
	}
}

// newPacers は検索前・記事取得前の待機戦略を生成する。
// SOURCE_MIN_INTERVALが設定されている場合は検索間隔の下限を追加する。
func newPacers(cfg *config.Config) (query, resolve ingest.Pacer) {
	query = ingest.RandomDelayPacer{Base: cfg.QueryDelay, Jitter: cfg.QueryJitter}
	if cfg.SourceMinInterval > 0 {
		query = ingest.ChainPacer{query, ingest.NewRateLimitPacer(cfg.SourceMinInterval)}
	}
	resolve = ingest.RandomDelayPacer{Base: cfg.ResolveDelay, Jitter: cfg.ResolveJitter}
	return query, resolve
}

// newPublisher はKAFKA_BROKERSが設定されている場合にKafkaへの通知を生成する。
func newPublisher(cfg *config.Config, logger *slog.Logger) (ingest.Publisher, closers, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil, nil
	}
	p, err := notify.NewKafkaPublisher(notify.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, closers{p.Close}, nil
}

// newIngestService は収集1回分の処理に必要な依存関係をワイヤリングする。
func newIngestService(ctx context.Context, cfg *config.Config, mc metrics.MetricsCollector, logger *slog.Logger) (*ingest.Service, closers, error) {
	var cl closers

	repo, repoClosers, err := newArchiveRepository(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize archive store: %w", err)
	}
	cl = append(cl, repoClosers...)

	guard := security.NewSSRFGuard()
	src, err := newSource(ctx, cfg, guard, logger)
	if err != nil {
		cl.Close()
		return nil, nil, fmt.Errorf("failed to initialize source: %w", err)
	}

	publisher, pubClosers, err := newPublisher(cfg, logger)
	if err != nil {
		cl.Close()
		return nil, nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}
	cl = append(cl, pubClosers...)

	loc := cfg.Location()
	res := resolver.New(resolver.Config{
		Timeout:        cfg.ResolveTimeout,
		MaxBytes:       cfg.ResolveMaxBytes,
		AcceptLanguage: cfg.AcceptLanguage,
		Location:       loc,
	}, guard, logger)

	queryPacer, resolvePacer := newPacers(cfg)
	engine := ingest.NewEngine(src, res, ingest.EngineConfig{
		MaxResults:       cfg.MaxSearchResults,
		URLFilter:        cfg.SourceURLFilter,
		MinContentLength: cfg.MinContentLength,
		Location:         loc,
	}, logger, ingest.WithPacers(queryPacer, resolvePacer), ingest.WithMetrics(mc))

	fallback := func(now time.Time) repository.ArchiveRepository {
		return storage.NewBackupStore(cfg.BackupDir, now)
	}

	svc := ingest.NewService(engine, repo, fallback, publisher, ingest.ServiceConfig{
		Topics:              cfg.Topics,
		DefaultLookbackDays: cfg.DefaultLookbackDays,
		Location:            loc,
	}, mc, logger)

	return svc, cl, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
