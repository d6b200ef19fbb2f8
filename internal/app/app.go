// Package app はアプリケーションの起動とサブコマンドの実行を提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsarchive/internal/config"
	"github.com/hitoshi/newsarchive/internal/database"
	"github.com/hitoshi/newsarchive/internal/handler"
	"github.com/hitoshi/newsarchive/internal/ingest"
	"github.com/hitoshi/newsarchive/internal/logger"
	"github.com/hitoshi/newsarchive/internal/metrics"
	"github.com/hitoshi/newsarchive/internal/middleware"
	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/worker"
	"github.com/hitoshi/newsarchive/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer, cmd Command) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. .envファイルがあれば環境変数へ読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	load := config.Load
	if !cmd.needsSource() {
		load = config.LoadWithoutSource
	}
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w, cmd)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("archive_backend", cfg.ArchiveBackend),
		slog.String("source_kind", cfg.SourceKind),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runIngest(ctx, cfg, w)
	}
}

// runIngest は収集を1回実行し、結果のサマリーをwへ出力する。
// バックアップへの退避または退避失敗の場合はエラーを返し、プロセスは非0で終了する。
func runIngest(ctx context.Context, cfg *config.Config, w io.Writer) error {
	svc, cl, err := newIngestService(ctx, cfg, metrics.NopCollector{}, slog.Default())
	if err != nil {
		return err
	}
	defer cl.Close()

	return runAndReport(ctx, svc, w)
}

// ingestRunner はrunAndReportが利用する収集の実行インターフェース。
type ingestRunner interface {
	RunOnce(ctx context.Context) (*model.RunReport, error)
}

func runAndReport(ctx context.Context, svc ingestRunner, w io.Writer) error {
	report, err := svc.RunOnce(ctx)
	if report != nil {
		if werr := ingest.WriteSummary(w, report); werr != nil {
			slog.Warn("failed to write run summary", slog.String("error", werr.Error()))
		}
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if report != nil && report.Persist == model.PersistFallback {
		return fmt.Errorf("%w: %s (%s)", model.ErrPersistenceFallback, report.BackupPath, report.PersistError)
	}
	return nil
}

// newRegistry はアプリケーションとランタイムのメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runWorker はワーカーモードで起動する。
// 収集スケジューラを起動し、/metrics と /health をSERVER_PORTで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	reg, mc := newRegistry()

	// 1. 収集サービスの初期化
	svc, cl, err := newIngestService(ctx, cfg, mc, slog.Default())
	if err != nil {
		return err
	}
	defer cl.Close()

	// 2. バックアップクリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(cfg.BackupDir, cfg.Location(), slog.Default())
	cleanupJob.RetentionDays = cfg.BackupRetentionDays

	// 3. メトリクスサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(reg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	schedule, err := worker.NewSchedule(cfg.IngestSchedule, cfg.IngestInterval)
	if err != nil {
		return err
	}

	slog.Info("worker starting",
		slog.Duration("ingest_interval", cfg.IngestInterval),
		slog.String("ingest_schedule", cfg.IngestSchedule),
		slog.Int("categories", len(cfg.Topics)),
		slog.Int("backup_retention_days", cfg.BackupRetentionDays),
	)

	// 4. スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler := worker.NewScheduler(svc, cleanupJob, slog.Default())
	scheduler.Start(ctx, schedule)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runServe はアーカイブ参照APIサーバーモードで起動する。
// アーカイブの読み込みのみを行い、書き込みはしない。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. アーカイブストアの初期化（REDIS_URLがあればキャッシュ付き）
	repo, cl, err := newArchiveReader(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize archive store: %w", err)
	}
	defer cl.Close()

	// 2. ルーターの構築
	reg, _ := newRegistry()
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Archive:           repo,
		Gatherer:          reg,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
	})

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("store", repo.Describe()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return &model.ConfigError{Missing: []string{"DATABASE_URL"}}
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
