package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsarchive/internal/dedup"
	"github.com/hitoshi/newsarchive/internal/metrics"
	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/repository"
)

// Publisher は新たにアーカイブされた記事を外部へ通知する。
type Publisher interface {
	Publish(ctx context.Context, runID string, records []model.Record) error
}

// FallbackFactory は実行時刻に対応する退避先を返す。
// 退避先への書き込みは常に新規作成として行う。
type FallbackFactory func(now time.Time) repository.ArchiveRepository

// ServiceConfig はServiceの設定。
type ServiceConfig struct {
	Topics              []model.Topic
	DefaultLookbackDays int
	Location            *time.Location
}

// Service はアーカイブの読み込みから書き込みまでの1回の実行を管理する。
type Service struct {
	engine    *Engine
	repo      repository.ArchiveRepository
	fallback  FallbackFactory
	publisher Publisher
	cfg       ServiceConfig
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。publisherとmcはnilでもよい。
func NewService(
	engine *Engine,
	repo repository.ArchiveRepository,
	fallback FallbackFactory,
	publisher Publisher,
	cfg ServiceConfig,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		engine:    engine,
		repo:      repo,
		fallback:  fallback,
		publisher: publisher,
		cfg:       cfg,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
	}
}

// CommitMessage はアーカイブ更新時のコミットメッセージを返す。
func CommitMessage(date string, added int) string {
	return fmt.Sprintf("新聞更新 %s：新增 %d 篇", date, added)
}

// RunOnce は収集を1回実行する。
//
// アーカイブは実行開始時に1回だけ読み込み、書き込みは条件付きで最大1回行う。
// 書き込みが失敗した場合は退避先へ保存し、結果をPersistFallbackとして報告する。
// 返されるerrorは、ctxのキャンセルと退避先への保存失敗のみ。
func (s *Service) RunOnce(ctx context.Context) (*model.RunReport, error) {
	start := s.now().In(s.cfg.Location)
	report := &model.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}
	logger := s.logger.With(slog.String("run_id", report.RunID))

	archive, token := s.readArchive(ctx, logger)

	days, upToDate := LookbackDays(archive, start, s.cfg.DefaultLookbackDays)
	report.LookbackDays = days
	if upToDate {
		logger.Info("アーカイブは本日更新済みのため収集をスキップします",
			slog.String("last_updated", archive.LastUpdated),
		)
		report.Persist = model.PersistUpToDate
		report.ArchiveTotal = len(archive.Reports)
		s.finish(report, logger)
		return report, nil
	}

	logger.Info("収集を開始します",
		slog.Int("lookback_days", days),
		slog.Int("categories", len(s.cfg.Topics)),
		slog.Int("archived", len(archive.Reports)),
	)

	res, err := s.engine.Ingest(ctx, archive, s.cfg.Topics, days, start)
	if err != nil {
		return report, fmt.Errorf("ingestion aborted: %w", err)
	}
	report.QueriesIssued = res.QueriesIssued
	report.CandidatesSeen = res.CandidatesSeen
	report.Categories = res.Categories
	report.Accepted = res.Accepted

	if len(res.Accepted) == 0 {
		logger.Info("新規記事はありません", slog.String("result", res.String()))
		report.Persist = model.PersistSkipped
		report.ArchiveTotal = len(archive.Reports)
		s.finish(report, logger)
		return report, nil
	}

	today := start.Format(model.DateLayout)
	merged := dedup.Merge(archive, res.Accepted, today)
	report.ArchiveTotal = merged.TotalReports

	_, werr := s.repo.Write(ctx, model.ArchiveWrite{
		Archive:  merged,
		Expected: token,
		Message:  CommitMessage(today, len(res.Accepted)),
	})
	if werr == nil {
		logger.Info("アーカイブを更新しました",
			slog.String("store", s.repo.Describe()),
			slog.Int("added", len(res.Accepted)),
			slog.Int("total", merged.TotalReports),
		)
		report.Persist = model.PersistWritten
		s.publish(ctx, report, logger)
		s.finish(report, logger)
		return report, nil
	}

	if errors.Is(werr, model.ErrWriteConflict) {
		logger.Warn("アーカイブが他の実行により更新されていたため書き込みを中止しました",
			slog.String("store", s.repo.Describe()),
			slog.String("error", werr.Error()),
		)
	} else {
		logger.Error("アーカイブの書き込みに失敗しました",
			slog.String("store", s.repo.Describe()),
			slog.String("error", werr.Error()),
		)
	}

	report.Persist = model.PersistFallback
	report.PersistError = werr.Error()
	fb := s.fallback(start)
	report.BackupPath = fb.Describe()
	if _, ferr := fb.Write(ctx, model.ArchiveWrite{Archive: merged}); ferr != nil {
		logger.Error("バックアップの保存に失敗しました",
			slog.String("backup", report.BackupPath),
			slog.String("error", ferr.Error()),
		)
		s.finish(report, logger)
		return report, fmt.Errorf("backup write to %s failed: %w (archive write: %v)", report.BackupPath, ferr, werr)
	}

	logger.Warn("バックアップに保存しました",
		slog.String("backup", report.BackupPath),
		slog.Int("added", len(res.Accepted)),
	)
	s.finish(report, logger)
	return report, nil
}

// readArchive はアーカイブを読み込む。存在しない・壊れている場合は空のアーカイブで続行する。
// 壊れている場合もバックエンドがトークンを返していれば保持し、書き込みを条件付きのままにする。
func (s *Service) readArchive(ctx context.Context, logger *slog.Logger) (*model.Archive, model.VersionToken) {
	archive, token, err := s.repo.Read(ctx)
	switch {
	case err == nil && archive != nil:
		return archive, token
	case errors.Is(err, model.ErrArchiveNotFound):
		logger.Info("アーカイブが存在しないため新規作成します", slog.String("store", s.repo.Describe()))
	case err != nil:
		logger.Warn("アーカイブの読み込みに失敗したため空のアーカイブで続行します",
			slog.String("store", s.repo.Describe()),
			slog.String("error", err.Error()),
		)
	}
	return model.NewEmptyArchive(), token
}

func (s *Service) publish(ctx context.Context, report *model.RunReport, logger *slog.Logger) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, report.RunID, report.Accepted); err != nil {
		logger.Warn("新規記事の通知に失敗しました", slog.String("error", err.Error()))
	}
}

func (s *Service) finish(report *model.RunReport, logger *slog.Logger) {
	report.FinishedAt = s.now().In(s.cfg.Location)
	duration := report.FinishedAt.Sub(report.StartedAt)
	s.metrics.RecordArchiveWrite(report.Persist)
	s.metrics.RecordRun(duration, report.ArchiveTotal)
	logger.Info("収集を終了しました",
		slog.String("persist", string(report.Persist)),
		slog.Int("queries", report.QueriesIssued),
		slog.Int("accepted", report.AcceptedCount()),
		slog.Int("archive_total", report.ArchiveTotal),
		slog.Duration("duration", duration),
	)
}
