// Package worker は収集のバックグラウンド実行を提供する。
// スケジューラ、失敗時のリトライ間隔計算を含む。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/newsarchive/internal/model"
)

// IngestRunner は収集1回分の実行インターフェース。
type IngestRunner interface {
	RunOnce(ctx context.Context) (*model.RunReport, error)
}

// Housekeeper は収集後に実行する保守ジョブのインターフェース。
type Housekeeper interface {
	Run(ctx context.Context) error
}

// NewSchedule は収集の実行スケジュールを返す。
// specが空でなければ標準のcron式（5フィールド）として解釈し、空ならintervalごとの固定間隔とする。
func NewSchedule(spec string, interval time.Duration) (cron.Schedule, error) {
	if spec == "" {
		return cron.Every(interval), nil
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// Scheduler は収集をスケジュールに従って実行する。
// 実行は常に直列で、前回の実行が終わるまで次の実行は始まらない。
// 前回の実行が失敗またはバックアップ退避になった場合は、間隔より早くリトライする。
type Scheduler struct {
	runner      IngestRunner
	housekeeper Housekeeper
	logger      *slog.Logger
	failures    int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。housekeeperはnilでもよい。
func NewScheduler(runner IngestRunner, housekeeper Housekeeper, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:      runner,
		housekeeper: housekeeper,
		logger:      logger,
	}
}

// Start は起動直後に1回実行し、以降はscheduleの次回時刻に実行する。
// 失敗後のリトライは次回の定期実行より後にはならない。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, schedule cron.Schedule) {
	s.logger.Info("収集スケジューラを開始しました")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("収集スケジューラを停止しました")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			if ctx.Err() != nil {
				continue
			}
			now := time.Now()
			regular := schedule.Next(now).Sub(now)
			if regular <= 0 {
				s.logger.Error("次回の実行時刻を決定できないためスケジューラを停止します")
				return
			}
			next := NextRunDelay(s.failures, regular)
			s.logger.Info("次回の収集を予約しました",
				slog.Duration("delay", next),
				slog.Int("consecutive_failures", s.failures),
			)
			timer.Reset(next)
		}
	}
}

// RunOnce は収集と保守ジョブを1回ずつ実行する。
// 収集が失敗またはバックアップ退避になった場合はfalseを返す。
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	start := time.Now()

	report, err := s.runner.RunOnce(ctx)
	ok := err == nil && (report == nil || report.Persist != model.PersistFallback)
	if err != nil {
		s.logger.Error("収集サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	} else if !ok {
		s.logger.Warn("アーカイブへの書き込みができずバックアップに退避しました",
			slog.String("backup", report.BackupPath),
		)
	}

	if ok {
		s.failures = 0
	} else {
		s.failures++
	}

	if s.housekeeper != nil && ctx.Err() == nil {
		if err := s.housekeeper.Run(ctx); err != nil {
			s.logger.Error("保守ジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("収集サイクルが完了しました",
		slog.Bool("ok", ok),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return ok
}

// ConsecutiveFailures は連続して失敗した実行回数を返す。
func (s *Scheduler) ConsecutiveFailures() int {
	return s.failures
}
