// Package cleanup はローカルバックアップファイルの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した reuters_backup_*.json を削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hitoshi/newsarchive/internal/storage"
)

// CleanupJob は保持期間を超過したバックアップファイルの削除ジョブ。
// 冪等で、削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	dir           string
	logger        *slog.Logger
	location      *time.Location
	now           func() time.Time
	RetentionDays int // バックアップの保持日数（0の場合は削除しない）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。locはバックアップファイル名の時刻のタイムゾーン。
func NewCleanupJob(dir string, loc *time.Location, logger *slog.Logger) *CleanupJob {
	if loc == nil {
		loc = time.UTC
	}
	return &CleanupJob{
		dir:           dir,
		logger:        logger,
		location:      loc,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Run は保存時刻がRetentionDays日前より古いバックアップファイルを削除する。
// 時刻はファイル名から読み取り、形式の異なるファイルには触れない。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		return nil
	}
	start := time.Now()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		j.logger.Error("バックアップクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.String("dir", j.dir),
		)
		return fmt.Errorf("バックアップディレクトリの読み込みに失敗: %w", err)
	}

	cutoff := j.now().In(j.location).AddDate(0, 0, -j.RetentionDays)
	var deleted int
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		savedAt, ok := storage.ParseBackupFileName(e.Name(), j.location)
		if !ok || !savedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(j.dir, e.Name())); err != nil {
			return fmt.Errorf("バックアップファイル %s の削除に失敗: %w", e.Name(), err)
		}
		deleted++
	}

	duration := time.Since(start)
	j.logger.Info("バックアップクリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}
