package dedup

import (
	"sort"

	"github.com/hitoshi/newsarchive/internal/model"
)

// Merge は既存アーカイブに新規レコードを追加した新しいアーカイブを返す。
// 既存のレコードは削除も変更もしない。入力のアーカイブは変更しない。
// reportsは(Date, Time)の降順に並べ替え、last_updatedをtodayに設定する。
func Merge(archive *model.Archive, accepted []model.Record, today string) *model.Archive {
	var existing []model.Record
	if archive != nil {
		existing = archive.Reports
	}

	merged := make([]model.Record, 0, len(existing)+len(accepted))
	merged = append(merged, existing...)
	merged = append(merged, accepted...)
	SortNewestFirst(merged)

	return &model.Archive{
		LastUpdated:  today,
		TotalReports: len(merged),
		Reports:      merged,
	}
}

// SortNewestFirst はレコードを(Date, Time)の降順に安定ソートする。
func SortNewestFirst(records []model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].Time > records[j].Time
	})
}

// IsSortedNewestFirst はレコードが(Date, Time)の降順に並んでいるかを返す。
func IsSortedNewestFirst(records []model.Record) bool {
	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1], records[i]
		if prev.Date < cur.Date || (prev.Date == cur.Date && prev.Time < cur.Time) {
			return false
		}
	}
	return true
}
