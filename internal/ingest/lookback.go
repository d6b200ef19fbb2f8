package ingest

import (
	"time"

	"github.com/hitoshi/newsarchive/internal/model"
)

// LookbackDays は前回更新日から今日までの日数を検索の遡及日数として返す。
// 前回更新日が今日以降の場合はupToDate=trueを返し、収集を行わない。
// 前回更新日が未設定または解釈できない場合はdefaultDaysを返す。
func LookbackDays(archive *model.Archive, today time.Time, defaultDays int) (days int, upToDate bool) {
	loc := today.Location()
	last, ok := archive.LastUpdatedDate(loc)
	if !ok {
		return defaultDays, false
	}

	diff := daysBetween(last, today)
	if diff <= 0 {
		return 0, true
	}
	return max(diff, 1), false
}

// daysBetween はtoの暦日からfromの暦日を引いた日数を返す。
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	f := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}
