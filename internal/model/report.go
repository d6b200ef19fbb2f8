package model

import "time"

// RejectReason は候補が採用されなかった理由。エラーではなく想定内のフィルタ結果。
type RejectReason string

const (
	RejectURLMismatch     RejectReason = "url_mismatch"
	RejectResolveFailed   RejectReason = "resolve_failed"
	RejectNoTitle         RejectReason = "no_title"
	RejectDuplicate       RejectReason = "duplicate"
	RejectMissingKeyword  RejectReason = "missing_keyword"
	RejectContentTooShort RejectReason = "content_too_short"
)

// PersistOutcome はアーカイブ書き込みフェーズの結果。
type PersistOutcome string

const (
	// PersistWritten は条件付き書き込みが受理されたことを表す。
	PersistWritten PersistOutcome = "written"
	// PersistSkipped は新規記事がなく書き込みを行わなかったことを表す。
	PersistSkipped PersistOutcome = "skipped"
	// PersistUpToDate はアーカイブが本日更新済みで収集自体を行わなかったことを表す。
	PersistUpToDate PersistOutcome = "up_to_date"
	// PersistFallback は書き込みに失敗しローカルバックアップへ退避したことを表す。
	PersistFallback PersistOutcome = "fallback"
)

// CategoryStats はカテゴリ単位の収集統計。
type CategoryStats struct {
	Name       string
	Source     string
	Candidates int
	Accepted   int
	Rejected   map[RejectReason]int
	QueryError string
}

// RunReport は1回の収集実行の結果報告。
type RunReport struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	LookbackDays   int
	QueriesIssued  int
	CandidatesSeen int
	Accepted       []Record
	Categories     []CategoryStats
	Persist        PersistOutcome
	BackupPath     string
	PersistError   string
	ArchiveTotal   int
}

// AcceptedCount は採用された記事数を返す。
func (r *RunReport) AcceptedCount() int {
	return len(r.Accepted)
}

// AcceptedBySource は表示用ソース名ごとの採用数を返す。
func (r *RunReport) AcceptedBySource() map[string]int {
	counts := make(map[string]int)
	for _, rec := range r.Accepted {
		counts[rec.Source]++
	}
	return counts
}
