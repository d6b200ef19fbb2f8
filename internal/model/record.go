// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// 日付・時刻の保存フォーマット。既存のアーカイブファイルと互換。
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	ScrapedAtLayout = "2006-01-02 15:04:05"
)

// Record はアーカイブに保存された1件のニュース記事を表す。
// JSONキーは既存アーカイブ（reuters_archive.json）と同一。
type Record struct {
	Source        string `json:"Source"`
	URL           string `json:"URL"`
	Date          string `json:"Date"`
	Time          string `json:"Time"`
	Title         string `json:"Title"`
	Content       string `json:"Content"`
	ContentLength int    `json:"ContentLength"`
	ScrapedAt     string `json:"ScrapedAt"`
}

// TitleKey は重複判定に使うキーを返す。タイトルが唯一の同一性キー。
func (r Record) TitleKey() string {
	return TitleKey(r.Title)
}

// TitleKey はタイトルから重複判定キーを生成する。
// 前後の空白除去のみを行い、それ以上の正規化はしない。
func TitleKey(title string) string {
	return strings.TrimSpace(title)
}

// Archive は単一ドキュメントとして保存されるアーカイブ全体を表す。
type Archive struct {
	LastUpdated  string   `json:"last_updated"`
	TotalReports int      `json:"total_reports"`
	Reports      []Record `json:"reports"`
}

// NewEmptyArchive は初回実行用の空アーカイブを返す。
func NewEmptyArchive() *Archive {
	return &Archive{Reports: []Record{}}
}

// LastUpdatedDate はlast_updatedを指定タイムゾーンの日付として解釈する。
// 未設定または解釈できない場合はfalseを返す。
func (a *Archive) LastUpdatedDate(loc *time.Location) (time.Time, bool) {
	if a == nil || a.LastUpdated == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, a.LastUpdated, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// VersionToken はアーカイブの読み込み時点の状態を識別する不透明な値。
// 空文字はアーカイブが存在しないことを表し、その場合の書き込みは新規作成のみ許可される。
type VersionToken string

// IsEmpty はトークンが未設定かを返す。
func (t VersionToken) IsEmpty() bool {
	return t == ""
}

// ArchiveWrite は条件付き書き込みのリクエスト。
type ArchiveWrite struct {
	Archive  *Archive
	Expected VersionToken
	// Message はバージョン管理系バックエンドのコミットメッセージ。
	Message string
}
