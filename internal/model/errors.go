// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrArchiveNotFound はアーカイブがまだ存在しないことを表す。
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrWriteConflict は条件付き書き込みのバージョントークンが一致しなかったことを表す。
	ErrWriteConflict = errors.New("archive write conflict")
	// ErrTitleUnavailable は記事ページからタイトルを取得できなかったことを表す。
	ErrTitleUnavailable = errors.New("title unavailable")
	// ErrPersistenceFallback はアーカイブ書き込みに失敗し、ローカルバックアップへ退避したことを表す。
	ErrPersistenceFallback = errors.New("archive persisted to local fallback")
)

// ConfigError は設定の検証エラー。ネットワーク呼び出し前に検出され、致命的として扱う。
type ConfigError struct {
	Missing []string
	Invalid []string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("required environment variables are not set: %v", e.Missing))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid configuration: %s", strings.Join(e.Invalid, "; ")))
	}
	return strings.Join(parts, ", ")
}

// APIError は統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, archive, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArchiveNotFound = "ARCHIVE_NOT_FOUND"
	ErrCodeArchiveRead     = "ARCHIVE_READ_FAILED"
	ErrCodeInvalidQuery    = "INVALID_QUERY"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewArchiveNotFoundError はアーカイブ未作成エラーを生成する。
func NewArchiveNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeArchiveNotFound,
		Message:  "アーカイブはまだ作成されていません。",
		Category: "archive",
		Action:   "収集ジョブの初回実行が完了するまでお待ちください。",
	}
}

// NewArchiveReadError はアーカイブ読み込み失敗エラーを生成する。
func NewArchiveReadError() *APIError {
	return &APIError{
		Code:     ErrCodeArchiveRead,
		Message:  "アーカイブの読み込みに失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidQueryError は不正なクエリパラメータのエラーを生成する。
func NewInvalidQueryError(param, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("クエリパラメータ %s が不正です: %s", param, reason),
		Category: "validation",
		Action:   "パラメータの値を確認してください。",
	}
}

// NewRateLimitedError は参照APIの呼び出し頻度超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
