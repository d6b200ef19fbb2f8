package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/newsarchive/internal/model"
)

// ErrorResponseBody は参照APIのエラーレスポンス本文。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードに対応するHTTPステータス。
// アーカイブの保存先が読めない場合は上流の障害として502を返す。
var statusByCode = map[string]int{
	model.ErrCodeInvalidQuery:    http.StatusBadRequest,
	model.ErrCodeArchiveNotFound: http.StatusNotFound,
	model.ErrCodeRateLimited:     http.StatusTooManyRequests,
	model.ErrCodeArchiveRead:     http.StatusBadGateway,
	model.ErrCodeInternal:        http.StatusInternalServerError,
}

// StatusForAPIError はエラーコードからHTTPステータスを決める。未知のコードは500。
func StatusForAPIError(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードに対応するステータスでエラーレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

// WriteErrorResponse は指定ステータスでエラーレスポンスを書き込む。
// エラー応答はETag付きのアーカイブ応答と違いキャッシュさせない。
// メッセージは中国語・日本語を含むため、HTMLエスケープせずに出力する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Del("ETag")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は詳細を含まない500レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
