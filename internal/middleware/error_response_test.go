package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/newsarchive/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteAPIError_StatusByCode はエラーコードからステータスが決まり、統一フォーマットで書き込まれることを検証する。
func TestWriteAPIError_StatusByCode(t *testing.T) {
	tests := []struct {
		name       string
		apiErr     *model.APIError
		statusCode int
		category   string
	}{
		{"not found", model.NewArchiveNotFoundError(), http.StatusNotFound, "archive"},
		{"read failed", model.NewArchiveReadError(), http.StatusBadGateway, "system"},
		{"invalid query", model.NewInvalidQueryError("limit", "正の整数を指定してください"), http.StatusBadRequest, "validation"},
		{"rate limited", model.NewRateLimitedError(), http.StatusTooManyRequests, "system"},
		{"internal", model.NewInternalError(), http.StatusInternalServerError, "system"},
		{"unknown code", &model.APIError{Code: "SOMETHING_ELSE", Category: "system"}, http.StatusInternalServerError, "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAPIError(w, tt.apiErr)

			if w.Code != tt.statusCode {
				t.Errorf("status = %d, want %d", w.Code, tt.statusCode)
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.apiErr.Code {
				t.Errorf("code = %q, want %q", body.Code, tt.apiErr.Code)
			}
			if body.Category != tt.category {
				t.Errorf("category = %q, want %q", body.Category, tt.category)
			}
			if body.Message != tt.apiErr.Message || body.Action != tt.apiErr.Action {
				t.Errorf("body = %+v, want message/action from %+v", body, tt.apiErr)
			}
		})
	}
}

// TestWriteErrorResponse_NotCached はエラー応答がキャッシュされず、設定済みのETagが取り除かれることを検証する。
func TestWriteErrorResponse_NotCached(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("ETag", `"v1"`)
	WriteErrorResponse(w, http.StatusBadGateway, model.NewArchiveReadError())

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Errorf("ETag = %q, want removed", got)
	}
}

// TestWriteErrorResponse_KeepsQuotedParameter はメッセージ中の記号がエスケープされないことを検証する。
func TestWriteErrorResponse_KeepsQuotedParameter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAPIError(w, model.NewInvalidQueryError("date", "<YYYY-MM-DD>形式で指定してください"))

	if !strings.Contains(w.Body.String(), "<YYYY-MM-DD>") {
		t.Errorf("body should not escape HTML characters: %s", w.Body.String())
	}
}

// TestWriteInternalServerError は内部エラーの詳細を含まない汎用レスポンスを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
	if body.Action == "" {
		t.Error("action should guide the caller")
	}
}

// TestErrorResponseBody_JSONKeys はJSONのキー名を検証する。
func TestErrorResponseBody_JSONKeys(t *testing.T) {
	data, err := json.Marshal(ErrorResponseBody{Code: "c", Message: "m", Category: "k", Action: "a"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}
