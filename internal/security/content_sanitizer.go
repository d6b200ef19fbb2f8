package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は検索APIやフィードが返すHTML断片を平文に変換する。
// bluemondayのStrictPolicyで全タグを除去した後、実体参照を復元し空白を正規化する。
// bluemonday.Policyは生成後の並行利用が安全なため、1インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はHTMLを含みうる文字列からタグを除去した平文を返す。
// 連続する空白は1つに畳み、前後の空白を除去する。
func (s *TextSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
