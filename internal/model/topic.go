package model

import (
	"strings"
	"time"
)

// Topic は検索カテゴリ（検索パターン、必須キーワード、表示用ソース名）を表す。
type Topic struct {
	Name          string   `yaml:"name" json:"name"`
	Source        string   `yaml:"source" json:"source"`
	SearchPattern string   `yaml:"search_pattern" json:"search_pattern"`
	TitleKeywords []string `yaml:"title_keywords" json:"title_keywords"`
}

// MatchesTitle はタイトルがいずれかの必須キーワードを含むかを返す。
func (t Topic) MatchesTitle(title string) bool {
	for _, kw := range t.TitleKeywords {
		if kw != "" && strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

// DefaultTopics は既定の検索カテゴリ。
func DefaultTopics() []Topic {
	return []Topic{
		{
			Name:          "路透早報",
			Source:        "TradingView - Reuters Morning Brief",
			SearchPattern: "《路透早報》",
			TitleKeywords: []string{"路透早報"},
		},
		{
			Name:          "全球匯市",
			Source:        "TradingView - Global FX",
			SearchPattern: "全球匯市",
			TitleKeywords: []string{"全球匯市"},
		},
		{
			Name:          "美國債市",
			Source:        "TradingView - US Bonds",
			SearchPattern: "美國債市",
			TitleKeywords: []string{"美國債市"},
		},
		{
			Name:          "台灣匯市",
			Source:        "TradingView - Taiwan FX",
			SearchPattern: "台灣匯市",
			TitleKeywords: []string{"台灣匯市"},
		},
		{
			Name:          "台灣債市",
			Source:        "TradingView - Taiwan Bonds",
			SearchPattern: "台灣債市",
			TitleKeywords: []string{"台灣債市"},
		},
	}
}

// Candidate は検索結果から得た未解決の記事候補を表す。
type Candidate struct {
	URL         string
	Title       string // 検索結果上の暫定タイトル
	PublishedAt *time.Time
}

// ResolvedPage は記事ページを取得・解析した結果を表す。
type ResolvedPage struct {
	URL         string
	Title       string
	Content     string
	PublishedAt *time.Time // ページ埋め込みのタイムスタンプ。取得できない場合はnil
}

// SearchQuery は1カテゴリ分の検索条件。
type SearchQuery struct {
	Pattern      string
	MaxResults   int
	LookbackDays int
}
