// Package source は記事候補の検索元を提供する。
// Google Custom Search JSON APIとRSS/Atomフィードの2種類を実装する。
package source

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/security"
)

// pageSize はCustom Search APIが1リクエストで返せる最大件数。
const pageSize = 10

// maxStart はCustom Search APIのstartパラメータ上限（start+num <= 100）。
const maxStart = 91

// CustomSearchConfig はGoogle Custom Searchの接続設定。
type CustomSearchConfig struct {
	APIKey   string
	CX       string
	Site     string
	Language string
}

// CustomSearch はGoogle Custom Search JSON APIを検索元とするSource。
type CustomSearch struct {
	svc       *customsearch.Service
	cfg       CustomSearchConfig
	sanitizer *security.TextSanitizer
	logger    *slog.Logger
}

// NewCustomSearch はCustomSearchを生成する。
// optsはテスト用のエンドポイント差し替え等に使用する。
func NewCustomSearch(ctx context.Context, cfg CustomSearchConfig, logger *slog.Logger, opts ...option.ClientOption) (*CustomSearch, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}
	return &CustomSearch{
		svc:       svc,
		cfg:       cfg,
		sanitizer: security.NewTextSanitizer(),
		logger:    logger,
	}, nil
}

// BuildQuery はサイト限定・完全一致の検索文字列を組み立てる。
func BuildQuery(site, pattern string) string {
	if site == "" {
		return fmt.Sprintf("%q", pattern)
	}
	return fmt.Sprintf("site:%s %q", site, pattern)
}

// Search は検索パターンに一致する候補を新しい順に最大MaxResults件返す。
// APIの1ページは10件のため、必要に応じてstartをずらして複数回呼び出す。
func (s *CustomSearch) Search(ctx context.Context, q model.SearchQuery) ([]model.Candidate, error) {
	query := BuildQuery(s.cfg.Site, q.Pattern)
	candidates := make([]model.Candidate, 0, q.MaxResults)

	for start := 1; len(candidates) < q.MaxResults && start <= maxStart; start += pageSize {
		num := min(pageSize, q.MaxResults-len(candidates))

		call := s.svc.Cse.List().
			Context(ctx).
			Cx(s.cfg.CX).
			Q(query).
			Num(int64(num)).
			Start(int64(start)).
			Sort("date")
		if s.cfg.Language != "" {
			call = call.Lr(s.cfg.Language)
		}
		if q.LookbackDays > 0 {
			call = call.DateRestrict(fmt.Sprintf("d%d", q.LookbackDays))
		}

		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("custom search query %q failed: %w", q.Pattern, err)
		}

		for _, item := range res.Items {
			if item == nil || item.Link == "" {
				continue
			}
			candidates = append(candidates, model.Candidate{
				URL:   item.Link,
				Title: s.sanitizer.PlainText(item.Title),
			})
		}

		s.logger.Debug("検索結果ページを取得しました",
			slog.String("pattern", q.Pattern),
			slog.Int("start", start),
			slog.Int("items", len(res.Items)),
		)

		if len(res.Items) < num {
			break
		}
	}

	if len(candidates) > q.MaxResults {
		candidates = candidates[:q.MaxResults]
	}
	return candidates, nil
}
