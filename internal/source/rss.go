package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/security"
)

// maxFeedBytes はフィード・HTMLページの読み込み上限。
const maxFeedBytes = 5 * 1024 * 1024

// ErrFeedNotFound はURLの応答がフィードでなく、HTMLからもフィードを検出できなかったことを示す。
var ErrFeedNotFound = errors.New("feed not found")

// RSSSource は検索パターンを埋め込んだフィードURLを検索元とするSource。
// URLテンプレートの {query} は検索パターン、{days} は遡及日数に置換される。
// URLがHTMLページを返す場合は、headで告知されたフィードを取得する。
type RSSSource struct {
	urlTemplate string
	client      *http.Client
	sanitizer   *security.TextSanitizer
	logger      *slog.Logger
	now         func() time.Time
}

// NewRSSSource はRSSSourceを生成する。
func NewRSSSource(urlTemplate string, client *http.Client, logger *slog.Logger) *RSSSource {
	return &RSSSource{
		urlTemplate: urlTemplate,
		client:      client,
		sanitizer:   security.NewTextSanitizer(),
		logger:      logger,
		now:         time.Now,
	}
}

// FeedURL はテンプレートを展開したフィードURLを返す。
func (s *RSSSource) FeedURL(q model.SearchQuery) string {
	r := strings.NewReplacer(
		"{query}", url.QueryEscape(q.Pattern),
		"{days}", strconv.Itoa(q.LookbackDays),
	)
	return r.Replace(s.urlTemplate)
}

// Search はフィードを取得し、遡及期間内の記事を新しい順に最大MaxResults件返す。
// 公開日時のない記事は期間判定できないため残し、末尾に並べる。
func (s *RSSSource) Search(ctx context.Context, q model.SearchQuery) ([]model.Candidate, error) {
	feedURL := s.FeedURL(q)

	feed, err := s.fetchFeed(ctx, feedURL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed for %q: %w", q.Pattern, err)
	}

	var cutoff time.Time
	if q.LookbackDays > 0 {
		cutoff = s.now().Add(-time.Duration(q.LookbackDays) * 24 * time.Hour)
	}

	candidates := make([]model.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && !cutoff.IsZero() && published.Before(cutoff) {
			continue
		}
		candidates = append(candidates, model.Candidate{
			URL:         item.Link,
			Title:       s.sanitizer.PlainText(item.Title),
			PublishedAt: published,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].PublishedAt, candidates[j].PublishedAt
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return a.After(*b)
	})

	if q.MaxResults > 0 && len(candidates) > q.MaxResults {
		candidates = candidates[:q.MaxResults]
	}

	s.logger.Debug("フィードを取得しました",
		slog.String("pattern", q.Pattern),
		slog.Int("items", len(feed.Items)),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// fetchFeed はURLを取得してフィードとして解析する。
// 応答がフィードでなくdiscoverがtrueの場合は、HTMLのheadから検出したフィードを1回だけ辿る。
func (s *RSSSource) fetchFeed(ctx context.Context, rawURL string, discover bool) (*gofeed.Feed, error) {
	body, err := s.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if gofeed.DetectFeedType(bytes.NewReader(body)) == gofeed.FeedTypeUnknown && discover {
		link, ok := selectFeedLink(feedLinksFromHTML(body, rawURL), rawURL)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, rawURL)
		}
		s.logger.Debug("HTMLからフィードを検出しました",
			slog.String("page_url", rawURL),
			slog.String("feed_url", link.URL),
		)
		return s.fetchFeed(ctx, link.URL, false)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", rawURL, err)
	}
	return feed, nil
}

func (s *RSSSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "newsarchive/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
