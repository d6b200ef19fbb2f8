// Package resolver は記事ページを取得し、見出し・本文・公開日時を抽出する。
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/security"
)

// userAgents はリクエストごとにランダムに選ぶデスクトップブラウザのUser-Agent。
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

// Config はResolverの設定。
type Config struct {
	Timeout        time.Duration
	MaxBytes       int64
	AcceptLanguage string
	Location       *time.Location
}

// Resolver は記事URLを取得してResolvedPageに変換する。
type Resolver struct {
	cfg    Config
	guard  security.SSRFValidator
	logger *slog.Logger
	pickUA func() string
}

// New はResolverを生成する。
func New(cfg Config, guard security.SSRFValidator, logger *slog.Logger) *Resolver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Resolver{
		cfg:    cfg,
		guard:  guard,
		logger: logger,
		pickUA: func() string { return userAgents[rand.IntN(len(userAgents))] },
	}
}

// Resolve は記事ページを取得して見出し・本文・公開日時を抽出する。
// DOMヒューリスティクスで見出しまたは本文が得られない場合はreadabilityで再抽出する。
// どちらでも見出しが得られない場合は model.ErrTitleUnavailable を返す。
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*model.ResolvedPage, error) {
	if err := r.guard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("URLのパースに失敗: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	body, err := r.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}

	ex := extractDOM(root, r.cfg.Location)
	if ex.Title == "" || ex.Content == "" {
		article, rerr := readability.FromReader(bytes.NewReader(body), pageURL)
		if rerr != nil {
			r.logger.Debug("readabilityによる抽出に失敗しました",
				slog.String("url", rawURL),
				slog.String("error", rerr.Error()),
			)
		} else {
			if ex.Title == "" {
				ex.Title = strings.TrimSpace(article.Title)
			}
			if ex.Content == "" {
				ex.Content = strings.TrimSpace(article.TextContent)
			}
		}
	}

	if ex.Title == "" {
		return nil, fmt.Errorf("%s: %w", rawURL, model.ErrTitleUnavailable)
	}

	return &model.ResolvedPage{
		URL:         rawURL,
		Title:       ex.Title,
		Content:     ex.Content,
		PublishedAt: ex.PublishedAt,
	}, nil
}

// fetch はページ本文をMaxBytesまで読み込み、UTF-8に変換して返す。
func (r *Resolver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", r.pickUA())
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if r.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", r.cfg.AcceptLanguage)
	}

	client := r.guard.NewSafeClient(r.cfg.Timeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTPステータス %d: %s", resp.StatusCode, rawURL)
	}

	var reader io.Reader = resp.Body
	if r.cfg.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, r.cfg.MaxBytes)
	}
	decoded, err := charset.NewReader(reader, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("文字コードの判定に失敗: %w", err)
	}
	body, err := io.ReadAll(decoded)
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	return body, nil
}
