// Package ingest は記事候補の検索・取得・選別を行い、アーカイブへの追加分を決定する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/newsarchive/internal/dedup"
	"github.com/hitoshi/newsarchive/internal/metrics"
	"github.com/hitoshi/newsarchive/internal/model"
)

// Source は検索パターンから記事候補を返す検索元。
type Source interface {
	Search(ctx context.Context, q model.SearchQuery) ([]model.Candidate, error)
}

// Resolver は記事URLを取得して見出し・本文・公開日時を返す。
type Resolver interface {
	Resolve(ctx context.Context, url string) (*model.ResolvedPage, error)
}

// EngineConfig はEngineの設定。
type EngineConfig struct {
	MaxResults       int
	URLFilter        string
	MinContentLength int
	Location         *time.Location
}

// Engine は1回の収集処理を行う。カテゴリは順番に処理し、並列化しない。
type Engine struct {
	source         Source
	resolver       Resolver
	queryPacer     Pacer
	resolvePacer   Pacer
	candidatePreds []CandidatePredicate
	pagePreds      []PagePredicate
	loc            *time.Location
	maxResults     int
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
}

// Option はEngineの任意設定。
type Option func(*Engine)

// WithPacers は検索前・記事取得前の待機戦略を設定する。
func WithPacers(query, resolve Pacer) Option {
	return func(e *Engine) {
		e.queryPacer = query
		e.resolvePacer = resolve
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine はEngineを生成する。待機戦略の既定値はNoopPacer。
func NewEngine(src Source, res Resolver, cfg EngineConfig, logger *slog.Logger, opts ...Option) *Engine {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		source:         src,
		resolver:       res,
		queryPacer:     NoopPacer{},
		resolvePacer:   NoopPacer{},
		candidatePreds: []CandidatePredicate{URLContains(cfg.URLFilter)},
		pagePreds:      DefaultPagePredicates(cfg.MinContentLength),
		loc:            loc,
		maxResults:     cfg.MaxResults,
		metrics:        metrics.NopCollector{},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result は収集処理の結果。Acceptedは見出し重複を除いた採用順のレコード。
type Result struct {
	Accepted       []model.Record
	QueriesIssued  int
	CandidatesSeen int
	Categories     []model.CategoryStats
}

// Ingest は各カテゴリを検索し、新規記事をレコードとして返す。
// archiveは参照のみで変更しない。nowは実行時刻で、ScrapedAtと公開日時の代替値に使う。
// ctxがキャンセルされた場合は処理を中断してctx.Err()を返す。
// 検索元や記事取得の個別の失敗は記録して次へ進む。
func (e *Engine) Ingest(ctx context.Context, archive *model.Archive, topics []model.Topic, lookbackDays int, now time.Time) (*Result, error) {
	var existing []model.Record
	if archive != nil {
		existing = archive.Reports
	}
	idx := dedup.NewIndex(existing)
	now = now.In(e.loc)

	res := &Result{Categories: make([]model.CategoryStats, 0, len(topics))}
	var accepted []model.Record

	for _, topic := range topics {
		stats := model.CategoryStats{
			Name:     topic.Name,
			Source:   topic.Source,
			Rejected: make(map[model.RejectReason]int),
		}

		if err := e.queryPacer.Wait(ctx); err != nil {
			return nil, err
		}

		candidates, err := e.source.Search(ctx, model.SearchQuery{
			Pattern:      topic.SearchPattern,
			MaxResults:   e.maxResults,
			LookbackDays: lookbackDays,
		})
		res.QueriesIssued++
		e.metrics.RecordQuery(topic.Name, err != nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.logger.Warn("検索に失敗しました",
				slog.String("category", topic.Name),
				slog.String("error", err.Error()),
			)
			stats.QueryError = err.Error()
			res.Categories = append(res.Categories, stats)
			continue
		}

		stats.Candidates = len(candidates)
		res.CandidatesSeen += len(candidates)
		e.metrics.RecordCandidates(topic.Name, len(candidates))

		for _, c := range candidates {
			rec, reason, err := e.evaluate(ctx, topic, c, idx, now)
			if err != nil {
				return nil, err
			}
			if reason != "" {
				stats.Rejected[reason]++
				e.metrics.RecordRejection(reason)
				continue
			}
			idx.Add(rec.Title)
			accepted = append(accepted, rec)
			stats.Accepted++
			e.metrics.RecordAccepted(topic.Name)
			e.logger.Info("記事を採用しました",
				slog.String("category", topic.Name),
				slog.String("title", rec.Title),
				slog.String("url", rec.URL),
			)
		}

		e.logger.Info("カテゴリの収集が完了しました",
			slog.String("category", topic.Name),
			slog.Int("candidates", stats.Candidates),
			slog.Int("accepted", stats.Accepted),
		)
		res.Categories = append(res.Categories, stats)
	}

	res.Accepted = dedup.UniqueByTitle(accepted)
	return res, nil
}

// evaluate は1件の候補を判定する。採用時はレコードを、不採用時は理由を返す。
// errorはctxのキャンセルのみ。
func (e *Engine) evaluate(ctx context.Context, topic model.Topic, c model.Candidate, idx *dedup.Index, now time.Time) (model.Record, model.RejectReason, error) {
	if reason, rejected := firstCandidateRejection(e.candidatePreds, c); rejected {
		return model.Record{}, reason, nil
	}

	if err := e.resolvePacer.Wait(ctx); err != nil {
		return model.Record{}, "", err
	}

	page, err := e.resolver.Resolve(ctx, c.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Record{}, "", ctxErr
		}
		reason := model.RejectResolveFailed
		if errors.Is(err, model.ErrTitleUnavailable) {
			reason = model.RejectNoTitle
		}
		e.logger.Warn("記事の取得に失敗しました",
			slog.String("category", topic.Name),
			slog.String("url", c.URL),
			slog.String("error", err.Error()),
		)
		return model.Record{}, reason, nil
	}

	ev := Evaluation{Topic: topic, Page: page, Index: idx}
	if reason, rejected := firstPageRejection(e.pagePreds, ev); rejected {
		e.logger.Debug("候補を除外しました",
			slog.String("category", topic.Name),
			slog.String("title", page.Title),
			slog.String("reason", string(reason)),
		)
		return model.Record{}, reason, nil
	}

	return e.buildRecord(topic, c, page, now), "", nil
}

func (e *Engine) buildRecord(topic model.Topic, c model.Candidate, page *model.ResolvedPage, now time.Time) model.Record {
	published := now
	if page.PublishedAt != nil {
		published = page.PublishedAt.In(e.loc)
	}
	url := page.URL
	if url == "" {
		url = c.URL
	}
	title := model.TitleKey(page.Title)
	return model.Record{
		Source:        topic.Source,
		URL:           url,
		Date:          published.Format(model.DateLayout),
		Time:          published.Format(model.TimeLayout),
		Title:         title,
		Content:       page.Content,
		ContentLength: utf8.RuneCountInString(page.Content),
		ScrapedAt:     now.Format(model.ScrapedAtLayout),
	}
}

// String はログ出力用の要約を返す。
func (r *Result) String() string {
	return fmt.Sprintf("queries=%d candidates=%d accepted=%d", r.QueriesIssued, r.CandidatesSeen, len(r.Accepted))
}
