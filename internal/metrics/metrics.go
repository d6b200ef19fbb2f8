// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/newsarchive/internal/model"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 収集エンジンとサービス層から利用する。
type MetricsCollector interface {
	RecordQuery(category string, failed bool)
	RecordCandidates(category string, count int)
	RecordRejection(reason model.RejectReason)
	RecordAccepted(category string)
	RecordArchiveWrite(outcome model.PersistOutcome)
	RecordRun(duration time.Duration, archiveTotal int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	queries       *prometheus.CounterVec
	queryFailures *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	accepted      *prometheus.CounterVec
	archiveWrites *prometheus.CounterVec
	runDuration   prometheus.Histogram
	archiveSize   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_source_queries_total",
			Help: "カテゴリ別の検索クエリ発行数",
		}, []string{"category"}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_source_query_failures_total",
			Help: "カテゴリ別の検索クエリ失敗数",
		}, []string{"category"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_candidates_total",
			Help: "カテゴリ別の候補記事数",
		}, []string{"category"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_rejections_total",
			Help: "理由別の不採用候補数",
		}, []string{"reason"}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_accepted_total",
			Help: "カテゴリ別の採用記事数",
		}, []string{"category"}),
		archiveWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsarchive_archive_writes_total",
			Help: "永続化結果別の実行数",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsarchive_run_duration_seconds",
			Help:    "1回の収集実行にかかった時間（秒）",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		archiveSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsarchive_archive_reports",
			Help: "直近の実行後のアーカイブ収録記事数",
		}),
	}

	reg.MustRegister(
		c.queries,
		c.queryFailures,
		c.candidates,
		c.rejections,
		c.accepted,
		c.archiveWrites,
		c.runDuration,
		c.archiveSize,
	)

	return c
}

// RecordQuery は検索クエリの発行を記録する。失敗した場合も発行数に含める。
func (c *Collector) RecordQuery(category string, failed bool) {
	c.queries.WithLabelValues(category).Inc()
	if failed {
		c.queryFailures.WithLabelValues(category).Inc()
	}
}

// RecordCandidates は検索結果の候補数を記録する。
func (c *Collector) RecordCandidates(category string, count int) {
	c.candidates.WithLabelValues(category).Add(float64(count))
}

// RecordRejection は候補の不採用を記録する。
func (c *Collector) RecordRejection(reason model.RejectReason) {
	c.rejections.WithLabelValues(string(reason)).Inc()
}

// RecordAccepted は記事の採用を記録する。
func (c *Collector) RecordAccepted(category string) {
	c.accepted.WithLabelValues(category).Inc()
}

// RecordArchiveWrite は永続化フェーズの結果を記録する。
func (c *Collector) RecordArchiveWrite(outcome model.PersistOutcome) {
	c.archiveWrites.WithLabelValues(string(outcome)).Inc()
}

// RecordRun は実行時間と実行後のアーカイブ記事数を記録する。
func (c *Collector) RecordRun(duration time.Duration, archiveTotal int) {
	c.runDuration.Observe(duration.Seconds())
	c.archiveSize.Set(float64(archiveTotal))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsと/healthを提供するHTTPハンドラーを返す。
// workerコマンドがAPIサーバーなしで起動する場合に使用する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordQuery(string, bool) {}
func (NopCollector) RecordCandidates(string, int) {}
func (NopCollector) RecordRejection(model.RejectReason) {}
func (NopCollector) RecordAccepted(string) {}
func (NopCollector) RecordArchiveWrite(model.PersistOutcome) {}
func (NopCollector) RecordRun(time.Duration, int) {}
