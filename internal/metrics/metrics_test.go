package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/newsarchive/internal/model"
)

// findMetric は名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordQuery_CountsFailuresSeparately は失敗クエリも発行数に含まれることを検証する。
func TestRecordQuery_CountsFailuresSeparately(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordQuery("全球匯市", false)
	c.RecordQuery("全球匯市", true)

	issued := findMetric(t, reg, "newsarchive_source_queries_total", map[string]string{"category": "全球匯市"})
	if v := issued.GetCounter().GetValue(); v != 2 {
		t.Errorf("source_queries_total = %v, want 2", v)
	}
	failed := findMetric(t, reg, "newsarchive_source_query_failures_total", map[string]string{"category": "全球匯市"})
	if v := failed.GetCounter().GetValue(); v != 1 {
		t.Errorf("source_query_failures_total = %v, want 1", v)
	}
}

// TestRecordCandidatesAndAccepted はカテゴリ別の候補数・採用数を検証する。
func TestRecordCandidatesAndAccepted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCandidates("美國債市", 7)
	c.RecordCandidates("美國債市", 3)
	c.RecordAccepted("美國債市")

	if v := findMetric(t, reg, "newsarchive_candidates_total", map[string]string{"category": "美國債市"}).GetCounter().GetValue(); v != 10 {
		t.Errorf("candidates_total = %v, want 10", v)
	}
	if v := findMetric(t, reg, "newsarchive_accepted_total", map[string]string{"category": "美國債市"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("accepted_total = %v, want 1", v)
	}
}

// TestRecordRejection_ByReason は理由ラベル別に集計されることを検証する。
func TestRecordRejection_ByReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRejection(model.RejectDuplicate)
	c.RecordRejection(model.RejectDuplicate)
	c.RecordRejection(model.RejectContentTooShort)

	if v := findMetric(t, reg, "newsarchive_rejections_total", map[string]string{"reason": "duplicate"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("rejections_total{duplicate} = %v, want 2", v)
	}
	if v := findMetric(t, reg, "newsarchive_rejections_total", map[string]string{"reason": "content_too_short"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("rejections_total{content_too_short} = %v, want 1", v)
	}
}

// TestRecordArchiveWriteAndRun は永続化結果と実行時間・記事数を検証する。
func TestRecordArchiveWriteAndRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordArchiveWrite(model.PersistFallback)
	c.RecordRun(42*time.Second, 1234)

	if v := findMetric(t, reg, "newsarchive_archive_writes_total", map[string]string{"outcome": "fallback"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("archive_writes_total{fallback} = %v, want 1", v)
	}
	h := findMetric(t, reg, "newsarchive_run_duration_seconds", map[string]string{}).GetHistogram()
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 42 {
		t.Errorf("run_duration count=%d sum=%v, want 1/42", h.GetSampleCount(), h.GetSampleSum())
	}
	if v := findMetric(t, reg, "newsarchive_archive_reports", map[string]string{}).GetGauge().GetValue(); v != 1234 {
		t.Errorf("archive_reports = %v, want 1234", v)
	}
}

// TestCollector_ImplementsInterface はCollectorとNopCollectorがインターフェースを満たすことを検証する。
func TestCollector_ImplementsInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
	var _ MetricsCollector = NopCollector{}
}
