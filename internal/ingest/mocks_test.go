package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/newsarchive/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var taipei = time.FixedZone("UTC+8", 8*3600)

// mockSource はパターンごとに固定の候補を返すSource。
type mockSource struct {
	results map[string][]model.Candidate
	errs    map[string]error
	queries []model.SearchQuery
}

func (m *mockSource) Search(ctx context.Context, q model.SearchQuery) ([]model.Candidate, error) {
	m.queries = append(m.queries, q)
	if err := m.errs[q.Pattern]; err != nil {
		return nil, err
	}
	return m.results[q.Pattern], nil
}

// mockResolver はURLごとに固定のページを返すResolver。
type mockResolver struct {
	pages    map[string]*model.ResolvedPage
	errs     map[string]error
	resolved []string
}

func (m *mockResolver) Resolve(ctx context.Context, url string) (*model.ResolvedPage, error) {
	m.resolved = append(m.resolved, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	p, ok := m.pages[url]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *p
	cp.URL = url
	return &cp, nil
}

// memRepo はメモリ上のArchiveRepository。書き込みのたびにトークンを進める。
type memRepo struct {
	mu       sync.Mutex
	name     string
	data     []byte
	version  int
	readErr  error
	writeErr error
	writes   []model.ArchiveWrite
}

func newMemRepo(archive *model.Archive) *memRepo {
	r := &memRepo{name: "mem"}
	if archive != nil {
		r.data, _ = json.Marshal(archive)
		r.version = 1
	}
	return r
}

func (r *memRepo) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.token(), r.readErr
	}
	if r.data == nil {
		return nil, "", model.ErrArchiveNotFound
	}
	var a model.Archive
	if err := json.Unmarshal(r.data, &a); err != nil {
		return nil, r.token(), err
	}
	return &a, r.token(), nil
}

func (r *memRepo) Write(ctx context.Context, w model.ArchiveWrite) (model.VersionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, w)
	if r.writeErr != nil {
		return "", r.writeErr
	}
	if w.Expected != r.token() {
		return "", model.ErrWriteConflict
	}
	r.data, _ = json.Marshal(w.Archive)
	r.version++
	return r.token(), nil
}

func (r *memRepo) Describe() string { return r.name }

func (r *memRepo) token() model.VersionToken {
	if r.data == nil {
		return ""
	}
	return model.VersionToken(strconv.Itoa(r.version))
}

func (r *memRepo) archive() *model.Archive {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	var a model.Archive
	json.Unmarshal(r.data, &a)
	return &a
}

// mockPublisher は通知内容を記録するPublisher。
type mockPublisher struct {
	calls [][]model.Record
	err   error
}

func (m *mockPublisher) Publish(ctx context.Context, runID string, records []model.Record) error {
	m.calls = append(m.calls, records)
	return m.err
}

// recordingMetrics はメトリクス呼び出しを記録する。
type recordingMetrics struct {
	queries    int
	failures   int
	rejections map[model.RejectReason]int
	accepted   int
	outcomes   []model.PersistOutcome
	runs       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{rejections: make(map[model.RejectReason]int)}
}

func (m *recordingMetrics) RecordQuery(category string, failed bool) {
	m.queries++
	if failed {
		m.failures++
	}
}
func (m *recordingMetrics) RecordCandidates(string, int) {}
func (m *recordingMetrics) RecordRejection(reason model.RejectReason) {
	m.rejections[reason]++
}
func (m *recordingMetrics) RecordAccepted(string) { m.accepted++ }
func (m *recordingMetrics) RecordArchiveWrite(outcome model.PersistOutcome) {
	m.outcomes = append(m.outcomes, outcome)
}
func (m *recordingMetrics) RecordRun(time.Duration, int) { m.runs++ }

func fxTopic() model.Topic {
	return model.Topic{
		Name:          "全球匯市",
		Source:        "TradingView - Global FX",
		SearchPattern: "全球匯市",
		TitleKeywords: []string{"全球匯市"},
	}
}

func bondTopic() model.Topic {
	return model.Topic{
		Name:          "美國債市",
		Source:        "TradingView - US Bonds",
		SearchPattern: "美國債市",
		TitleKeywords: []string{"美國債市"},
	}
}

const articleHost = "https://tw.tradingview.com/news/reuters.com,"

func longContent(n int) string {
	return strings.Repeat("字", n)
}

func ts(s string) *time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, taipei)
	if err != nil {
		panic(err)
	}
	return &t
}
