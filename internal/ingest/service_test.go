package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsarchive/internal/dedup"
	"github.com/hitoshi/newsarchive/internal/model"
	"github.com/hitoshi/newsarchive/internal/repository"
)

type serviceFixture struct {
	src       *mockSource
	res       *mockResolver
	repo      *memRepo
	backup    *memRepo
	publisher *mockPublisher
	metrics   *recordingMetrics
	svc       *Service
}

func newServiceFixture(archive *model.Archive, now time.Time, topics ...model.Topic) *serviceFixture {
	f := &serviceFixture{
		src:       &mockSource{results: map[string][]model.Candidate{}},
		res:       &mockResolver{pages: map[string]*model.ResolvedPage{}},
		repo:      newMemRepo(archive),
		backup:    newMemRepo(nil),
		publisher: &mockPublisher{},
		metrics:   newRecordingMetrics(),
	}
	f.backup.name = "backup"
	if len(topics) == 0 {
		topics = []model.Topic{fxTopic()}
	}
	engine := newTestEngine(f.src, f.res, WithMetrics(f.metrics))
	f.svc = NewService(engine, f.repo,
		func(time.Time) repository.ArchiveRepository { return f.backup },
		f.publisher,
		ServiceConfig{Topics: topics, DefaultLookbackDays: 5, Location: taipei},
		f.metrics, testLogger())
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *serviceFixture) addArticle(pattern, url, title string, contentLen int, published *time.Time) {
	f.src.results[pattern] = append(f.src.results[pattern], model.Candidate{URL: url})
	f.res.pages[url] = &model.ResolvedPage{Title: title, Content: longContent(contentLen), PublishedAt: published}
}

func archiveA() *model.Archive {
	return &model.Archive{LastUpdated: "2024-01-01", TotalReports: 1, Reports: []model.Record{
		{Source: "TradingView - Global FX", Title: "全球匯市 A", Date: "2024-01-01", Time: "09:00:00"},
	}}
}

func TestRunOnce_NewRecordMergedAndWritten(t *testing.T) {
	now := time.Date(2024, 1, 4, 12, 0, 0, 0, taipei)
	f := newServiceFixture(archiveA(), now)
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, ts("2024-01-03 07:00:00"))

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	if report.Persist != model.PersistWritten {
		t.Fatalf("Persist = %s, want written", report.Persist)
	}
	if report.AcceptedCount() != 1 || report.Accepted[0].Title != "全球匯市 B" {
		t.Errorf("accepted = %+v", report.Accepted)
	}
	if report.LookbackDays != 3 {
		t.Errorf("LookbackDays = %d, want 3", report.LookbackDays)
	}

	got := f.repo.archive()
	if got.LastUpdated != "2024-01-04" {
		t.Errorf("last_updated = %s, want run date", got.LastUpdated)
	}
	if got.TotalReports != 2 || len(got.Reports) != 2 {
		t.Fatalf("total = %d / %d, want 2", got.TotalReports, len(got.Reports))
	}
	if got.Reports[0].Title != "全球匯市 B" || got.Reports[1].Title != "全球匯市 A" {
		t.Errorf("order = [%s, %s], want [B, A]", got.Reports[0].Title, got.Reports[1].Title)
	}

	if len(f.repo.writes) != 1 {
		t.Fatalf("writes = %d, want exactly 1", len(f.repo.writes))
	}
	if f.repo.writes[0].Expected != "1" {
		t.Errorf("write must be conditional on the read token, got %q", f.repo.writes[0].Expected)
	}
	if f.repo.writes[0].Message != "新聞更新 2024-01-04：新增 1 篇" {
		t.Errorf("commit message = %q", f.repo.writes[0].Message)
	}
	if len(f.publisher.calls) != 1 || len(f.publisher.calls[0]) != 1 {
		t.Errorf("publisher calls = %v", f.publisher.calls)
	}
	if len(f.metrics.outcomes) != 1 || f.metrics.outcomes[0] != model.PersistWritten {
		t.Errorf("metrics outcomes = %v", f.metrics.outcomes)
	}
}

func TestRunOnce_DuplicateOfArchived_NoWrite(t *testing.T) {
	now := time.Date(2024, 1, 4, 12, 0, 0, 0, taipei)
	f := newServiceFixture(archiveA(), now)
	f.addArticle("全球匯市", articleHost+"a-again/", "全球匯市 A", 500, nil)

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Persist != model.PersistSkipped {
		t.Errorf("Persist = %s, want skipped", report.Persist)
	}
	if len(f.repo.writes) != 0 {
		t.Errorf("no write should be attempted, got %d", len(f.repo.writes))
	}
	if report.Categories[0].Rejected[model.RejectDuplicate] != 1 {
		t.Errorf("rejections = %v", report.Categories[0].Rejected)
	}
	if got := f.repo.archive(); got.LastUpdated != "2024-01-01" || len(got.Reports) != 1 {
		t.Errorf("archive must be unchanged, got %+v", got)
	}
}

func TestRunOnce_Idempotent(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, ts("2024-01-03 07:00:00"))

	if _, err := f.svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := f.repo.archive()

	// 翌日に同じ検索結果で再実行しても記事は増えない
	f.svc.now = func() time.Time { return time.Date(2024, 1, 5, 12, 0, 0, 0, taipei) }
	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.AcceptedCount() != 0 || report.Persist != model.PersistSkipped {
		t.Errorf("second run accepted=%d persist=%s", report.AcceptedCount(), report.Persist)
	}
	if got := f.repo.archive(); len(got.Reports) != len(first.Reports) {
		t.Errorf("archive grew on re-run: %d -> %d", len(first.Reports), len(got.Reports))
	}
}

func TestRunOnce_UpToDate_NoSourceCall(t *testing.T) {
	archive := archiveA()
	archive.LastUpdated = "2024-01-04"
	f := newServiceFixture(archive, time.Date(2024, 1, 4, 23, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Persist != model.PersistUpToDate {
		t.Errorf("Persist = %s, want up_to_date", report.Persist)
	}
	if len(f.src.queries) != 0 || len(f.repo.writes) != 0 {
		t.Errorf("queries=%d writes=%d, want 0/0", len(f.src.queries), len(f.repo.writes))
	}
}

func TestRunOnce_MissingArchive_CreatesWithEmptyToken(t *testing.T) {
	f := newServiceFixture(nil, time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.LookbackDays != 5 {
		t.Errorf("LookbackDays = %d, want default 5", report.LookbackDays)
	}
	if report.Persist != model.PersistWritten {
		t.Fatalf("Persist = %s, want written", report.Persist)
	}
	if f.repo.writes[0].Expected != "" {
		t.Errorf("first write must use the empty token, got %q", f.repo.writes[0].Expected)
	}
}

func TestRunOnce_ConflictFallsBack(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, ts("2024-01-03 07:00:00"))
	f.addArticle("全球匯市", articleHost+"c/", "全球匯市 C", 300, ts("2024-01-04 07:00:00"))
	f.repo.writeErr = model.ErrWriteConflict

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	if report.Persist != model.PersistFallback {
		t.Fatalf("Persist = %s, want fallback", report.Persist)
	}
	if report.AcceptedCount() != 2 {
		t.Errorf("accepted count = %d, want 2 even on fallback", report.AcceptedCount())
	}
	if report.BackupPath != "backup" || !strings.Contains(report.PersistError, "conflict") {
		t.Errorf("BackupPath=%q PersistError=%q", report.BackupPath, report.PersistError)
	}

	saved := f.backup.archive()
	if saved == nil || saved.TotalReports != 3 {
		t.Fatalf("backup should hold the merged archive, got %+v", saved)
	}
	if !dedup.IsSortedNewestFirst(saved.Reports) {
		t.Error("backup reports must be sorted newest first")
	}
	if f.backup.writes[0].Expected != "" {
		t.Errorf("backup write must be create-only, got token %q", f.backup.writes[0].Expected)
	}
	if len(f.publisher.calls) != 0 {
		t.Error("records must not be announced when the archive write failed")
	}
	if got := f.repo.archive(); len(got.Reports) != 1 {
		t.Error("primary archive must be left untouched")
	}
}

func TestRunOnce_OtherWriteErrorFallsBack(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)
	f.repo.writeErr = errors.New("502 bad gateway")

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Persist != model.PersistFallback {
		t.Errorf("Persist = %s, want fallback", report.Persist)
	}
}

func TestRunOnce_FallbackFailureReturnsError(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)
	f.repo.writeErr = model.ErrWriteConflict
	f.backup.writeErr = errors.New("disk full")

	report, err := f.svc.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error when the backup cannot be written")
	}
	if report == nil || report.AcceptedCount() != 1 || report.Persist != model.PersistFallback {
		t.Errorf("report should still carry ingestion counts, got %+v", report)
	}
}

func TestRunOnce_MalformedArchiveKeepsToken(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.repo.data = []byte("{not json")
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if f.repo.writes[0].Expected != "1" {
		t.Errorf("write should stay conditional on the read token, got %q", f.repo.writes[0].Expected)
	}
	if report.Persist != model.PersistWritten {
		t.Errorf("Persist = %s", report.Persist)
	}
}

func TestRunOnce_PublishFailureDoesNotChangeOutcome(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)
	f.publisher.err = errors.New("broker down")

	report, err := f.svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Persist != model.PersistWritten {
		t.Errorf("Persist = %s, want written", report.Persist)
	}
}

func TestRunOnce_CancelledContextDoesNotWrite(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 4, 12, 0, 0, 0, taipei))
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.repo.writes) != 0 {
		t.Error("a cancelled run must not write")
	}
}

func TestRunOnce_MonotonicGrowth(t *testing.T) {
	f := newServiceFixture(archiveA(), time.Date(2024, 1, 2, 12, 0, 0, 0, taipei), fxTopic(), bondTopic())
	f.addArticle("全球匯市", articleHost+"b/", "全球匯市 B", 500, ts("2024-01-02 07:00:00"))

	for day, title := range []string{"美國債市 1", "美國債市 2", "美國債市 3"} {
		url := articleHost + "bond-" + title + "/"
		f.addArticle("美國債市", url, title, 200, nil)
		now := time.Date(2024, 1, 2+day, 12, 0, 0, 0, taipei)
		f.svc.now = func() time.Time { return now }

		before := f.repo.archive()
		if _, err := f.svc.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d: %v", day, err)
		}
		after := f.repo.archive()

		known := make(map[string]bool)
		for _, r := range after.Reports {
			known[r.Title] = true
		}
		for _, r := range before.Reports {
			if !known[r.Title] {
				t.Errorf("run %d dropped %q", day, r.Title)
			}
		}
		if after.TotalReports != len(after.Reports) || len(dedup.UniqueByTitle(after.Reports)) != len(after.Reports) {
			t.Errorf("run %d: duplicate titles or bad total", day)
		}
	}
}

func TestWriteSummary(t *testing.T) {
	report := &model.RunReport{
		RunID:          "run-1",
		LookbackDays:   3,
		QueriesIssued:  2,
		CandidatesSeen: 5,
		Accepted:       []model.Record{{Title: "全球匯市 B"}},
		Categories: []model.CategoryStats{
			{Name: "全球匯市", Candidates: 4, Accepted: 1, Rejected: map[model.RejectReason]int{model.RejectDuplicate: 2, model.RejectContentTooShort: 1}},
			{Name: "US", QueryError: "quota exceeded"},
		},
		Persist:      model.PersistFallback,
		BackupPath:   "./reuters_backup_20240104_120000.json",
		ArchiveTotal: 2,
	}

	var buf bytes.Buffer
	if err := WriteSummary(&buf, report); err != nil {
		t.Fatalf("WriteSummary returned error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"queries=2", "accepted=1",
		"content_too_short=1 duplicate=2",
		"quota exceeded",
		"persist: fallback",
		"backup=./reuters_backup_20240104_120000.json",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	// 全角4文字は半角8桁として揃える
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[2], "全球匯市  4") || !strings.HasPrefix(lines[3], "US        0") {
		t.Errorf("columns not aligned by display width:\n%s", out)
	}
}
