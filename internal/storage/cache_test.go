package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsarchive/internal/model"
)

// fakeRedis はredisCacheのテスト用実装。
type fakeRedis struct {
	data   map[string][]byte
	ttl    time.Duration
	getErr error
	setErr error
	gets   int
	sets   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.gets++
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.sets++
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[key] = value.([]byte)
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

// countingSource は読み込み回数を数えるarchiveSource。
type countingSource struct {
	archive *model.Archive
	token   model.VersionToken
	err     error
	reads   int
}

func (s *countingSource) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	s.reads++
	return s.archive, s.token, s.err
}

func (s *countingSource) Describe() string {
	return "github:hitoshi/news-archive/reuters_archive.json"
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCachedReader_MissThenHit(t *testing.T) {
	src := &countingSource{archive: sampleArchive("全球匯市：美元走強", "台灣債市：殖利率持平"), token: "sha-1"}
	rdb := newFakeRedis()
	c := NewCachedReader(src, rdb, 30*time.Second, discardLogger())

	for i := 0; i < 2; i++ {
		a, token, err := c.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: unexpected error: %v", i, err)
		}
		if token != "sha-1" {
			t.Errorf("read %d: token = %q, want sha-1", i, token)
		}
		if len(a.Reports) != 2 || a.Reports[0].Title != "全球匯市：美元走強" {
			t.Errorf("read %d: reports = %+v", i, a.Reports)
		}
	}

	if src.reads != 1 {
		t.Errorf("source reads = %d, want 1", src.reads)
	}
	if rdb.ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", rdb.ttl)
	}
	if _, ok := rdb.data["newsarchive:archive:github:hitoshi/news-archive/reuters_archive.json"]; !ok {
		t.Errorf("cache key not written: %v", rdb.data)
	}
}

func TestCachedReader_NotFoundIsNotCached(t *testing.T) {
	src := &countingSource{err: model.ErrArchiveNotFound}
	rdb := newFakeRedis()
	c := NewCachedReader(src, rdb, 0, discardLogger())

	for i := 0; i < 2; i++ {
		if _, _, err := c.Read(context.Background()); !errors.Is(err, model.ErrArchiveNotFound) {
			t.Fatalf("expected ErrArchiveNotFound, got %v", err)
		}
	}
	if src.reads != 2 || rdb.sets != 0 {
		t.Errorf("reads = %d, sets = %d, want 2 and 0", src.reads, rdb.sets)
	}
}

func TestCachedReader_RedisFailureFallsThrough(t *testing.T) {
	src := &countingSource{archive: sampleArchive("美國債市：收益率上升"), token: "etag-1"}
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	rdb.setErr = errors.New("connection refused")
	c := NewCachedReader(src, rdb, time.Minute, discardLogger())

	a, token, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("redis failure should not fail the read: %v", err)
	}
	if token != "etag-1" || len(a.Reports) != 1 {
		t.Errorf("got token %q, %d reports", token, len(a.Reports))
	}
}

func TestCachedReader_CorruptEntryIsIgnored(t *testing.T) {
	src := &countingSource{archive: sampleArchive("台灣匯市：新台幣升值"), token: "v2"}
	rdb := newFakeRedis()
	c := NewCachedReader(src, rdb, time.Minute, discardLogger())
	rdb.data[c.key] = []byte("{not json")

	_, token, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "v2" || src.reads != 1 {
		t.Errorf("token = %q, reads = %d", token, src.reads)
	}
}

func TestCachedReader_DescribeAndDefaultTTL(t *testing.T) {
	c := NewCachedReader(&countingSource{}, newFakeRedis(), 0, discardLogger())
	if c.ttl != DefaultCacheTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultCacheTTL)
	}
	if got := c.Describe(); got != "github:hitoshi/news-archive/reuters_archive.json (redis cache)" {
		t.Errorf("Describe = %q", got)
	}
}
