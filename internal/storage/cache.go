package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/newsarchive/internal/model"
)

// DefaultCacheTTL はアーカイブ読み込み結果のキャッシュ保持時間のデフォルト値。
const DefaultCacheTTL = time.Minute

// archiveSource はCachedReaderが読み込みを委譲する保存先。
type archiveSource interface {
	Read(ctx context.Context) (*model.Archive, model.VersionToken, error)
	Describe() string
}

// redisCache はCachedReaderが利用するRedisの操作。テストではフェイクに差し替える。
type redisCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// cacheEntry はRedisに保存するアーカイブとトークンの組。
type cacheEntry struct {
	Token model.VersionToken `json:"token"`
	Body  json.RawMessage    `json:"body"`
}

// CachedReader は参照API向けにアーカイブの読み込み結果をRedisへ短時間キャッシュする。
// 書き込みは提供しない。Redisの障害時は保存先から直接読み込む。
type CachedReader struct {
	inner  archiveSource
	client redisCache
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedReader はCachedReaderを生成する。ttlが0以下の場合はDefaultCacheTTLを使う。
func NewCachedReader(inner archiveSource, client redisCache, ttl time.Duration, logger *slog.Logger) *CachedReader {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedReader{
		inner:  inner,
		client: client,
		key:    "newsarchive:archive:" + inner.Describe(),
		ttl:    ttl,
		logger: logger,
	}
}

// Describe はログ出力用の保存先名を返す。
func (c *CachedReader) Describe() string {
	return c.inner.Describe() + " (redis cache)"
}

// Read はキャッシュがあればそれを返し、なければ保存先から読み込んでキャッシュする。
// 未作成や読み込み失敗はキャッシュしない。
func (c *CachedReader) Read(ctx context.Context) (*model.Archive, model.VersionToken, error) {
	if a, token, ok := c.lookup(ctx); ok {
		return a, token, nil
	}

	a, token, err := c.inner.Read(ctx)
	if err != nil {
		return a, token, err
	}
	c.store(ctx, a, token)
	return a, token, nil
}

func (c *CachedReader) lookup(ctx context.Context) (*model.Archive, model.VersionToken, bool) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("アーカイブキャッシュの取得に失敗しました",
				slog.String("key", c.key),
				slog.String("error", err.Error()),
			)
		}
		return nil, "", false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("アーカイブキャッシュが壊れています", slog.String("key", c.key))
		return nil, "", false
	}
	a, err := model.DecodeArchive(entry.Body)
	if err != nil {
		c.logger.Warn("アーカイブキャッシュが壊れています", slog.String("key", c.key))
		return nil, "", false
	}
	return a, entry.Token, true
}

func (c *CachedReader) store(ctx context.Context, a *model.Archive, token model.VersionToken) {
	body, err := model.EncodeArchive(a)
	if err != nil {
		return
	}
	raw, err := json.Marshal(cacheEntry{Token: token, Body: body})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("アーカイブキャッシュの保存に失敗しました",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
	}
}
