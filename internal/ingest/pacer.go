package ingest

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer は外部呼び出しの前に待機する。待機中にctxがキャンセルされた場合はctx.Err()を返す。
type Pacer interface {
	Wait(ctx context.Context) error
}

// NoopPacer は待機しない。テストや手動実行で使用する。
type NoopPacer struct{}

// Wait はctxが有効なら即座に返る。
func (NoopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// RandomDelayPacer は Base + [0, Jitter) のランダムな時間だけ待機する。
type RandomDelayPacer struct {
	Base   time.Duration
	Jitter time.Duration
}

// Delay は次回の待機時間を返す。
func (p RandomDelayPacer) Delay() time.Duration {
	d := p.Base
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// Wait はDelay()の時間だけ待機する。
func (p RandomDelayPacer) Wait(ctx context.Context) error {
	d := p.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimitPacer は呼び出し間隔の下限をトークンバケットで保証する。
type RateLimitPacer struct {
	limiter *rate.Limiter
}

// NewRateLimitPacer は最小間隔intervalのRateLimitPacerを生成する。
func NewRateLimitPacer(interval time.Duration) *RateLimitPacer {
	return &RateLimitPacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait は次のトークンが得られるまで待機する。
func (p *RateLimitPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// ChainPacer は複数のPacerを順に待機する。
type ChainPacer []Pacer

// Wait は全てのPacerを順に待機し、最初のエラーを返す。
func (c ChainPacer) Wait(ctx context.Context) error {
	for _, p := range c {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
