// Package retry は回数上限つきの再試行ポリシーを提供する。
// 取得処理（HTTP）とストア操作の両方で共通に使う。
package retry

import (
	"context"
	"time"
)

// Policy は再試行の回数・待ち時間・対象エラーの判定をまとめたもの。
type Policy struct {
	// MaxAttempts は初回を含む最大試行回数。1以下の場合は再試行しない。
	MaxAttempts int
	// Delay は初回の再試行までの待ち時間。
	Delay time.Duration
	// Multiplier は再試行ごとに待ち時間に掛ける係数。1以下の場合は固定間隔。
	Multiplier float64
	// MaxDelay は待ち時間の上限。0の場合は上限なし。
	MaxDelay time.Duration
	// Retryable はエラーが再試行対象かを判定する。nilの場合はすべて再試行する。
	Retryable func(error) bool
	// OnRetry は再試行の直前に呼ばれる（ログ出力用）。attemptは失敗した試行の番号。
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Fixed は固定間隔で最大attempts回試行するポリシーを返す。
func Fixed(attempts int, delay time.Duration, retryable func(error) bool) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, Retryable: retryable}
}

// Do はfnを成功するか、再試行対象外のエラーが返るか、回数上限に達するまで実行する。
// 最後のエラーをそのまま返す。待機中にctxがキャンセルされた場合はctx.Err()を返す。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || ctx.Err() != nil || !p.shouldRetry(err) {
			return err
		}

		wait := p.Backoff(attempt - 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return err
}

func (p Policy) shouldRetry(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Backoff はretry回目（0始まり）の再試行前の待ち時間を返す。
func (p Policy) Backoff(retry int) time.Duration {
	delay := p.Delay
	if p.Multiplier <= 1 {
		return delay
	}
	for i := 0; i < retry; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// initialから2倍ずつ増加し、maxで頭打ちになる。
func CalculateBackoff(consecutiveErrors int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
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
