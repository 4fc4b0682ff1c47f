package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/catalogmirror/internal/retry"
	"github.com/hitoshi/catalogmirror/internal/walker"
)

// PassRunner は巡回パスを1回実行する。*walker.Walkerが満たす。
type PassRunner interface {
	RunPass(ctx context.Context) (*walker.PassResult, error)
}

// QueueDrainer は詳細取得キューを空になるまで処理する。*detail.Poolが満たす。
type QueueDrainer interface {
	Drain(ctx context.Context) (int, error)
}

// SupervisorConfig はスーパーバイザーの待ち時間の設定。
type SupervisorConfig struct {
	// WalkPause はパスが途中で止まった（カーソルが残っている）ときに巡回を再開するまでの待ち時間。
	WalkPause time.Duration
	// DrainTimeout は1回の詳細取得フェーズの上限時間。
	DrainTimeout time.Duration
	// Interval は詳細取得フェーズの後、次のパスを始めるまでの待ち時間。
	Interval time.Duration
	// MaxBackoff はパスの失敗が続いたときの待ち時間の上限。
	MaxBackoff time.Duration
}

// Supervisor は巡回と詳細取得を交互に実行する。
// カーソルが残っている間は巡回を続け、パスが終わったら詳細取得キューを処理する。
type Supervisor struct {
	walker PassRunner
	pool   QueueDrainer
	config SupervisorConfig
	logger *slog.Logger
}

// NewSupervisor はSupervisorを生成する。
func NewSupervisor(w PassRunner, pool QueueDrainer, config SupervisorConfig, logger *slog.Logger) *Supervisor {
	if config.WalkPause <= 0 {
		config.WalkPause = 5 * time.Second
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 10 * time.Hour
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Minute
	}
	return &Supervisor{walker: w, pool: pool, config: config, logger: logger}
}

// Run はctxがキャンセルされるまでループする。キャンセル時はnilを返す。
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("スーパーバイザーを開始しました",
		slog.Duration("drain_timeout", s.config.DrainTimeout),
		slog.Duration("interval", s.config.Interval),
	)

	consecutiveErrors := 0
	for {
		res, err := s.walker.RunPass(ctx)
		if ctx.Err() != nil {
			s.logger.Info("スーパーバイザーを停止しました")
			return nil
		}

		var wait time.Duration
		switch {
		case err != nil:
			consecutiveErrors++
			wait = retry.CalculateBackoff(consecutiveErrors, s.config.WalkPause, s.config.MaxBackoff)
			s.logger.Error("巡回パスの実行に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Duration("backoff", wait),
			)
		case res.Status == walker.PassPartial:
			consecutiveErrors = 0
			wait = s.config.WalkPause
		default:
			consecutiveErrors = 0
			s.drain(ctx)
			wait = s.config.Interval
		}

		if !sleepCtx(ctx, wait) {
			s.logger.Info("スーパーバイザーを停止しました")
			return nil
		}
	}
}

func (s *Supervisor) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, s.config.DrainTimeout)
	defer cancel()

	parsed, err := s.pool.Drain(dctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.logger.Warn("詳細取得フェーズが時間切れになりました",
			slog.Int("parsed", parsed),
			slog.Duration("timeout", s.config.DrainTimeout),
		)
	case ctx.Err() != nil:
	default:
		s.logger.Error("詳細取得フェーズに失敗しました",
			slog.Int("parsed", parsed),
			slog.String("error", err.Error()),
		)
	}
}

// sleepCtx はdだけ待つ。ctxがキャンセルされた場合はfalseを返す。
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
