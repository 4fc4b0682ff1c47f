// Package detail は詳細ページ取得ジョブのワーカープールを提供する。
// ストアからpendingの商品をクレームし、同時実行数を制限しながら詳細ページを
// 取得・解析してマージする。失敗した商品はpendingに戻す。
package detail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/catalogmirror/internal/metrics"
	"github.com/hitoshi/catalogmirror/internal/model"
	"github.com/hitoshi/catalogmirror/internal/repository"
	"github.com/hitoshi/catalogmirror/internal/retry"
)

// releaseTimeout はキャンセル後にクレームを戻すための猶予。
const releaseTimeout = 5 * time.Second

// PageFetcher はページのHTMLを取得する。
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// DetailParser は詳細ページを解析する。
type DetailParser interface {
	ParseDetailPage(html string) (map[string]string, error)
}

// LinkResolver は商品リンクを取得可能な絶対URLに解決する。
type LinkResolver interface {
	ResolveCatalogURL(ref string) (string, error)
}

// Config はワーカープールの設定パラメータ。
type Config struct {
	// Concurrency は同時に処理する商品数の上限（デフォルト: 5）。
	Concurrency int
	// BatchSize は1回のクレーム件数（デフォルト: 50）。
	BatchSize int
	// PollInterval はキューが空のときの待ち時間（デフォルト: 2秒）。
	PollInterval time.Duration
	// StaleAfter はin_progressのまま放置されたとみなす時間（デフォルト: 10分）。
	StaleAfter time.Duration
	// ReclaimInterval は放置クレームの回収間隔（デフォルト: 1分）。
	ReclaimInterval time.Duration
	// RatePerSec は詳細ページ取得の毎秒上限。0以下なら制限しない。
	RatePerSec float64
	// MaxBackoff はクレーム失敗が続いたときの待ち時間の上限（デフォルト: 1分）。
	MaxBackoff time.Duration
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		BatchSize:       50,
		PollInterval:    2 * time.Second,
		StaleAfter:      10 * time.Minute,
		ReclaimInterval: time.Minute,
		MaxBackoff:      time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = d.ReclaimInterval
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Pool は詳細取得ジョブのワーカープール。
type Pool struct {
	queue    repository.DetailQueueRepository
	fetcher  PageFetcher
	parser   DetailParser
	resolver LinkResolver
	config   Config
	limiter  *rate.Limiter
	merge    retry.Policy
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewPool はPoolの新しいインスタンスを生成する。0以下の設定値はデフォルト値を使う。
func NewPool(
	queue repository.DetailQueueRepository,
	fetcher PageFetcher,
	parser DetailParser,
	resolver LinkResolver,
	config Config,
	logger *slog.Logger,
) *Pool {
	config = config.withDefaults()
	p := &Pool{
		queue:    queue,
		fetcher:  fetcher,
		parser:   parser,
		resolver: resolver,
		config:   config,
		metrics:  metrics.Nop{},
		logger:   logger.With(slog.String("worker_id", uuid.NewString())),
	}
	if config.RatePerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), 1)
	}
	p.merge = retry.Policy{
		MaxAttempts: 3,
		Delay:       100 * time.Millisecond,
		Multiplier:  2,
		Retryable:   repository.IsRetryable,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			p.logger.Warn("詳細データのマージを再試行します",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		},
	}
	return p
}

// SetMetrics はメトリクスの記録先を設定する。
func (p *Pool) SetMetrics(rec metrics.Recorder) {
	p.metrics = rec
}

// RunOnce は1バッチ分をクレームして処理し、クレームした件数を返す。
// 個々の商品の失敗はpendingに戻してログに残し、バッチのエラーにはしない。
// 返すエラーはクレーム自体の失敗のみ。
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	claimed, _, err := p.runBatch(ctx)
	return claimed, err
}

// runBatch はRunOnceの本体。クレーム件数とマージに成功した件数を返す。
func (p *Pool) runBatch(ctx context.Context) (int, int, error) {
	claims, err := p.queue.ClaimBatch(ctx, p.config.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("詳細取得ジョブのクレームに失敗しました: %w", err)
	}
	if len(claims) == 0 {
		return 0, 0, nil
	}
	p.metrics.RecordClaimed(len(claims))

	start := time.Now()
	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup
	var parsed atomic.Int64

	for i, c := range claims {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			// 開始前の商品はクレームを戻す
			for _, rest := range claims[i:] {
				p.release(ctx, rest, ctx.Err())
			}
			break
		}

		wg.Add(1)
		go func(c model.Claim) {
			defer wg.Done()
			defer func() { <-sem }()
			if p.handle(ctx, c) {
				parsed.Add(1)
			}
		}(c)
	}
	wg.Wait()

	p.logger.Info("詳細取得バッチが完了しました",
		slog.Int("claimed", len(claims)),
		slog.Int64("parsed", parsed.Load()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return len(claims), int(parsed.Load()), nil
}

// handle は1商品を処理し、マージに成功したかどうかを返す。
func (p *Pool) handle(ctx context.Context, c model.Claim) bool {
	err := p.process(ctx, c)
	if err == nil {
		p.metrics.RecordDetail(metrics.ResultParsed)
		return true
	}

	p.metrics.RecordDetail(metrics.ResultFailed)
	if errors.Is(err, model.ErrItemNotFound) {
		p.logger.Warn("処理中の商品が削除されていました",
			slog.String("sku", c.SKU),
		)
		return false
	}
	p.logger.Error("詳細ページの処理に失敗しました",
		slog.String("sku", c.SKU),
		slog.String("link", c.Link),
		slog.String("error", err.Error()),
	)
	p.release(ctx, c, err)
	return false
}

// process は1商品の取得・解析・マージを行う。パニックはエラーに変換する。
func (p *Pool) process(ctx context.Context, c model.Claim) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("パニックが発生しました: %v", r)
		}
	}()

	if c.Link == "" {
		return errors.New("リンクがありません")
	}
	url, err := p.resolver.ResolveCatalogURL(c.Link)
	if err != nil {
		return err
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	html, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}

	detail, err := p.parser.ParseDetailPage(html)
	if err != nil {
		return err
	}

	return p.merge.Do(ctx, func(ctx context.Context) error {
		return p.queue.MergeDetail(ctx, c.SKU, detail)
	})
}

// release はクレームをpendingに戻す。ctxがキャンセル済みでも戻せるよう独立した期限で実行する。
func (p *Pool) release(ctx context.Context, c model.Claim, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := p.queue.ResetStatus(rctx, c.SKU, model.DetailStatusPending); err != nil {
		p.logger.Error("クレームの解放に失敗しました",
			slog.String("sku", c.SKU),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
	}
}

// ReclaimStale は放置されたin_progressの商品をpendingに戻す。
func (p *Pool) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := p.queue.ReclaimStaleInProgress(ctx, p.config.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("放置クレームの回収に失敗しました: %w", err)
	}
	if n > 0 {
		p.metrics.RecordReclaimed(n)
		p.logger.Info("放置されたクレームをpendingに戻しました",
			slog.Int64("reclaimed", n),
			slog.Duration("stale_after", p.config.StaleAfter),
		)
	}
	return n, nil
}

// Start はctxがキャンセルされるまでバッチ処理を繰り返す。
// 起動時に放置クレームを回収し、以降は別ゴルーチンで定期的に回収する。
// キューが空ならPollIntervalだけ待ち、クレームの失敗が続く場合は指数バックオフする。
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("詳細取得ワーカーを開始しました",
		slog.Int("concurrency", p.config.Concurrency),
		slog.Int("batch_size", p.config.BatchSize),
	)

	if _, err := p.ReclaimStale(ctx); err != nil {
		p.logger.Error("起動時の放置クレーム回収に失敗しました", slog.String("error", err.Error()))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reclaimLoop(ctx)
	}()
	defer wg.Wait()

	consecutiveErrors := 0
	for {
		n, err := p.RunOnce(ctx)
		if ctx.Err() != nil {
			p.logger.Info("詳細取得ワーカーを停止しました")
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			consecutiveErrors++
			wait = retry.CalculateBackoff(consecutiveErrors, p.config.PollInterval, p.config.MaxBackoff)
			p.logger.Error("詳細取得バッチの実行に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("consecutive_errors", consecutiveErrors),
				slog.Duration("backoff", wait),
			)
		case n == 0:
			consecutiveErrors = 0
			wait = p.config.PollInterval
		default:
			consecutiveErrors = 0
			continue
		}

		select {
		case <-ctx.Done():
			p.logger.Info("詳細取得ワーカーを停止しました")
			return
		case <-time.After(wait):
		}
	}
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("放置クレームの回収に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// Drain はクレームが空になるまでバッチを繰り返し、マージに成功した件数の合計を返す。
// 1件も成功しないバッチが出た場合は、失敗してpendingに戻った商品を
// 取り続けないようにそこで打ち切る。
func (p *Pool) Drain(ctx context.Context) (int, error) {
	if _, err := p.ReclaimStale(ctx); err != nil {
		return 0, err
	}

	total := 0
	for {
		claimed, parsed, err := p.runBatch(ctx)
		total += parsed
		if err != nil {
			return total, err
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if claimed == 0 {
			p.logger.Info("詳細取得キューが空になりました", slog.Int("parsed", total))
			return total, nil
		}
		if parsed == 0 {
			p.logger.Warn("成功した商品が無いため詳細取得を打ち切ります",
				slog.Int("claimed", claimed),
				slog.Int("parsed", total),
			)
			return total, nil
		}
	}
}
