// Package walker はカタログ一覧の巡回パスを実行する。
// ページを順に取得して商品をストアへ保存し、マーク・アンド・スイープで
// 一覧から消えた商品を検出する。
package walker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hitoshi/catalogmirror/internal/metrics"
	"github.com/hitoshi/catalogmirror/internal/model"
	"github.com/hitoshi/catalogmirror/internal/repository"
)

// PageFetcher はページのHTMLを取得する。
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// ListingParser は一覧ページを解析する。
type ListingParser interface {
	ParseListingPage(html string) ([]model.ListingItem, error)
	ParseTotalPages(html string) (int, error)
}

// Pager はページ番号から一覧ページのURLを組み立てる。
type Pager interface {
	PageURL(param string, page int) string
}

// Store はウォーカーが使うストア操作。
type Store interface {
	repository.ListingRepository
	repository.MetaRepository
}

// PassStatus はRunPassの終了状態。
type PassStatus string

const (
	// PassComplete は最終ページまで失敗なく巡回し、スイープまで実行した。
	PassComplete PassStatus = "complete"
	// PassDegraded は最終ページまで巡回したが失敗ページがあった。
	// 失敗ページ数がSweepMaxFailedPagesを超えていればスイープを省略している。
	PassDegraded PassStatus = "degraded"
	// PassPartial はページ数上限で途中終了した。カーソルは残る。
	PassPartial PassStatus = "partial"
	// PassAborted は総ページ数が下限を下回り、何も変更せずに終了した。
	PassAborted PassStatus = "aborted"
)

// PassResult はRunPass 1回分の結果。
type PassResult struct {
	Pass        int64
	PassID      string
	Status      PassStatus
	Resumed     bool
	TotalPages  int
	Pages       int // 今回の呼び出しで処理したページ数
	FailedPages int // パス全体（再開前を含む）の失敗ページ数
	Items       int
	Swept       int64
	// Reason は中止理由。PassAbortedの場合はmodel.ErrSanityCheckをラップしている。
	Reason error
}

// Options はウォーカーの動作設定。
type Options struct {
	PageParam string
	// MinTotalPages を下回る総ページ数はページネーションの異常とみなす。
	MinTotalPages int
	// PageDelay はページ取得の最小間隔。0以下なら待たない。
	PageDelay time.Duration
	// MaxPagesPerRun は1回の呼び出しで処理するページ数の上限。0以下なら無制限。
	MaxPagesPerRun int
	// SweepMaxFailedPages 以下の失敗ページ数ならスイープする。0なら失敗ページが1つでもあればスイープしない。
	SweepMaxFailedPages int
}

// Walker はカタログの巡回パスを実行する。
type Walker struct {
	store   Store
	fetcher PageFetcher
	parser  ListingParser
	pager   Pager
	opts    Options
	limiter *rate.Limiter
	metrics metrics.Recorder
	logger  *slog.Logger

	now       func() time.Time
	newPassID func() string
}

// New はWalkerを生成する。
func New(store Store, fetcher PageFetcher, parser ListingParser, pager Pager, opts Options, logger *slog.Logger) *Walker {
	if opts.PageParam == "" {
		opts.PageParam = "pg"
	}
	if opts.SweepMaxFailedPages < 0 {
		opts.SweepMaxFailedPages = 0
	}
	limit := rate.Inf
	if opts.PageDelay > 0 {
		limit = rate.Every(opts.PageDelay)
	}
	return &Walker{
		store:     store,
		fetcher:   fetcher,
		parser:    parser,
		pager:     pager,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		metrics:   metrics.Nop{},
		logger:    logger,
		now:       time.Now,
		newPassID: func() string { return uuid.NewString() },
	}
}

// SetMetrics はメトリクスの記録先を設定する。
func (w *Walker) SetMetrics(rec metrics.Recorder) {
	w.metrics = rec
}

// InProgress は中断中のパス（カーソル）があるかどうかを返す。
func (w *Walker) InProgress(ctx context.Context) (bool, error) {
	var cur model.CatalogCursor
	return w.store.GetMeta(ctx, model.MetaKeyCatalogCursor, &cur)
}

// RunPass は巡回パスを1回実行する。カーソルがあれば続きから再開する。
// 取得・解析に失敗したページはスキップして数え、ストアのエラーやctxのキャンセルは
// カーソルを残したまま返す。
func (w *Walker) RunPass(ctx context.Context) (*PassResult, error) {
	rootURL := w.pager.PageURL(w.opts.PageParam, 1)
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	rootHTML, err := w.fetcher.Fetch(ctx, rootURL)
	if err != nil {
		return nil, fmt.Errorf("一覧ルートページの取得に失敗しました: %w", err)
	}
	total, err := w.parser.ParseTotalPages(rootHTML)
	if err != nil {
		return nil, fmt.Errorf("総ページ数の取得に失敗しました: %w", err)
	}

	if total < w.opts.MinTotalPages {
		w.logger.Warn("総ページ数が下限を下回るためパスを中止します",
			slog.Int("total_pages", total),
			slog.Int("min_total_pages", w.opts.MinTotalPages),
		)
		w.metrics.RecordPass(string(PassAborted), 0)
		return &PassResult{
			Status:     PassAborted,
			TotalPages: total,
			Reason:     fmt.Errorf("total_pages=%d min=%d: %w", total, w.opts.MinTotalPages, model.ErrSanityCheck),
		}, nil
	}

	cur, resumed, err := w.openPass(ctx, total)
	if err != nil {
		return nil, err
	}
	res := &PassResult{
		Pass:        cur.Pass,
		PassID:      cur.PassID,
		Resumed:     resumed,
		TotalPages:  total,
		FailedPages: cur.FailedPages,
	}
	log := w.logger.With(slog.Int64("pass", cur.Pass), slog.String("pass_id", cur.PassID))

	for page := cur.NextPage; page <= total; page++ {
		if w.opts.MaxPagesPerRun > 0 && res.Pages >= w.opts.MaxPagesPerRun {
			log.Info("ページ数の上限に達したためパスを中断します",
				slog.Int("next_page", page),
				slog.Int("total_pages", total),
			)
			res.Status = PassPartial
			w.metrics.RecordPass(string(PassPartial), 0)
			return res, nil
		}

		var html string
		if page == 1 {
			html = rootHTML
		}
		n, err := w.walkPage(ctx, log, cur.Pass, page, html)
		if err != nil {
			return res, err
		}
		res.Pages++
		if n < 0 {
			res.FailedPages++
		} else {
			res.Items += n
		}

		cur.NextPage = page + 1
		cur.FailedPages = res.FailedPages
		if err := w.store.SetMeta(ctx, model.MetaKeyCatalogCursor, cur); err != nil {
			return res, err
		}
	}

	return w.finishPass(ctx, log, cur, res)
}

// openPass はカーソルを読み込む。無ければ新しいパスを開始してマークを付ける。
// 再開したパスでは同じパスの続きなのでマークし直さない。
func (w *Walker) openPass(ctx context.Context, total int) (*model.CatalogCursor, bool, error) {
	var cur model.CatalogCursor
	found, err := w.store.GetMeta(ctx, model.MetaKeyCatalogCursor, &cur)
	if err != nil {
		return nil, false, err
	}
	if found {
		if cur.NextPage < 1 {
			cur.NextPage = 1
		}
		cur.TotalPages = total
		w.logger.Info("中断したパスを再開します",
			slog.Int64("pass", cur.Pass),
			slog.String("pass_id", cur.PassID),
			slog.Int("next_page", cur.NextPage),
			slog.Int("total_pages", total),
		)
		return &cur, true, nil
	}

	var counter int64
	if _, err := w.store.GetMeta(ctx, model.MetaKeyPassCounter, &counter); err != nil {
		return nil, false, err
	}
	counter++
	if err := w.store.SetMeta(ctx, model.MetaKeyPassCounter, counter); err != nil {
		return nil, false, err
	}

	marked, err := w.store.BeginPresencePass(ctx)
	if err != nil {
		return nil, false, err
	}

	cur = model.CatalogCursor{
		NextPage:   1,
		Pass:       counter,
		PassID:     w.newPassID(),
		TotalPages: total,
		StartedAt:  w.now(),
	}
	if err := w.store.SetMeta(ctx, model.MetaKeyCatalogCursor, cur); err != nil {
		return nil, false, err
	}

	w.logger.Info("巡回パスを開始します",
		slog.Int64("pass", cur.Pass),
		slog.String("pass_id", cur.PassID),
		slog.Int("total_pages", total),
		slog.Int64("marked", marked),
	)
	return &cur, false, nil
}

// walkPage は1ページ分を処理し、保存した商品数を返す。
// 取得・解析に失敗した場合は-1を返す（エラーにはしない）。
// htmlが空でなければ取得を省略してそれを使う。
func (w *Walker) walkPage(ctx context.Context, log *slog.Logger, pass int64, page int, html string) (int, error) {
	url := w.pager.PageURL(w.opts.PageParam, page)

	if html == "" {
		if err := w.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		var err error
		html, err = w.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Error("一覧ページの取得に失敗しました",
				slog.Int("page", page),
				slog.String("url", url),
				slog.String("error", err.Error()),
			)
			w.metrics.RecordPage(metrics.ResultFailed)
			return -1, nil
		}
	}

	items, err := w.parser.ParseListingPage(html)
	if err != nil {
		log.Error("一覧ページの解析に失敗しました",
			slog.Int("page", page),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		w.metrics.RecordPage(metrics.ResultFailed)
		return -1, nil
	}

	saved := 0
	for _, it := range items {
		if it.SKU == "" {
			log.Warn("skuの無い商品をスキップします",
				slog.Int("page", page),
				slog.String("title", it.Title),
				slog.String("link", it.Link),
			)
			continue
		}
		outcome, err := w.store.Upsert(ctx, it, pass)
		if err != nil {
			return 0, fmt.Errorf("page %d sku %s: %w", page, it.SKU, err)
		}
		w.metrics.RecordUpsert(outcome)
		if err := w.store.MarkObserved(ctx, it.SKU); err != nil {
			return 0, fmt.Errorf("page %d sku %s: %w", page, it.SKU, err)
		}
		saved++
	}

	log.Debug("一覧ページを処理しました",
		slog.Int("page", page),
		slog.Int("items", saved),
	)
	w.metrics.RecordPage(metrics.ResultOK)
	return saved, nil
}

// finishPass は最終ページ到達後の処理を行う。
// 失敗ページ数がSweepMaxFailedPagesを超えたパスはスイープしない。
func (w *Walker) finishPass(ctx context.Context, log *slog.Logger, cur *model.CatalogCursor, res *PassResult) (*PassResult, error) {
	summary := model.PassSummary{
		Pass:        cur.Pass,
		PassID:      cur.PassID,
		TotalPages:  res.TotalPages,
		FailedPages: res.FailedPages,
		StartedAt:   cur.StartedAt,
	}

	res.Status = PassComplete
	if res.FailedPages > 0 {
		res.Status = PassDegraded
	}

	if res.FailedPages <= w.opts.SweepMaxFailedPages {
		swept, err := w.store.SweepUnobserved(ctx)
		if err != nil {
			return res, err
		}
		res.Swept = swept
		if res.FailedPages > 0 {
			log.Warn("失敗したページがありますが許容範囲内のためスイープしました",
				slog.Int("failed_pages", res.FailedPages),
				slog.Int("sweep_max_failed_pages", w.opts.SweepMaxFailedPages),
			)
		}
	} else {
		log.Warn("失敗したページがあるためスイープを省略します",
			slog.Int("failed_pages", res.FailedPages),
			slog.Int("sweep_max_failed_pages", w.opts.SweepMaxFailedPages),
		)
		summary.SweepSkipped = true
	}
	summary.Swept = res.Swept
	summary.FinishedAt = w.now()

	if err := w.store.DeleteMeta(ctx, model.MetaKeyCatalogCursor); err != nil {
		return res, err
	}
	if err := w.store.SetMeta(ctx, model.MetaKeyLastPass, summary); err != nil {
		return res, err
	}

	w.metrics.RecordPass(string(res.Status), res.Swept)
	log.Info("巡回パスが完了しました",
		slog.String("status", string(res.Status)),
		slog.Int("total_pages", res.TotalPages),
		slog.Int("failed_pages", res.FailedPages),
		slog.Int64("swept", res.Swept),
		slog.Float64("duration_ms", float64(summary.FinishedAt.Sub(cur.StartedAt).Milliseconds())),
	)
	return res, nil
}

// Start は指定間隔で巡回パスを実行する。起動直後に1回実行し、
// ctxがキャンセルされるまで継続する。
func (w *Walker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("カタログ巡回を開始しました",
		slog.Duration("interval", interval),
	)

	w.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("カタログ巡回を停止しました")
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Walker) runLogged(ctx context.Context) {
	if _, err := w.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("巡回パスの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
