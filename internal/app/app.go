package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/catalogmirror/internal/config"
	"github.com/hitoshi/catalogmirror/internal/database"
	"github.com/hitoshi/catalogmirror/internal/export"
	"github.com/hitoshi/catalogmirror/internal/fetch"
	"github.com/hitoshi/catalogmirror/internal/handler"
	"github.com/hitoshi/catalogmirror/internal/logger"
	"github.com/hitoshi/catalogmirror/internal/metrics"
	"github.com/hitoshi/catalogmirror/internal/middleware"
	"github.com/hitoshi/catalogmirror/internal/parser"
	"github.com/hitoshi/catalogmirror/internal/repository"
	"github.com/hitoshi/catalogmirror/internal/security"
	"github.com/hitoshi/catalogmirror/internal/walker"
	"github.com/hitoshi/catalogmirror/internal/worker/cleanup"
	"github.com/hitoshi/catalogmirror/internal/worker/detail"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再構成する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)
	opts, err := ParseOptions(cmd, args, w)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// CSVをstdoutに書く場合はログと混ざらないようstderrに出す
	logWriter := w
	if cmd == CommandExport && opts.Output == "-" {
		logWriter = os.Stderr
	}

	cfg, err := Init(logWriter)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("catalog_base_url", cfg.CatalogBaseURL),
	)

	if cmd == CommandMigrate {
		return runMigrate(cfg)
	}

	c, err := newComponents(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	switch cmd {
	case CommandWalk:
		return runWalk(ctx, c, opts)
	case CommandDetail:
		return runDetail(ctx, c)
	case CommandRun:
		return runSupervisor(ctx, c)
	case CommandReclaim:
		return runReclaim(ctx, c)
	case CommandArchive:
		return runArchive(ctx, c)
	case CommandExport:
		return runExport(ctx, c, opts, w)
	default:
		return runServe(ctx, c)
	}
}

// components はサブコマンド間で共有する依存関係。
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *repository.CatalogStore
	guard     *security.URLGuard
	fetcher   *fetch.Fetcher
	parser    *parser.Parser
	registry  *prometheus.Registry
	collector *metrics.Collector
}

// newComponents はDB接続を開き、ストア・フェッチャー・パーサー・メトリクスをワイヤリングする。
// SQLiteの場合は同じ接続にマイグレーションを適用する（インメモリDBでも使えるようにするため）。
func newComponents(cfg *config.Config, log *slog.Logger) (*components, error) {
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if database.Dialect(cfg.DatabaseDriver) == "sqlite" {
		if err := database.MigrateSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	log.Info("database connection established", slog.String("driver", cfg.DatabaseDriver))

	store := repository.NewCatalogStore(db, cfg.DatabaseDriver, repository.Policy{
		ObservePolicy:   repository.ObservePolicy(cfg.PresenceObservePolicy),
		RequeueOnChange: cfg.DetailRequeueOnChange,
		MaxAttempts:     cfg.DetailMaxAttempts,
	})

	guard, err := security.NewURLGuard(cfg.CatalogBaseURL, cfg.FetchAllowPrivate)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid CATALOG_BASE_URL: %w", err)
	}

	client := guard.NewSafeClient(cfg.FetchTimeout)

	var headers fetch.HeaderProvider = fetch.NewBrowserHeaders(guard.BaseURL())
	if cfg.FetchUserAgent != "" {
		headers = fetch.StaticHeaders{UserAgent: cfg.FetchUserAgent}
	}

	fetcher, err := fetch.NewFetcher(client, headers, fetch.Options{
		MaxBodySize:   cfg.FetchMaxSize,
		RetryAttempts: cfg.FetchRetryAttempts,
		RetryDelay:    cfg.FetchRetryDelay,
	}, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	sel, err := parser.LoadSelectors(cfg.ParserSelectorsFile)
	if err != nil {
		db.Close()
		return nil, err
	}
	p, err := parser.New(sel)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)
	fetcher.SetObserver(collector)

	return &components{
		cfg:       cfg,
		logger:    log,
		db:        db,
		store:     store,
		guard:     guard,
		fetcher:   fetcher,
		parser:    p,
		registry:  registry,
		collector: collector,
	}, nil
}

// Close はDB接続を閉じる。
func (c *components) Close() error {
	return c.db.Close()
}

func (c *components) walker() *walker.Walker {
	w := walker.New(c.store, c.fetcher, c.parser, c.guard, walker.Options{
		PageParam:           c.cfg.CatalogPageParam,
		MinTotalPages:       c.cfg.CatalogMinTotalPages,
		PageDelay:           c.cfg.CatalogPageDelay,
		MaxPagesPerRun:      c.cfg.CatalogMaxPagesPerRun,
		SweepMaxFailedPages: c.cfg.CatalogSweepMaxFailedPages,
	}, c.logger)
	w.SetMetrics(c.collector)
	return w
}

func (c *components) pool() *detail.Pool {
	p := detail.NewPool(c.store, c.fetcher, c.parser, c.guard, detail.Config{
		Concurrency:     c.cfg.DetailConcurrency,
		BatchSize:       c.cfg.DetailBatchSize,
		PollInterval:    c.cfg.DetailPollInterval,
		StaleAfter:      c.cfg.DetailStaleAfter,
		ReclaimInterval: c.cfg.DetailReclaimInterval,
		RatePerSec:      c.cfg.DetailRatePerSec,
	}, c.logger)
	p.SetMetrics(c.collector)
	return p
}

func (c *components) cleanupJob() *cleanup.CleanupJob {
	j := cleanup.NewCleanupJob(c.store, c.logger)
	j.InactiveAfter = c.cfg.ArchiveInactiveAfter
	j.SetMetrics(c.collector)
	return j
}

// startServer はHTTPサーバーをバックグラウンドで起動し、ctxのキャンセルでグレースフルシャットダウンする。
// 返り値のチャネルはサーバー停止後に閉じられる。
func (c *components) startServer(ctx context.Context) <-chan struct{} {
	limiter := middleware.NewRateLimiter("export", middleware.PerMinute(c.cfg.RateLimitExport))

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:  c.db,
		Status:         c.store,
		Export:         c.store,
		MetricsHandler: metrics.Handler(c.registry),
		ExportLimiter:  limiter,
		Logger:         c.logger,
	})

	server := &http.Server{
		Addr:         ":" + c.cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer limiter.Stop()

		go func() {
			<-ctx.Done()
			c.logger.Info("shutting down API server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("server shutdown failed", slog.String("error", err.Error()))
			}
		}()

		c.logger.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("server listen error", slog.String("error", err.Error()))
		}
	}()
	return done
}

// runServe は運用APIサーバーとアーカイブジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, c *components) error {
	go c.cleanupJob().Start(ctx, c.cfg.ArchiveInterval)

	<-c.startServer(ctx)
	c.logger.Info("API server stopped gracefully")
	return nil
}

// runWalk は巡回パスを1回実行する。-loopの場合はCATALOG_PASS_INTERVALごとに繰り返す。
func runWalk(ctx context.Context, c *components, opts Options) error {
	w := c.walker()
	if opts.Loop {
		w.Start(ctx, c.cfg.CatalogPassInterval)
		return nil
	}

	res, err := w.RunPass(ctx)
	if err != nil {
		return fmt.Errorf("walk failed: %w", err)
	}
	if res.Reason != nil {
		c.logger.Warn("巡回パスを中止しました", slog.String("reason", res.Reason.Error()))
	}
	return nil
}

// runDetail は詳細取得ワーカープールをシグナル受信まで実行する。
func runDetail(ctx context.Context, c *components) error {
	c.pool().Start(ctx)
	return nil
}

// runSupervisor は巡回と詳細取得を交互に実行し、運用APIとアーカイブジョブも同じプロセスで動かす。
func runSupervisor(ctx context.Context, c *components) error {
	done := c.startServer(ctx)
	go c.cleanupJob().Start(ctx, c.cfg.ArchiveInterval)

	sup := NewSupervisor(c.walker(), c.pool(), SupervisorConfig{
		DrainTimeout: c.cfg.DetailDrainTimeout,
		Interval:     c.cfg.CatalogPassInterval,
	}, c.logger)
	err := sup.Run(ctx)

	<-done
	return err
}

// runReclaim は放置されたクレームを1回回収する。
func runReclaim(ctx context.Context, c *components) error {
	n, err := c.pool().ReclaimStale(ctx)
	if err != nil {
		return fmt.Errorf("reclaim failed: %w", err)
	}
	c.logger.Info("reclaim completed", slog.Int64("reclaimed", n))
	return nil
}

// runArchive はアーカイブジョブを1回実行する。
func runArchive(ctx context.Context, c *components) error {
	if _, err := c.cleanupJob().Run(ctx); err != nil {
		return fmt.Errorf("archive failed: %w", err)
	}
	return nil
}

// runExport は有効な商品をCSVで書き出す。-o - の場合はstdoutに書く。
func runExport(ctx context.Context, c *components, opts Options, stdout io.Writer) error {
	var (
		n   int
		err error
	)
	if opts.Output == "-" {
		n, err = export.WriteCSV(ctx, stdout, c.store, export.Options{BOM: !opts.NoBOM})
	} else {
		f, cerr := os.Create(opts.Output)
		if cerr != nil {
			return fmt.Errorf("failed to create %s: %w", opts.Output, cerr)
		}
		n, err = export.WriteCSV(ctx, f, c.store, export.Options{BOM: !opts.NoBOM})
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	c.logger.Info("export completed", slog.Int("rows", n), slog.String("output", opts.Output))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるContextを返す。
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-stop:
			slog.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(stop)
	}()
	return ctx, cancel
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
