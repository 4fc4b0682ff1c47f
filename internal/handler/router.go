package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/catalogmirror/internal/export"
	"github.com/hitoshi/catalogmirror/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	HealthChecker HealthChecker
	Status        StatusSource
	Export        export.Source

	// MetricsHandler は /metrics に割り当てる。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
	// ExportLimiter はCSVエクスポートのクライアント単位レート制限。nilの場合は制限しない。
	ExportLimiter *middleware.RateLimiter

	Logger *slog.Logger
}

// NewRouter は運用エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	statusHandler := NewStatusHandler(deps.Status, deps.HealthChecker, logger)
	exportHandler := NewExportHandler(deps.Export, logger)

	r.Get("/health", statusHandler.Health)
	r.Get("/api/status", statusHandler.Status)

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.ExportLimiter != nil {
			r.Use(deps.ExportLimiter.Middleware())
		}
		r.Get("/export.csv", exportHandler.ExportCSV)
	})

	return r
}
