package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/catalogmirror/internal/middleware"
	"github.com/hitoshi/catalogmirror/internal/model"
)

// StatusSource はステータス表示に必要な読み取り操作。
type StatusSource interface {
	CountByStatus(ctx context.Context) ([]model.StatusCount, error)
	GetMeta(ctx context.Context, key string, dst any) (bool, error)
}

// HealthChecker はDB接続の疎通確認を行う。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// StatusHandler はヘルスチェックとクロール状況のHTTPハンドラー。
type StatusHandler struct {
	source StatusSource
	health HealthChecker
	logger *slog.Logger
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(source StatusSource, health HealthChecker, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{source: source, health: health, logger: logger}
}

// statusResponse は GET /api/status のレスポンス。
type statusResponse struct {
	Counts   []model.StatusCount  `json:"counts"`
	Active   int64                `json:"active"`
	Inactive int64                `json:"inactive"`
	Cursor   *model.CatalogCursor `json:"cursor"`
	LastPass *model.PassSummary   `json:"last_pass"`
}

// Health は GET /health を処理する。DBに到達できない場合は503を返す。
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.health.PingContext(ctx); err != nil {
		h.logger.Warn("ヘルスチェック失敗", slog.String("error", err.Error()))
		middleware.WriteServiceUnavailable(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status は GET /api/status を処理する。
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.source.CountByStatus(ctx)
	if err != nil {
		h.logger.Error("件数の取得に失敗", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	resp := statusResponse{Counts: counts}
	for _, c := range counts {
		if c.IsActive {
			resp.Active += c.Count
		} else {
			resp.Inactive += c.Count
		}
	}

	var cursor model.CatalogCursor
	found, err := h.source.GetMeta(ctx, model.MetaKeyCatalogCursor, &cursor)
	if err != nil {
		h.logger.Error("カーソルの取得に失敗", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if found {
		resp.Cursor = &cursor
	}

	var last model.PassSummary
	found, err = h.source.GetMeta(ctx, model.MetaKeyLastPass, &last)
	if err != nil {
		h.logger.Error("直近パスの取得に失敗", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if found {
		resp.LastPass = &last
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
