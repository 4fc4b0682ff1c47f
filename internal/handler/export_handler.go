package handler

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/catalogmirror/internal/export"
	"github.com/hitoshi/catalogmirror/internal/middleware"
	"github.com/hitoshi/catalogmirror/internal/model"
)

// ExportHandler は有効な商品のCSVエクスポートを返す。
type ExportHandler struct {
	source export.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewExportHandler はExportHandlerを生成する。
func NewExportHandler(source export.Source, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{source: source, logger: logger, now: time.Now}
}

// ExportCSV は GET /export.csv を処理する。
// bom=0 を指定するとBOMを付けない（デフォルトは表計算ソフト向けにBOM付き）。
func (h *ExportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	opts := export.Options{BOM: r.URL.Query().Get("bom") != "0"}

	// ステータス送信前に取得しておき、失敗時は500を返す
	items, err := h.source.ListActive(r.Context())
	if err != nil {
		h.logger.Error("エクスポート対象の取得に失敗", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	filename := fmt.Sprintf("catalog-%s.csv", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	n, err := export.WriteCSV(r.Context(), bw, snapshot(items), opts)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		// ヘッダー送信後のためステータスは変更できない
		h.logger.Error("CSVの書き込みに失敗", slog.String("error", err.Error()), slog.Int("rows", n))
		return
	}

	h.logger.Info("CSVエクスポート完了", slog.Int("rows", n))
}

// snapshot は取得済みの商品をexport.Sourceとして渡す。
type snapshot []*model.CatalogItem

func (s snapshot) ListActive(context.Context) ([]*model.CatalogItem, error) {
	return s, nil
}
