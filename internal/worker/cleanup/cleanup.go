// Package cleanup は長期間無効な商品のアーカイブジョブを提供する。
// 一覧から消えて保持期間（デフォルト90日）を超えた商品をスナップショットとして
// アーカイブテーブルへ退避し、ライブテーブルから削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/catalogmirror/internal/metrics"
)

// Archiver は無効な商品をまとめてアーカイブする操作。
type Archiver interface {
	ArchiveInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は長期間無効な商品のアーカイブジョブ。
// 日次実行のバッチジョブとして設計されており、冪等に動作する。
type CleanupJob struct {
	archiver Archiver
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
	// InactiveAfter はlast_seenからアーカイブ対象になるまでの期間（デフォルト: 90日）。
	InactiveAfter time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(archiver Archiver, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		archiver:      archiver,
		logger:        logger,
		metrics:       metrics.Nop{},
		now:           time.Now,
		InactiveAfter: 90 * 24 * time.Hour,
	}
}

// SetMetrics はメトリクスの記録先を設定する。
func (j *CleanupJob) SetMetrics(rec metrics.Recorder) {
	j.metrics = rec
}

// Run はlast_seenがInactiveAfterより古い無効な商品をアーカイブし、件数を返す。
// 冪等: 対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.Add(-j.InactiveAfter)

	archived, err := j.archiver.ArchiveInactiveBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("アーカイブジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
			slog.Int64("archived_count", archived),
		)
		return archived, fmt.Errorf("無効な商品のアーカイブに失敗: %w", err)
	}
	j.metrics.RecordArchived(archived)

	j.logger.Info("アーカイブジョブが完了しました",
		slog.Int64("archived_count", archived),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return archived, nil
}

// Start は指定間隔でRunを実行する。ctxがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_, _ = j.Run(ctx)
		}
	}
}
