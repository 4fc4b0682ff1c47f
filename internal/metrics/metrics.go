// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/catalogmirror/internal/model"
)

// ラベル値
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultParsed = "parsed"
)

// Recorder はメトリクス記録のインターフェース。
// ウォーカー、詳細ワーカー、フェッチャーから利用する。
type Recorder interface {
	ObserveFetch(outcome string, d time.Duration)
	RecordUpsert(outcome model.UpsertOutcome)
	RecordPage(result string)
	RecordPass(result string, swept int64)
	RecordClaimed(n int)
	RecordDetail(result string)
	RecordReclaimed(n int64)
	RecordArchived(n int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchTotal    *prometheus.CounterVec
	fetchLatency  prometheus.Histogram
	itemsUpserted *prometheus.CounterVec
	pages         *prometheus.CounterVec
	passes        *prometheus.CounterVec
	itemsSwept    prometheus.Counter
	claimed       prometheus.Counter
	details       *prometheus.CounterVec
	reclaimed     prometheus.Counter
	archived      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogmirror_fetch_total",
			Help: "ページ取得の結果別の合計数",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogmirror_fetch_latency_seconds",
			Help:    "ページ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogmirror_items_upserted_total",
			Help: "一覧から保存した商品の結果別の合計数",
		}, []string{"outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogmirror_pages_total",
			Help: "処理した一覧ページの結果別の合計数",
		}, []string{"result"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogmirror_passes_total",
			Help: "巡回パスの結果別の合計数",
		}, []string{"result"}),
		itemsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogmirror_items_swept_total",
			Help: "スイープで無効化した商品の合計数",
		}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogmirror_detail_claimed_total",
			Help: "クレームした詳細取得ジョブの合計数",
		}),
		details: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogmirror_detail_processed_total",
			Help: "処理した詳細取得ジョブの結果別の合計数",
		}, []string{"result"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogmirror_detail_reclaimed_total",
			Help: "放置されたクレームをpendingに戻した合計数",
		}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalogmirror_items_archived_total",
			Help: "アーカイブした商品の合計数",
		}),
	}

	reg.MustRegister(
		c.fetchTotal,
		c.fetchLatency,
		c.itemsUpserted,
		c.pages,
		c.passes,
		c.itemsSwept,
		c.claimed,
		c.details,
		c.reclaimed,
		c.archived,
	)

	return c
}

// ObserveFetch はページ取得の結果とレイテンシを記録する。
func (c *Collector) ObserveFetch(outcome string, d time.Duration) {
	c.fetchTotal.WithLabelValues(outcome).Inc()
	c.fetchLatency.Observe(d.Seconds())
}

// RecordUpsert はUPSERTの結果を記録する。
func (c *Collector) RecordUpsert(outcome model.UpsertOutcome) {
	c.itemsUpserted.WithLabelValues(string(outcome)).Inc()
}

// RecordPage は一覧ページの処理結果を記録する。
func (c *Collector) RecordPage(result string) {
	c.pages.WithLabelValues(result).Inc()
}

// RecordPass は巡回パスの結果とスイープ件数を記録する。
func (c *Collector) RecordPass(result string, swept int64) {
	c.passes.WithLabelValues(result).Inc()
	c.itemsSwept.Add(float64(swept))
}

// RecordClaimed はクレームしたジョブ数を記録する。
func (c *Collector) RecordClaimed(n int) {
	c.claimed.Add(float64(n))
}

// RecordDetail は詳細取得ジョブの結果を記録する。
func (c *Collector) RecordDetail(result string) {
	c.details.WithLabelValues(result).Inc()
}

// RecordReclaimed はpendingに戻したクレーム数を記録する。
func (c *Collector) RecordReclaimed(n int64) {
	c.reclaimed.Add(float64(n))
}

// RecordArchived はアーカイブした商品数を記録する。
func (c *Collector) RecordArchived(n int64) {
	c.archived.Add(float64(n))
}

// Nop は何も記録しないRecorder。メトリクスを使わないサブコマンドやテストで使う。
type Nop struct{}

func (Nop) ObserveFetch(string, time.Duration) {}
func (Nop) RecordUpsert(model.UpsertOutcome)   {}
func (Nop) RecordPage(string)                  {}
func (Nop) RecordPass(string, int64)           {}
func (Nop) RecordClaimed(int)                  {}
func (Nop) RecordDetail(string)                {}
func (Nop) RecordReclaimed(int64)              {}
func (Nop) RecordArchived(int64)               {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
