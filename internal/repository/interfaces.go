// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/catalogmirror/internal/model"
)

// ListingRepository はカタログ巡回（ウォーカー）が使う永続化インターフェース。
type ListingRepository interface {
	// Upsert は一覧から観測した商品を保存し、結果種別を返す。
	// skuが空の場合はmodel.ErrEmptySKUを返す。
	Upsert(ctx context.Context, in model.ListingItem, pass int64) (model.UpsertOutcome, error)

	// BeginPresencePass は有効な非終端（pending/in_progress/parsed）の商品をsemi_offにマークする。
	// マークした件数を返す。
	BeginPresencePass(ctx context.Context) (int64, error)

	// MarkObserved はsemi_offの商品を観測済みに戻す。semi_off以外は何もしない。
	MarkObserved(ctx context.Context, sku string) error

	// SweepUnobserved は有効なsemi_offの商品を無効化し、件数を返す。
	// 巡回が最後まで完了した場合にのみ呼び出すこと。
	SweepUnobserved(ctx context.Context) (int64, error)
}

// DetailQueueRepository は詳細取得ワーカーが使うジョブキューのインターフェース。
type DetailQueueRepository interface {
	// ClaimBatch は有効なpendingの商品を最大limit件クレームしてin_progressにする。
	// 他のクレーム中の行はロック待ちせずにスキップする。
	ClaimBatch(ctx context.Context, limit int) ([]model.Claim, error)

	// MergeDetail は詳細ページの特性値をextraDataにマージしparsedにする。
	// 行が存在しない場合はmodel.ErrItemNotFoundを返す。
	MergeDetail(ctx context.Context, sku string, detail map[string]string) error

	// ResetStatus はステータスを強制的に変更する。
	// in_progressからpendingに戻す場合はattemptsを1増やす。
	ResetStatus(ctx context.Context, sku string, status model.DetailStatus) error

	// ReclaimStaleInProgress はlast_seenがmaxAgeより古いin_progressの行をpendingに戻す。
	ReclaimStaleInProgress(ctx context.Context, maxAge time.Duration) (int64, error)
}

// MetaRepository はクロール管理用のキー・バリューストア。
type MetaRepository interface {
	// GetMeta はkeyの値をdstにJSONデコードする。キーが無い場合はfalseを返しdstを変更しない。
	GetMeta(ctx context.Context, key string, dst any) (bool, error)
	// SetMeta はkeyにvalueをJSONとして保存する。既存の値は上書きする。
	SetMeta(ctx context.Context, key string, value any) error
	// DeleteMeta はkeyを削除する。存在しない場合もエラーにしない。
	DeleteMeta(ctx context.Context, key string) error
}

// ArchiveRepository は商品のアーカイブ（スナップショット保存と削除）を行う。
type ArchiveRepository interface {
	// Archive は指定skuをアーカイブへ退避して削除する。行が無い場合はfalseを返す。
	Archive(ctx context.Context, sku string) (bool, error)
	// ArchiveInactiveBefore はlast_seenがcutoffより前の無効な行をすべてアーカイブする。
	ArchiveInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// ListArchived は指定skuのアーカイブを古い順に返す。
	ListArchived(ctx context.Context, sku string) ([]model.ArchiveRecord, error)
}

// ReportRepository はエクスポートやステータス表示のための読み取り専用インターフェース。
type ReportRepository interface {
	// GetItem は指定skuの商品を取得する。見つからない場合はnilを返す。
	GetItem(ctx context.Context, sku string) (*model.CatalogItem, error)
	// CountByStatus はステータスと有効フラグごとの件数を返す。
	CountByStatus(ctx context.Context) ([]model.StatusCount, error)
	// ListActive は有効な商品をsku順に返す。
	ListActive(ctx context.Context) ([]*model.CatalogItem, error)
}

// CatalogRepository は商品ストアの全操作をまとめたインターフェース。
type CatalogRepository interface {
	ListingRepository
	DetailQueueRepository
	MetaRepository
	ArchiveRepository
	ReportRepository
}
