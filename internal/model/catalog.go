// Package model はドメインモデルを定義する。
package model

import "time"

// DetailStatus は詳細ページ取得ジョブの状態を表す。
type DetailStatus string

const (
	// DetailStatusPending は詳細取得待ち。ワーカーのクレーム対象になる。
	DetailStatusPending DetailStatus = "pending"
	// DetailStatusInProgress はワーカーがクレーム済みで処理中。
	DetailStatusInProgress DetailStatus = "in_progress"
	// DetailStatusParsed は詳細データのマージが完了した状態。
	DetailStatusParsed DetailStatus = "parsed"
	// DetailStatusSemiOff は巡回パス中に「まだ観測されていない」ことを示すマーク。
	DetailStatusSemiOff DetailStatus = "semi_off"
)

// Valid は既知のステータス値かどうかを返す。
func (s DetailStatus) Valid() bool {
	switch s {
	case DetailStatusPending, DetailStatusInProgress, DetailStatusParsed, DetailStatusSemiOff:
		return true
	}
	return false
}

// UpsertOutcome はUPSERTの結果種別。
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// CatalogItem はカタログのミラー行を表す。skuが業務上の識別子。
// 表示用フィールドは空文字をNULLとして扱う。
type CatalogItem struct {
	ID           int64             `json:"id"`
	SKU          string            `json:"sku"`
	Title        string            `json:"title,omitempty"`
	CarModel     string            `json:"car_model,omitempty"`
	Price        string            `json:"price,omitempty"`
	Link         string            `json:"link,omitempty"`
	Image        string            `json:"image,omitempty"`
	ExtraData    map[string]string `json:"extra_data"`
	ContentHash  string            `json:"content_hash"`
	IsActive     bool              `json:"is_active"`
	DetailStatus DetailStatus      `json:"detail_status"`
	LastSeen     time.Time         `json:"last_seen"`
	LastSeenPass int64             `json:"last_seen_pass"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	ParsedAt     *time.Time        `json:"parsed_at,omitempty"`
}

// ListingItem は一覧ページから抽出された未保存の商品データ。
// パーサーが生成し、ウォーカーがストアのUpsertに渡す。
type ListingItem struct {
	SKU             string
	Title           string
	CarModel        string
	Price           string
	Link            string
	Image           string
	Characteristics map[string]string
}

// Claim はClaimBatchで取得した詳細取得ジョブ。
type Claim struct {
	SKU  string
	Link string
}

// ArchiveRecord はアーカイブテーブルの1行。書き込み後は更新しない。
type ArchiveRecord struct {
	ID         int64
	SKU        string
	ArchivedAt time.Time
	Data       []byte // CatalogItemのJSONスナップショット
}

// StatusCount はステータスと有効フラグごとの件数。
type StatusCount struct {
	DetailStatus DetailStatus `json:"detail_status"`
	IsActive     bool         `json:"is_active"`
	Count        int64        `json:"count"`
}

// メタデータのキー
const (
	MetaKeyCatalogCursor = "catalog_cursor"
	MetaKeyPassCounter   = "pass_counter"
	MetaKeyLastPass      = "last_pass"
)

// CatalogCursor は巡回パスの再開位置。
// キーが存在しないことは「前回のパスは完了している」ことを意味する。
type CatalogCursor struct {
	NextPage    int       `json:"next_page"`
	Pass        int64     `json:"pass"`
	PassID      string    `json:"pass_id"`
	TotalPages  int       `json:"total_pages"`
	FailedPages int       `json:"failed_pages"`
	StartedAt   time.Time `json:"started_at"`
}

// PassSummary は直近に完了したパスの記録。
type PassSummary struct {
	Pass         int64     `json:"pass"`
	PassID       string    `json:"pass_id"`
	TotalPages   int       `json:"total_pages"`
	FailedPages  int       `json:"failed_pages"`
	Swept        int64     `json:"swept"`
	SweepSkipped bool      `json:"sweep_skipped"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
