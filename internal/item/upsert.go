// Package item は商品行の同一性判定・マージ・ハッシュ計算を提供する。
// ストアの実装（Postgres/SQLite）から共通に利用される純粋関数のみを置く。
package item

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/catalogmirror/internal/model"
)

// MergeExtra は既存のextraDataに新しい値を重ねたマップを返す。
// 同名キーは新しい値で上書きし、新しい観測に含まれないキーは保持する。
// 引数のマップは変更しない。
func MergeExtra(old, incoming map[string]string) map[string]string {
	merged := make(map[string]string, len(old)+len(incoming))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// ComputeContentHash はsku + 表示フィールド + extraDataのSHA-256ハッシュを計算する。
// extraDataはキー順にソートされたJSONとして連結するため、挿入順に依存しない。
func ComputeContentHash(it *model.CatalogItem) string {
	extra := it.ExtraData
	if extra == nil {
		extra = map[string]string{}
	}
	// map[string]stringのMarshalは失敗しない
	extraJSON, _ := json.Marshal(extra)

	data := strings.Join([]string{
		it.SKU, it.Title, it.CarModel, it.Price, it.Link, it.Image, string(extraJSON),
	}, "|")
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// PlanUpsert は一覧から観測した商品を既存行に適用した結果と、その種別を返す。
// existingがnilの場合は新規行（pending、有効、試行回数0）を組み立てる。
// ハッシュは必ずマージ後の内容に対して計算し、既存ハッシュと一致すればUpsertUnchangedを返す。
// detail_statusの変更はここでは行わない。
func PlanUpsert(existing *model.CatalogItem, in model.ListingItem, pass int64, now time.Time) (model.CatalogItem, model.UpsertOutcome) {
	if existing == nil {
		next := model.CatalogItem{
			SKU:          in.SKU,
			Title:        in.Title,
			CarModel:     in.CarModel,
			Price:        in.Price,
			Link:         in.Link,
			Image:        in.Image,
			ExtraData:    MergeExtra(nil, in.Characteristics),
			IsActive:     true,
			DetailStatus: model.DetailStatusPending,
			LastSeen:     now,
			LastSeenPass: pass,
			CreatedAt:    now,
		}
		next.ContentHash = ComputeContentHash(&next)
		return next, model.UpsertCreated
	}

	next := *existing
	next.Title = in.Title
	next.CarModel = in.CarModel
	next.Price = in.Price
	next.Link = in.Link
	next.Image = in.Image
	next.ExtraData = MergeExtra(existing.ExtraData, in.Characteristics)
	next.ContentHash = ComputeContentHash(&next)
	next.IsActive = true
	next.LastSeen = now
	next.LastSeenPass = pass

	if next.ContentHash == existing.ContentHash {
		// 内容は既存のまま。ハートビートのみ更新する
		unchanged := *existing
		unchanged.IsActive = true
		unchanged.LastSeen = now
		unchanged.LastSeenPass = pass
		return unchanged, model.UpsertUnchanged
	}
	return next, model.UpsertUpdated
}

// PlanDetailMerge は詳細ページから得た特性値を既存行にマージした結果を返す。
// ステータスはparsedになり、ハッシュはマージ後の内容で再計算する。
func PlanDetailMerge(existing *model.CatalogItem, detail map[string]string, now time.Time) model.CatalogItem {
	next := *existing
	next.ExtraData = MergeExtra(existing.ExtraData, detail)
	next.ContentHash = ComputeContentHash(&next)
	next.DetailStatus = model.DetailStatusParsed
	next.LastSeen = now
	parsedAt := now
	next.ParsedAt = &parsedAt
	return next
}
