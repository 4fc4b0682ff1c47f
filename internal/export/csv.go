// Package export は有効な商品をCSVとして書き出す。
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/hitoshi/catalogmirror/internal/model"
)

// utf8BOM はExcelでUTF-8として開かせるための先頭バイト。
const utf8BOM = "\uFEFF"

// mainColumns は商品の固定列。特性値の列はこの後にキー名の昇順で続く。
var mainColumns = []string{
	"sku", "title", "car_model", "price", "link", "image",
	"hash", "is_active", "last_seen", "detail_status",
}

// Source は書き出し対象の商品を返す。
type Source interface {
	ListActive(ctx context.Context) ([]*model.CatalogItem, error)
}

// Options はCSV出力の設定。
type Options struct {
	// BOM がtrueの場合は先頭にUTF-8のBOMを付ける。
	BOM bool
}

// WriteCSV は有効な商品をwへCSVで書き出し、行数を返す。
// 列は固定列と、全商品の特性キーの和集合。商品に無いキーのセルは空になる。
func WriteCSV(ctx context.Context, w io.Writer, src Source, opts Options) (int, error) {
	items, err := src.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	if opts.BOM {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return 0, err
		}
	}

	extraKeys := ExtraColumns(items)
	header := make([]string, 0, len(mainColumns)+len(extraKeys))
	header = append(header, mainColumns...)
	for _, k := range extraKeys {
		header = append(header, headerName(k))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	record := make([]string, len(header))
	for _, it := range items {
		record = record[:0]
		record = append(record,
			it.SKU,
			it.Title,
			it.CarModel,
			it.Price,
			it.Link,
			it.Image,
			it.ContentHash,
			strconv.FormatBool(it.IsActive),
			it.LastSeen.UTC().Format(time.RFC3339),
			string(it.DetailStatus),
		)
		for _, k := range extraKeys {
			record = append(record, it.ExtraData[k])
		}
		if err := cw.Write(record); err != nil {
			return 0, err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("CSVの書き出しに失敗しました: %w", err)
	}
	return len(items), nil
}

// ExtraColumns は全商品の特性キーの和集合を昇順で返す。
func ExtraColumns(items []*model.CatalogItem) []string {
	seen := map[string]struct{}{}
	for _, it := range items {
		for k := range it.ExtraData {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// headerName は固定列と同名の特性キーに接頭辞を付けて列名の重複を避ける。
func headerName(key string) string {
	for _, c := range mainColumns {
		if c == key {
			return "extra_" + key
		}
	}
	return key
}
