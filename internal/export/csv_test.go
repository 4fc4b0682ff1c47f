package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/catalogmirror/internal/model"
)

type fakeSource struct {
	items []*model.CatalogItem
	err   error
}

func (f fakeSource) ListActive(context.Context) ([]*model.CatalogItem, error) {
	return f.items, f.err
}

func sampleItems() []*model.CatalogItem {
	seen := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	return []*model.CatalogItem{
		{
			SKU: "A-001", Title: "Фара", CarModel: "Lada Vesta", Price: "4 500 ₽",
			Link: "/catalog/a/", ContentHash: "h1", IsActive: true, LastSeen: seen,
			DetailStatus: model.DetailStatusParsed,
			ExtraData:    map[string]string{"Производитель": "Lada", "OEM": "845"},
		},
		{
			SKU: "B-002", Title: "Бампер, передний", IsActive: true, LastSeen: seen,
			DetailStatus: model.DetailStatusPending,
			ExtraData:    map[string]string{"Цвет": "чёрный", "sku": "conflict"},
		},
	}
}

func TestWriteCSV_HeaderIsUnionOfExtraKeys(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), &buf, fakeSource{items: sampleItems()}, Options{})
	if err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("CSVとして読めない: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}

	want := []string{
		"sku", "title", "car_model", "price", "link", "image", "hash", "is_active", "last_seen", "detail_status",
		"OEM", "extra_sku", "Производитель", "Цвет",
	}
	if strings.Join(records[0], "|") != strings.Join(want, "|") {
		t.Errorf("header = %v\nwant %v", records[0], want)
	}

	a := records[1]
	if a[0] != "A-001" || a[8] != "2026-04-02T10:00:00Z" || a[9] != "parsed" {
		t.Errorf("row A = %v", a)
	}
	if a[10] != "845" || a[11] != "" || a[12] != "Lada" || a[13] != "" {
		t.Errorf("row A extra = %v", a[10:])
	}

	b := records[2]
	if b[1] != "Бампер, передний" {
		t.Errorf("カンマを含む値 = %q", b[1])
	}
	if b[11] != "conflict" || b[13] != "чёрный" {
		t.Errorf("row B extra = %v", b[10:])
	}
}

func TestWriteCSV_BOM(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteCSV(context.Background(), &buf, fakeSource{}, Options{BOM: true}); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "\uFEFFsku,") {
		t.Errorf("先頭 = %q, BOMで始まるべき", buf.String()[:10])
	}

	buf.Reset()
	if _, err := WriteCSV(context.Background(), &buf, fakeSource{}, Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "sku,") {
		t.Errorf("BOMなしの先頭 = %q", buf.String()[:4])
	}
}

func TestWriteCSV_SourceError(t *testing.T) {
	var buf bytes.Buffer
	srcErr := errors.New("db down")
	if _, err := WriteCSV(context.Background(), &buf, fakeSource{err: srcErr}, Options{BOM: true}); !errors.Is(err, srcErr) {
		t.Fatalf("err = %v, want %v", err, srcErr)
	}
	if buf.Len() != 0 {
		t.Error("エラー時に何か書き出された")
	}
}

func TestExtraColumns(t *testing.T) {
	got := ExtraColumns(sampleItems())
	want := []string{"OEM", "sku", "Производитель", "Цвет"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("ExtraColumns = %v, want %v", got, want)
	}
	if len(ExtraColumns(nil)) != 0 {
		t.Error("空の入力で列が返った")
	}
}
