package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/catalogmirror/internal/model"
)

const listingHTML = `<html><body>
<div class="main-content new-border-grid" grid-page-count="12">
<ul>
  <li class="new-grid__item">
    <div class="item-image"><img src="/img/a1.jpg"></div>
    <div class="item-title"><a href="/catalog/item-a1/">Фара левая  Lada Vesta 2015-</a></div>
    <div class="item-price flex-col"><div class="prices-not_checkbox"><span>4 500 ₽</span></div></div>
    <div class="item-article"><span>Артикул товара: A-001</span></div>
    <table class="item-characteristics">
      <tr><th>Производитель:</th><td>Lada</td></tr>
      <tr><th>Состояние:</th><td> новое </td></tr>
    </table>
  </li>
  <li class="new-grid__item">
    <div class="item-image"><img data-src="/img/b2.jpg"></div>
    <div class="item-title"><a href="/catalog/item-b2/">Бампер</a></div>
    <div class="item-article"><span>Артикул товара:B-002</span></div>
  </li>
  <li class="new-grid__item">
    <div class="item-title"><a href="/catalog/item-x/">Без артикула</a></div>
  </li>
</ul>
</div>
</body></html>`

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(DefaultSelectors())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestParseListingPage(t *testing.T) {
	p := newTestParser(t)

	items, err := p.ParseListingPage(listingHTML)
	if err != nil {
		t.Fatalf("ParseListingPage failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}

	a := items[0]
	if a.SKU != "A-001" {
		t.Errorf("SKU = %q, want A-001", a.SKU)
	}
	if a.Title != "Фара левая" || a.CarModel != "Lada Vesta 2015-" {
		t.Errorf("Title/CarModel = %q / %q", a.Title, a.CarModel)
	}
	if a.Link != "/catalog/item-a1/" {
		t.Errorf("Link = %q", a.Link)
	}
	if a.Price != "4 500 ₽" {
		t.Errorf("Price = %q", a.Price)
	}
	if a.Image != "/img/a1.jpg" {
		t.Errorf("Image = %q", a.Image)
	}
	if a.Characteristics["Производитель"] != "Lada" || a.Characteristics["Состояние"] != "новое" {
		t.Errorf("Characteristics = %v", a.Characteristics)
	}

	b := items[1]
	if b.SKU != "B-002" {
		t.Errorf("SKU = %q, want B-002", b.SKU)
	}
	if b.CarModel != "" {
		t.Errorf("CarModel = %q, want empty", b.CarModel)
	}
	if b.Image != "/img/b2.jpg" {
		t.Errorf("data-srcの画像 = %q", b.Image)
	}
	if b.Characteristics != nil {
		t.Errorf("Characteristics = %v, want nil", b.Characteristics)
	}

	if items[2].SKU != "" {
		t.Errorf("SKU = %q, want empty", items[2].SKU)
	}
}

func TestParseListingPage_EmptyGrid(t *testing.T) {
	p := newTestParser(t)

	items, err := p.ParseListingPage(`<div class="main-content new-border-grid"><ul></ul></div>`)
	if err != nil {
		t.Fatalf("ParseListingPage failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(items) = %d, want 0", len(items))
	}
}

func TestParseListingPage_MissingContainer(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseListingPage(`<html><body><h1>Доступ ограничен</h1></body></html>`)
	if !model.IsParseError(err) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in, title, car string
	}{
		{"Фара  Lada Vesta", "Фара", "Lada Vesta"},
		{"Фара", "Фара", ""},
		{"Фара левая  Lada  Granta", "Фара левая", "Lada  Granta"},
		{"", "", ""},
	}
	for _, tt := range tests {
		title, car := SplitTitle(tt.in)
		if title != tt.title || car != tt.car {
			t.Errorf("SplitTitle(%q) = (%q, %q), want (%q, %q)", tt.in, title, car, tt.title, tt.car)
		}
	}
}

func TestParseDetailPage(t *testing.T) {
	p := newTestParser(t)

	html := `<html><body><table><tbody>
<tr><th>OEM номер:</th><td>8450000123</td></tr>
<tr><th>Применимость</th><td><a href="/cars/vesta/">Vesta</a>, <a href="/cars/xray/">XRAY</a> и другие</td></tr>
<tr><th>Описание:</th><td>Оригинальная
   деталь</td></tr>
<tr><td>без заголовка</td></tr>
</tbody></table></body></html>`

	got, err := p.ParseDetailPage(html)
	if err != nil {
		t.Fatalf("ParseDetailPage failed: %v", err)
	}

	want := map[string]string{
		"OEM номер":    "8450000123",
		"Применимость": "Vesta (/cars/vesta/) XRAY (/cars/xray/) , и другие",
		"Описание":     "Оригинальная деталь",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestParseDetailPage_MissingTable(t *testing.T) {
	p := newTestParser(t)

	_, err := p.ParseDetailPage(`<html><body><p>нет данных</p></body></html>`)
	if !model.IsParseError(err) {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestParseTotalPages(t *testing.T) {
	p := newTestParser(t)

	tests := []struct {
		name string
		html string
		want int
	}{
		{"属性", listingHTML, 12},
		{"本文", `<div class="pager">Страница: 1 / 37</div>`, 37},
		{"本文（空白なし）", `<span>Страница:2/5</span>`, 5},
		{"不正な属性は本文へ", `<div grid-page-count="x">Страница: 1 / 4</div>`, 4},
		{"どちらも無い", `<div>пусто</div>`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseTotalPages(tt.html)
			if err != nil {
				t.Fatalf("ParseTotalPages failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTotalPages() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLoadSelectors(t *testing.T) {
	sel, err := LoadSelectors("")
	if err != nil {
		t.Fatalf("LoadSelectors(\"\") failed: %v", err)
	}
	if sel != DefaultSelectors() {
		t.Error("パス未指定ならデフォルト値を返すべき")
	}

	path := filepath.Join(t.TempDir(), "selectors.yaml")
	yml := "listing_item: \"li.card\"\nsku_label: \"SKU:\"\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	sel, err = LoadSelectors(path)
	if err != nil {
		t.Fatalf("LoadSelectors failed: %v", err)
	}
	if sel.ListingItem != "li.card" || sel.SKULabel != "SKU:" {
		t.Errorf("上書きされていない: %+v", sel)
	}
	if sel.ListingContainer != DefaultSelectors().ListingContainer {
		t.Errorf("未指定の項目はデフォルト値のままであるべき: %q", sel.ListingContainer)
	}
}

func TestLoadSelectors_Errors(t *testing.T) {
	if _, err := LoadSelectors(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("存在しないファイルでエラーにならなかった")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listing_item: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSelectors(path); err == nil {
		t.Error("不正なYAMLでエラーにならなかった")
	}
}

func TestNew_RejectsBadPattern(t *testing.T) {
	sel := DefaultSelectors()
	sel.PageCountPattern = `Страница: \d+`
	if _, err := New(sel); err == nil {
		t.Error("グループの無いパターンでエラーにならなかった")
	}
	sel.PageCountPattern = `(`
	if _, err := New(sel); err == nil {
		t.Error("不正な正規表現でエラーにならなかった")
	}
}
