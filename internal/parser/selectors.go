package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Selectors は一覧・詳細ページの抽出に使うCSSセレクタと文字列パターン。
// YAMLファイルで一部だけを上書きできる。空の項目はデフォルト値を使う。
type Selectors struct {
	// ListingContainer は一覧の商品カード群を囲む要素。見つからない場合は解析エラー。
	ListingContainer string `yaml:"listing_container"`
	// ListingItem はListingContainer内の商品カード1件。
	ListingItem string `yaml:"listing_item"`

	Title           string `yaml:"title"`
	Price           string `yaml:"price"`
	SKU             string `yaml:"sku"`
	SKULabel        string `yaml:"sku_label"`
	Image           string `yaml:"image"`
	Characteristics string `yaml:"characteristics"`

	// DetailTable は詳細ページの特性テーブル。
	DetailTable string `yaml:"detail_table"`

	// PageCountAttr は総ページ数を持つ属性名。
	PageCountAttr string `yaml:"page_count_attr"`
	// PageCountPattern は本文から総ページ数を取り出す正規表現。1番目のグループが総ページ数。
	PageCountPattern string `yaml:"page_count_pattern"`
}

// DefaultSelectors はカタログサイトのマークアップに合わせたデフォルト値を返す。
func DefaultSelectors() Selectors {
	return Selectors{
		ListingContainer: "div.main-content.new-border-grid",
		ListingItem:      "ul > li.new-grid__item",
		Title:            "div.item-title a",
		Price:            "div.item-price.flex-col .prices-not_checkbox span",
		SKU:              "div.item-article span",
		SKULabel:         "Артикул товара:",
		Image:            "div.item-image img",
		Characteristics:  ".item-characteristics tr",
		DetailTable:      "tbody",
		PageCountAttr:    "grid-page-count",
		PageCountPattern: `Страница:\s*\d+\s*/\s*(\d+)`,
	}
}

// LoadSelectors はデフォルト値にYAMLファイルの内容を重ねたSelectorsを返す。
// pathが空の場合はデフォルト値をそのまま返す。
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()
	if path == "" {
		return sel, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sel, fmt.Errorf("セレクタファイルの読み込みに失敗しました: %w", err)
	}

	var override Selectors
	if err := yaml.Unmarshal(data, &override); err != nil {
		return sel, fmt.Errorf("セレクタファイルの解析に失敗しました: %w", err)
	}
	sel.merge(override)
	return sel, nil
}

func (s *Selectors) merge(o Selectors) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.ListingContainer, o.ListingContainer)
	set(&s.ListingItem, o.ListingItem)
	set(&s.Title, o.Title)
	set(&s.Price, o.Price)
	set(&s.SKU, o.SKU)
	set(&s.SKULabel, o.SKULabel)
	set(&s.Image, o.Image)
	set(&s.Characteristics, o.Characteristics)
	set(&s.DetailTable, o.DetailTable)
	set(&s.PageCountAttr, o.PageCountAttr)
	set(&s.PageCountPattern, o.PageCountPattern)
}
