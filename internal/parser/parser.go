// Package parser はカタログのHTMLから商品データを抽出する。
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/catalogmirror/internal/model"
)

// Parser はgoqueryで一覧ページ・詳細ページ・総ページ数を解析する。
type Parser struct {
	sel       Selectors
	pageCount *regexp.Regexp
}

// New はSelectorsからParserを生成する。
func New(sel Selectors) (*Parser, error) {
	re, err := regexp.Compile(sel.PageCountPattern)
	if err != nil {
		return nil, fmt.Errorf("総ページ数のパターンが不正です: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("総ページ数のパターンにグループがありません: %q", sel.PageCountPattern)
	}
	return &Parser{sel: sel, pageCount: re}, nil
}

// ParseListingPage は一覧ページから商品カードを抽出する。
// 商品カード群のコンテナが見つからない場合は解析エラーを返す。
// skuが取れないカードもそのまま返す（保存するかは呼び出し側が判断する）。
func (p *Parser) ParseListingPage(html string) ([]model.ListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, model.NewParseError("", err.Error())
	}

	container := doc.Find(p.sel.ListingContainer)
	if container.Length() == 0 {
		return nil, model.NewParseError("", "商品一覧のコンテナが見つかりません")
	}

	var items []model.ListingItem
	container.Find(p.sel.ListingItem).Each(func(_ int, card *goquery.Selection) {
		items = append(items, p.parseCard(card))
	})
	return items, nil
}

func (p *Parser) parseCard(card *goquery.Selection) model.ListingItem {
	var it model.ListingItem

	titleTag := card.Find(p.sel.Title).First()
	it.Title, it.CarModel = SplitTitle(strings.TrimSpace(titleTag.Text()))
	it.Link = strings.TrimSpace(titleTag.AttrOr("href", ""))
	it.Price = strings.TrimSpace(card.Find(p.sel.Price).First().Text())

	skuText := strings.TrimSpace(card.Find(p.sel.SKU).First().Text())
	if idx := strings.Index(skuText, p.sel.SKULabel); idx >= 0 {
		it.SKU = strings.TrimSpace(skuText[idx+len(p.sel.SKULabel):])
	}

	img := card.Find(p.sel.Image).First()
	it.Image = strings.TrimSpace(img.AttrOr("src", ""))
	if it.Image == "" {
		// 遅延読み込みの画像はdata-srcに実URLがある
		it.Image = strings.TrimSpace(img.AttrOr("data-src", ""))
	}

	chars := map[string]string{}
	card.Find(p.sel.Characteristics).Each(func(_ int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		td := tr.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := characteristicKey(th.Text())
		if key == "" {
			return
		}
		chars[key] = strings.TrimSpace(td.Text())
	})
	if len(chars) > 0 {
		it.Characteristics = chars
	}
	return it
}

// SplitTitle はカード見出しを商品名と車種に分ける。区切りは連続した2つの空白。
// 区切りが無い場合の車種は空文字。
func SplitTitle(full string) (title, carModel string) {
	parts := strings.SplitN(full, "  ", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		carModel = strings.TrimSpace(parts[1])
	}
	return title, carModel
}

// ParseDetailPage は詳細ページの特性テーブルを抽出する。
// セル内のリンクは「テキスト (URL)」の形で値に含める。
// 特性テーブルが見つからない場合は解析エラーを返す。
func (p *Parser) ParseDetailPage(html string) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, model.NewParseError("", err.Error())
	}

	table := doc.Find(p.sel.DetailTable).First()
	if table.Length() == 0 {
		return nil, model.NewParseError("", "特性テーブルが見つかりません")
	}

	data := map[string]string{}
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		th := tr.Find("th").First()
		td := tr.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := characteristicKey(th.Text())
		if key == "" {
			return
		}
		data[key] = cellValue(td)
	})
	return data, nil
}

// cellValue はセルのテキストを返す。リンクがある場合はリンクごとに「テキスト (URL)」とし、
// リンク以外のテキストを後ろに続ける。
func cellValue(td *goquery.Selection) string {
	links := td.Find("a")
	if links.Length() == 0 {
		return joinedText(td)
	}

	var parts []string
	links.Each(func(_ int, a *goquery.Selection) {
		text := strings.TrimSpace(a.Text())
		href := strings.TrimSpace(a.AttrOr("href", ""))
		switch {
		case text != "" && href != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", text, href))
		case text != "":
			parts = append(parts, text)
		}
	})

	rest := td.Clone()
	rest.Find("a").Remove()
	if other := joinedText(rest); other != "" {
		parts = append(parts, other)
	}
	return strings.Join(parts, " ")
}

// joinedText はテキストノードごとに前後の空白を除き、空白1つで連結する。
func joinedText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func characteristicKey(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), ":")
}

// ParseTotalPages は一覧ページから総ページ数を取り出す。
// 属性 → 本文のパターンの順に探し、どちらも無ければ1を返す。
func (p *Parser) ParseTotalPages(html string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, model.NewParseError("", err.Error())
	}

	if v, ok := doc.Find("[" + p.sel.PageCountAttr + "]").First().Attr(p.sel.PageCountAttr); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n, nil
		}
	}

	text := strings.Join(strings.Fields(doc.Text()), " ")
	if m := p.pageCount.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, nil
		}
	}
	return 1, nil
}
