package fetch

import (
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// HeaderProvider はリクエストごとのHTTPヘッダーを提供する。
type HeaderProvider interface {
	Headers(targetURL string) http.Header
}

// userAgents はローテーションに使うブラウザのUser-Agent。
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6098.94 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.6169.47 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Mobile Safari/537.36",
}

var (
	acceptLanguages = []string{
		"ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		"ru,en-US;q=0.9,en;q=0.8",
		"ru-RU,ru;q=0.9",
	}
	accepts = []string{
		"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"*/*",
	}
	searchReferers = []string{
		"https://www.google.com/",
		"https://yandex.by/",
		"https://www.bing.com/",
	}
)

// versionRe はUser-Agent中のドット区切りのバージョン番号にマッチする。
var versionRe = regexp.MustCompile(`\d+\.\d+(?:\.\d+)*`)

// versionJitter はバージョン番号の各要素に加える揺らぎの幅。
const versionJitter = 4

// BrowserHeaders はリクエストごとにブラウザ風のヘッダーをランダムに組み立てる。
// Accept-Encodingはnet/httpのTransportに任せる（設定すると自動展開されなくなる）。
type BrowserHeaders struct {
	// Referer が空でない場合、検索エンジンの代わりにこの値を候補に含める。
	Referer string
	intn    func(n int) int
}

// NewBrowserHeaders はBrowserHeadersを生成する。refererにはカタログのベースURLを渡す。
func NewBrowserHeaders(referer string) *BrowserHeaders {
	return &BrowserHeaders{Referer: referer, intn: rand.IntN}
}

// Headers はHeaderProviderを実装する。
func (b *BrowserHeaders) Headers(string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", b.userAgent())
	h.Set("Accept", pick(b.intn, accepts))
	h.Set("Accept-Language", pick(b.intn, acceptLanguages))

	referers := searchReferers
	if b.Referer != "" {
		referers = append([]string{b.Referer}, searchReferers...)
	}
	h.Set("Referer", pick(b.intn, referers))
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("DNT", strconv.Itoa(b.intn(2)))
	h.Set("Sec-Fetch-Dest", pick(b.intn, []string{"document", "empty"}))
	h.Set("Sec-Fetch-Mode", pick(b.intn, []string{"navigate", "cors"}))
	h.Set("Sec-Fetch-Site", pick(b.intn, []string{"none", "same-origin", "cross-site"}))
	h.Set("Cache-Control", pick(b.intn, []string{"max-age=0", "no-cache"}))
	return h
}

// userAgent はUser-Agentを1つ選び、バージョン番号を少しずらして返す。
func (b *BrowserHeaders) userAgent() string {
	ua := pick(b.intn, userAgents)
	return versionRe.ReplaceAllStringFunc(ua, func(v string) string {
		parts := strings.Split(v, ".")
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				continue
			}
			n += b.intn(2*versionJitter+1) - versionJitter
			if n < 0 {
				n = 0
			}
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ".")
	})
}

func pick(intn func(int) int, values []string) string {
	return values[intn(len(values))]
}

// StaticHeaders は固定のUser-Agentのみを送る。
type StaticHeaders struct {
	UserAgent string
}

// Headers はHeaderProviderを実装する。
func (s StaticHeaders) Headers(string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", s.UserAgent)
	h.Set("Accept", accepts[0])
	return h
}
