package fetch

import (
	"regexp"
	"strings"
	"testing"
)

func TestBrowserHeaders_SetsBrowserLikeHeaders(t *testing.T) {
	h := NewBrowserHeaders("https://shop.example.com/").Headers("https://shop.example.com/p/1")

	for _, key := range []string{"User-Agent", "Accept", "Accept-Language", "Referer", "Sec-Fetch-Mode", "Cache-Control"} {
		if h.Get(key) == "" {
			t.Errorf("%s が設定されていない", key)
		}
	}
	if h.Get("Accept-Encoding") != "" {
		t.Error("Accept-Encodingは設定しない（Transportの自動展開を使う）")
	}
}

func TestBrowserHeaders_JittersVersions(t *testing.T) {
	// 常に最大値を返す乱数でバージョンが+versionJitterされることを確認する
	b := &BrowserHeaders{intn: func(n int) int { return n - 1 }}
	ua := b.userAgent()

	want := userAgents[len(userAgents)-1]
	if ua == want {
		t.Fatalf("バージョンが変化していない: %q", ua)
	}
	if !strings.Contains(ua, "Chrome/125.4.4.4") {
		t.Errorf("ua = %q, want Chrome/125.4.4.4", ua)
	}

	// 常に0を返す乱数では各要素が-versionJitterされ、負数は0で止まる
	b = &BrowserHeaders{intn: func(int) int { return 0 }}
	ua = b.userAgent()
	if !regexp.MustCompile(`Chrome/116\.0\.6094\.90`).MatchString(ua) {
		t.Errorf("ua = %q, want Chrome/116.0.6094.90", ua)
	}
}

func TestStaticHeaders(t *testing.T) {
	h := StaticHeaders{UserAgent: "catalogmirror/1.0"}.Headers("")
	if h.Get("User-Agent") != "catalogmirror/1.0" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
}
