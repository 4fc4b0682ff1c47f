// Package security はカタログ取得時のURL検証とSSRF防止機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は取得を許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
// safeurlはnet.DialerレベルでDNS解決後のIPアドレスも検証するため、
// ここでの照合はDNS解決前の静的チェックに使う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// URLGuard はカタログのベースURLに対する取得先の検証を行う。
// 一覧・詳細ページの取得先はカタログと同じホストに限定する。
type URLGuard struct {
	base         *url.URL
	allowPrivate bool
}

// NewURLGuard はカタログのベースURLからURLGuardを生成する。
// allowPrivateがtrueの場合はプライベートアドレスへの接続を許可する（社内ミラーや検証環境向け）。
func NewURLGuard(baseURL string, allowPrivate bool) (*URLGuard, error) {
	g := &URLGuard{allowPrivate: allowPrivate}
	if err := g.ValidateURL(baseURL); err != nil {
		return nil, fmt.Errorf("カタログのベースURLが不正です: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("カタログのベースURLが不正です: %w", err)
	}
	g.base = base
	return g, nil
}

// BaseURL はカタログのベースURLを返す。
func (g *URLGuard) BaseURL() string {
	return g.base.String()
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlによりプライベートIP、ループバック、リンクローカル、メタデータIPへの接続がブロックされ、
// 接続先ポートは80/443に限定される。allowPrivateの場合はタイムアウトのみ設定した通常のクライアントを返す。
func (g *URLGuard) NewSafeClient(timeout time.Duration) *http.Client {
	if g.allowPrivate {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLのスキームとホストを静的に検証する。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if g.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// ResolveCatalogURL は一覧から得たリンク（相対パス可）をベースURLに対して解決する。
// 解決後のホストがカタログのホストと異なる場合はエラーを返す。
func (g *URLGuard) ResolveCatalogURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty link")
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	resolved := g.base.ResolveReference(parsed)

	if !strings.EqualFold(resolved.Hostname(), g.base.Hostname()) {
		return "", fmt.Errorf("link host %q is outside the catalog host %q", resolved.Hostname(), g.base.Hostname())
	}
	if err := g.ValidateURL(resolved.String()); err != nil {
		return "", err
	}
	return resolved.String(), nil
}

// PageURL はページ番号のクエリパラメータを付けた一覧ページのURLを返す。
// page が1以下の場合はベースURLをそのまま返す。
func (g *URLGuard) PageURL(param string, page int) string {
	if page <= 1 {
		return g.base.String()
	}
	u := *g.base
	q := u.Query()
	q.Set(param, fmt.Sprint(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
