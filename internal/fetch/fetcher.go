// Package fetch はカタログの一覧・詳細ページをHTTPで取得する。
// リクエストごとのヘッダー付与、Cookieの保持、ステータスの分類と再試行を担う。
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/hitoshi/catalogmirror/internal/model"
	"github.com/hitoshi/catalogmirror/internal/retry"
)

// StatusClass はHTTPステータスコードの分類。
type StatusClass int

const (
	// StatusOK は取得成功（200）。
	StatusOK StatusClass = iota
	// StatusRetryable は時間をおけば回復しうるステータス（408/425/429/5xx）。
	StatusRetryable
	// StatusPermanent は再試行しても回復しないステータス。
	StatusPermanent
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(code int) StatusClass {
	switch {
	case code == http.StatusOK:
		return StatusOK
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return StatusRetryable
	default:
		return StatusPermanent
	}
}

// 取得結果のラベル（メトリクス用）
const (
	OutcomeOK        = "ok"
	OutcomeRetryable = "retryable"
	OutcomeFailed    = "failed"
)

// Observer は1回のHTTP取得の結果を受け取る。
type Observer interface {
	ObserveFetch(outcome string, duration time.Duration)
}

// Options はFetcherの設定。
type Options struct {
	MaxBodySize   int64
	RetryAttempts int
	RetryDelay    time.Duration
}

// Fetcher はページのHTMLを取得する。
// 一時的な失敗（ネットワークエラー、408/425/429/5xx）は回数上限まで再試行し、
// 上限に達した場合はTransientFetchErrorを返す。
type Fetcher struct {
	client      *http.Client
	headers     HeaderProvider
	policy      retry.Policy
	maxBodySize int64
	observer    Observer
	logger      *slog.Logger
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
// clientにCookieJarが無い場合はpublicsuffixを使うJarを設定し、同一サイトのセッションCookieを保持する。
func NewFetcher(client *http.Client, headers HeaderProvider, opts Options, logger *slog.Logger) (*Fetcher, error) {
	if client.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("CookieJarの生成に失敗しました: %w", err)
		}
		client.Jar = jar
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}

	f := &Fetcher{
		client:      client,
		headers:     headers,
		maxBodySize: opts.MaxBodySize,
		logger:      logger,
	}
	f.policy = retry.Fixed(opts.RetryAttempts, opts.RetryDelay, model.IsTransientFetch)
	f.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.logger.Warn("ページの取得に失敗したため再試行します",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	return f, nil
}

// SetObserver は取得結果の通知先を設定する。
func (f *Fetcher) SetObserver(o Observer) {
	f.observer = o
}

// Fetch はurlのHTMLを取得する。
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	err := f.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		body, err = f.fetchOnce(ctx, url)
		return err
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", model.NewFetchError(url, 0, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	if f.headers != nil {
		for k, vs := range f.headers.Headers(url) {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.observe(OutcomeRetryable, start)
		return "", model.NewTransientFetchError(url, 0, err)
	}
	defer resp.Body.Close()

	switch ClassifyStatus(resp.StatusCode) {
	case StatusOK:
	case StatusRetryable:
		f.observe(OutcomeRetryable, start)
		return "", model.NewTransientFetchError(url, resp.StatusCode, nil)
	default:
		f.observe(OutcomeFailed, start)
		return "", model.NewFetchError(url, resp.StatusCode, nil)
	}

	// Content-Typeとmetaタグから文字コードを判定してUTF-8に変換する
	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		f.observe(OutcomeFailed, start)
		return "", model.NewFetchError(url, resp.StatusCode, fmt.Errorf("文字コードの判定に失敗: %w", err))
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		f.observe(OutcomeRetryable, start)
		return "", model.NewTransientFetchError(url, resp.StatusCode, fmt.Errorf("レスポンス読み取りに失敗: %w", err))
	}

	f.observe(OutcomeOK, start)
	f.logger.Debug("ページを取得しました",
		slog.String("url", url),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return string(data), nil
}

func (f *Fetcher) observe(outcome string, start time.Time) {
	if f.observer != nil {
		f.observer.ObserveFetch(outcome, time.Since(start))
	}
}
