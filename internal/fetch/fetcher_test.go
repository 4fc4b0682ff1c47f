package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/catalogmirror/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestFetcher(t *testing.T, buf *bytes.Buffer) *Fetcher {
	t.Helper()
	f, err := NewFetcher(&http.Client{Timeout: 5 * time.Second}, NewBrowserHeaders("https://shop.example.com/"), Options{
		MaxBodySize:   1024 * 1024,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, newTestLogger(buf))
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}
	return f
}

// --- モック定義 ---

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveFetch(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want StatusClass
	}{
		{200, StatusOK},
		{408, StatusRetryable},
		{425, StatusRetryable},
		{429, StatusRetryable},
		{500, StatusRetryable},
		{503, StatusRetryable},
		{301, StatusPermanent},
		{403, StatusPermanent},
		{404, StatusPermanent},
		{410, StatusPermanent},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.code); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestFetch_Success(t *testing.T) {
	var gotUA, gotLang string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body>Каталог</body></html>")
	}))
	defer ts.Close()

	var buf bytes.Buffer
	f := newTestFetcher(t, &buf)
	obs := &recordingObserver{}
	f.SetObserver(obs)

	body, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(body, "Каталог") {
		t.Errorf("body = %q", body)
	}
	if !strings.HasPrefix(gotUA, "Mozilla/5.0") {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !strings.HasPrefix(gotLang, "ru") {
		t.Errorf("Accept-Language = %q", gotLang)
	}
	if len(obs.outcomes) != 1 || obs.outcomes[0] != OutcomeOK {
		t.Errorf("outcomes = %v, want [ok]", obs.outcomes)
	}
}

func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	// "Цена" をwindows-1251で送る
	win1251 := []byte{0xD6, 0xE5, 0xED, 0xE0}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.Write(append([]byte("<p>"), append(win1251, []byte("</p>")...)...))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	body, err := newTestFetcher(t, &buf).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !strings.Contains(body, "Цена") {
		t.Errorf("body = %q, want UTF-8 decoded text", body)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	var buf bytes.Buffer
	body, err := newTestFetcher(t, &buf).Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !strings.Contains(buf.String(), "再試行") {
		t.Errorf("再試行のログが出力されていない: %s", buf.String())
	}
}

func TestFetch_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	_, err := newTestFetcher(t, &buf).Fetch(context.Background(), ts.URL)
	if !model.IsTransientFetch(err) {
		t.Fatalf("err = %v, want TransientFetchError", err)
	}
	var ce *model.CrawlError
	if errors.As(err, &ce) && ce.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", ce.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetch_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	_, err := newTestFetcher(t, &buf).Fetch(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("404でエラーが返らなかった")
	}
	if model.IsTransientFetch(err) {
		t.Error("404が一時的エラーとして扱われた")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetch_KeepsCookiesBetweenRequests(t *testing.T) {
	var sawCookie atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil && c.Value == "abc" {
			sawCookie.Store(true)
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		io.WriteString(w, "ok")
	}))
	defer ts.Close()

	var buf bytes.Buffer
	f := newTestFetcher(t, &buf)
	for i := 0; i < 2; i++ {
		if _, err := f.Fetch(context.Background(), ts.URL); err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
	}
	if !sawCookie.Load() {
		t.Error("2回目のリクエストでCookieが送信されていない")
	}
}

func TestFetch_TruncatesLargeBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("a", 4096))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	f, err := NewFetcher(&http.Client{}, StaticHeaders{UserAgent: "catalogmirror-test"}, Options{MaxBodySize: 100, RetryAttempts: 1}, newTestLogger(&buf))
	if err != nil {
		t.Fatal(err)
	}
	body, err := f.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(body) != 100 {
		t.Errorf("len(body) = %d, want 100", len(body))
	}
}
