package model

import (
	"errors"
	"fmt"
)

// CrawlError はクローラ内部で扱うエラーの統一フォーマット。
// Categoryで再試行やログ出力の方針を分岐する。
type CrawlError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: fetch, parse, store, sanity
	URL      string // 対象URL（あれば）
	Status   int    // HTTPステータス（あれば）
	Err      error  // 元のエラー
}

// Error はerrorインターフェースを実装する。
func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は元のエラーを返す。
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeTransientFetch = "TRANSIENT_FETCH"
	ErrCodeFetchFailed    = "FETCH_FAILED"
	ErrCodeParseFailed    = "PARSE_FAILED"
	ErrCodeStoreFailed    = "STORE_FAILED"
)

// エラーカテゴリ
const (
	CategoryFetch  = "fetch"
	CategoryParse  = "parse"
	CategoryStore  = "store"
	CategorySanity = "sanity"
)

var (
	// ErrSanityCheck は総ページ数が下限を下回りパスを中止したことを示す。
	// ハードエラーではなく、何も変更せずに終了したことを表す。
	ErrSanityCheck = errors.New("総ページ数がしきい値を下回っています")
	// ErrItemNotFound は指定skuの行が存在しないことを示す。
	ErrItemNotFound = errors.New("商品が見つかりません")
	// ErrEmptySKU はskuが空の商品を保存しようとしたことを示す。
	ErrEmptySKU = errors.New("skuが空です")
	// ErrInvalidStatus は未知の詳細ステータスを指定したことを示す。
	ErrInvalidStatus = errors.New("不正な詳細ステータスです")
)

// NewTransientFetchError は再試行可能な取得エラー（ネットワーク障害、429/5xx）を生成する。
func NewTransientFetchError(url string, status int, err error) *CrawlError {
	msg := "一時的な取得エラー"
	if status > 0 {
		msg = fmt.Sprintf("一時的な取得エラー (HTTP %d)", status)
	}
	return &CrawlError{
		Code:     ErrCodeTransientFetch,
		Message:  msg,
		Category: CategoryFetch,
		URL:      url,
		Status:   status,
		Err:      err,
	}
}

// NewFetchError は再試行しても回復しない取得エラー（404等）を生成する。
func NewFetchError(url string, status int, err error) *CrawlError {
	return &CrawlError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("ページを取得できません (HTTP %d)", status),
		Category: CategoryFetch,
		URL:      url,
		Status:   status,
		Err:      err,
	}
}

// NewParseError は想定外のマークアップによる解析エラーを生成する。
func NewParseError(url string, reason string) *CrawlError {
	return &CrawlError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("HTMLの解析に失敗しました: %s", reason),
		Category: CategoryParse,
		URL:      url,
	}
}

// NewStoreError はストア操作の失敗を生成する。opは操作名。
func NewStoreError(op string, err error) *CrawlError {
	return &CrawlError{
		Code:     ErrCodeStoreFailed,
		Message:  fmt.Sprintf("%sに失敗しました", op),
		Category: CategoryStore,
		Err:      err,
	}
}

// IsTransientFetch は再試行可能な取得エラーかどうかを返す。
func IsTransientFetch(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeTransientFetch
	}
	return false
}

// IsParseError は解析エラーかどうかを返す。
func IsParseError(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Category == CategoryParse
	}
	return false
}

// IsStoreError はストアエラーかどうかを返す。
func IsStoreError(err error) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Category == CategoryStore
	}
	return false
}
