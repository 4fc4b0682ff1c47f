package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCrawlError_ErrorIncludesCodeAndCause(t *testing.T) {
	err := NewStoreError("商品のUPSERT", errors.New("connection refused"))

	msg := err.Error()
	if !strings.Contains(msg, ErrCodeStoreFailed) {
		t.Errorf("Error() = %q, コード %q を含むべき", msg, ErrCodeStoreFailed)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("Error() = %q, 元のエラーを含むべき", msg)
	}
}

func TestCrawlError_UnwrapKeepsSentinel(t *testing.T) {
	err := NewStoreError("詳細マージ", ErrItemNotFound)
	wrapped := fmt.Errorf("外側: %w", err)

	if !errors.Is(wrapped, ErrItemNotFound) {
		t.Error("errors.Is(wrapped, ErrItemNotFound) = false, want true")
	}
	if !IsStoreError(wrapped) {
		t.Error("IsStoreError(wrapped) = false, want true")
	}
}

func TestIsTransientFetch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"一時的エラー", NewTransientFetchError("https://example.com", 503, nil), true},
		{"ラップされた一時的エラー", fmt.Errorf("page 3: %w", NewTransientFetchError("https://example.com", 0, errors.New("timeout"))), true},
		{"恒久的エラー", NewFetchError("https://example.com", 404, nil), false},
		{"解析エラー", NewParseError("https://example.com", "no table"), false},
		{"一般エラー", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientFetch(tt.err); got != tt.want {
				t.Errorf("IsTransientFetch() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsParseError(t *testing.T) {
	if !IsParseError(NewParseError("u", "x")) {
		t.Error("IsParseError(NewParseError) = false, want true")
	}
	if IsParseError(NewFetchError("u", 500, nil)) {
		t.Error("IsParseError(NewFetchError) = true, want false")
	}
}

func TestDetailStatus_Valid(t *testing.T) {
	for _, s := range []DetailStatus{DetailStatusPending, DetailStatusInProgress, DetailStatusParsed, DetailStatusSemiOff} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false, want true", s)
		}
	}
	if DetailStatus("done").Valid() {
		t.Error(`"done".Valid() = true, want false`)
	}
}
