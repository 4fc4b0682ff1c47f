package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/catalogmirror/internal/database"
)

// dialect はPostgreSQLとSQLiteのSQL差分を吸収する。
// クエリは$N形式で記述し、SQLiteでは?N形式に書き換える。
type dialect struct {
	name       string
	forUpdate  string // 行ロック句
	skipLocked string // クレーム用のロック句
}

var (
	postgresDialect = dialect{
		name:       "postgres",
		forUpdate:  " FOR UPDATE",
		skipLocked: " FOR UPDATE SKIP LOCKED",
	}
	// SQLiteは単一ライタのため行ロック句は使わない
	sqliteDialect = dialect{name: "sqlite"}
)

func dialectFor(driverName string) dialect {
	if database.Dialect(driverName) == "sqlite" {
		return sqliteDialect
	}
	return postgresDialect
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// rebind はクエリのプレースホルダを方言に合わせて書き換える。
func (d dialect) rebind(query string) string {
	if d.name != "sqlite" {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?$1")
}

// timeArg は時刻をバインド用の値に変換する。SQLiteはUNIXミリ秒で保存する。
func (d dialect) timeArg(t time.Time) any {
	if d.name == "sqlite" {
		return t.UnixMilli()
	}
	return t.UTC()
}

// nullTimeArg はnilをNULLとしてバインドする。
func (d dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// flexTime はTIMESTAMPTZ（time.Time）とUNIXミリ秒（int64）の両方を読み取るScanner。
type flexTime struct {
	Time  time.Time
	Valid bool
}

// Scan はsql.Scannerを実装する。
func (f *flexTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		f.Time, f.Valid = time.Time{}, false
	case time.Time:
		f.Time, f.Valid = v, true
	case int64:
		f.Time, f.Valid = time.UnixMilli(v).UTC(), true
	case []byte:
		return f.parse(string(v))
	case string:
		return f.parse(v)
	default:
		return fmt.Errorf("時刻として読み取れない型です: %T", src)
	}
	return nil
}

func (f *flexTime) parse(s string) error {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.Time, f.Valid = time.UnixMilli(ms).UTC(), true
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("時刻の解析に失敗しました: %w", err)
	}
	f.Time, f.Valid = t, true
	return nil
}

var _ sql.Scanner = (*flexTime)(nil)

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullString は空文字をNULLとしてバインドする。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// IsRetryable はストアエラーが再試行で解消しうるものかを判定する。
// シリアライズ失敗・デッドロック（PostgreSQL）とBUSY/LOCKED（SQLite）が対象。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return isRetryableSQLState(string(pqErr.Code))
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isRetryableSQLState(pgErr.Code)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// 拡張エラーコードの下位8ビットが基本コード
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return false
}

func isRetryableSQLState(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}
