package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// サポートするdatabase/sqlドライバ名。
const (
	DriverPostgres = "postgres" // lib/pq
	DriverPgx      = "pgx"      // jackc/pgx stdlib
	DriverSQLite   = "sqlite"   // modernc.org/sqlite
)

// sqliteBusyTimeoutMs はSQLITE_BUSY時の待ち時間（ミリ秒）。
const sqliteBusyTimeoutMs = 10000

// Dialect はドライバ名からSQL方言（"postgres" または "sqlite"）を返す。
func Dialect(driver string) string {
	if driver == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Open はドライバに応じたデータベース接続を開く。
// driverが空の場合はURLのスキームから推定する（sqlite:// または file: はSQLite、それ以外はlib/pq）。
// PostgreSQLの場合sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// SQLiteの場合は単一ライタとして扱うため最大接続数を1に制限し、WALとbusy_timeoutを設定する。
func Open(driver, databaseURL string) (*sql.DB, error) {
	if driver == "" {
		driver = DetectDriver(databaseURL)
	}

	switch driver {
	case DriverPostgres, DriverPgx:
		db, err := sql.Open(driver, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	case DriverSQLite:
		return openSQLite(SQLitePath(databaseURL))
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// DetectDriver はデータベースURLのスキームからドライバ名を推定する。
func DetectDriver(databaseURL string) string {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"),
		strings.HasPrefix(databaseURL, "file:"),
		databaseURL == ":memory:":
		return DriverSQLite
	default:
		return DriverPostgres
	}
}

// SQLitePath は "sqlite://" プレフィックスを取り除いたSQLiteのDSNを返す。
func SQLitePath(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "sqlite://")
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// :memory: は接続ごとに別のDBになるため、接続を1本に固定する
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMs),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}
