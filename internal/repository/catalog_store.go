package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/catalogmirror/internal/item"
	"github.com/hitoshi/catalogmirror/internal/model"
)

// ObservePolicy は巡回中に再観測されたsemi_offの商品をどのステータスに戻すかを表す。
type ObservePolicy string

const (
	// ObserveRequeue は再観測した商品をpendingに戻し、詳細を取り直す。
	ObserveRequeue ObservePolicy = "requeue"
	// ObserveRestore はマーク前のステータスに戻す。parsedの商品は再取得しない。
	ObserveRestore ObservePolicy = "restore"
)

// Policy はストアの状態遷移に関する設定。
type Policy struct {
	ObservePolicy ObservePolicy
	// RequeueOnChange がtrueの場合、内容が変わったparsedの商品をpendingに戻す。
	RequeueOnChange bool
	// MaxAttempts が正の場合、attemptsがこの値に達した商品はクレームしない。
	MaxAttempts int
}

const itemColumns = `id, sku, title, car_model, price, link, image, extra_data, content_hash,
	is_active, detail_status, pre_pass_status, last_seen, last_seen_pass, attempts, created_at, parsed_at`

// archiveChunkSize はArchiveInactiveBeforeが1トランザクションで処理する件数。
const archiveChunkSize = 500

// CatalogStore はdatabase/sqlを使用した商品ストア。PostgreSQLとSQLiteの両方に対応する。
// 各操作は単一のステートメントまたはトランザクションで完結する。
type CatalogStore struct {
	db      *sql.DB
	dialect dialect
	policy  Policy
	now     func() time.Time
}

// NewCatalogStore はCatalogStoreを生成する。driverNameはdatabase.Openに渡したドライバ名。
func NewCatalogStore(db *sql.DB, driverName string, policy Policy) *CatalogStore {
	if policy.ObservePolicy == "" {
		policy.ObservePolicy = ObserveRequeue
	}
	return &CatalogStore{
		db:      db,
		dialect: dialectFor(driverName),
		policy:  policy,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// itemRow はcatalog_itemsの1行。pre_pass_statusはストア内部でのみ扱う。
type itemRow struct {
	model.CatalogItem
	prePassStatus sql.NullString
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(sc rowScanner) (*itemRow, error) {
	row := &itemRow{}
	var title, carModel, price, link, image sql.NullString
	var extraJSON []byte
	var status string
	var lastSeen, createdAt, parsedAt flexTime

	if err := sc.Scan(
		&row.ID, &row.SKU, &title, &carModel, &price, &link, &image, &extraJSON, &row.ContentHash,
		&row.IsActive, &status, &row.prePassStatus, &lastSeen, &row.LastSeenPass, &row.Attempts,
		&createdAt, &parsedAt,
	); err != nil {
		return nil, err
	}

	row.Title = nullStringValue(title)
	row.CarModel = nullStringValue(carModel)
	row.Price = nullStringValue(price)
	row.Link = nullStringValue(link)
	row.Image = nullStringValue(image)
	row.ContentHash = strings.TrimSpace(row.ContentHash)
	row.DetailStatus = model.DetailStatus(status)
	row.LastSeen = lastSeen.Time
	row.CreatedAt = createdAt.Time
	if parsedAt.Valid {
		t := parsedAt.Time
		row.ParsedAt = &t
	}

	row.ExtraData = map[string]string{}
	if len(extraJSON) > 0 {
		if err := json.Unmarshal(extraJSON, &row.ExtraData); err != nil {
			return nil, fmt.Errorf("extra_dataの解析に失敗しました (sku=%s): %w", row.SKU, err)
		}
	}
	return row, nil
}

func marshalExtra(extra map[string]string) (string, error) {
	if extra == nil {
		extra = map[string]string{}
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// selectItem はskuの行を取得する。lockがtrueの場合はPostgreSQLで行ロックを取る。
// 見つからない場合はnilを返す。
func (s *CatalogStore) selectItem(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, sku string, lock bool) (*itemRow, error) {
	query := `SELECT ` + itemColumns + ` FROM catalog_items WHERE sku = $1`
	if lock {
		query += s.dialect.forUpdate
	}
	row, err := scanItem(q.QueryRowContext(ctx, s.dialect.rebind(query), sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Upsert は一覧から観測した商品を保存する。
// 既存行はロックした上で読み取り、extraDataをマージしてからハッシュを比較する。
func (s *CatalogStore) Upsert(ctx context.Context, in model.ListingItem, pass int64) (model.UpsertOutcome, error) {
	if strings.TrimSpace(in.SKU) == "" {
		return "", model.ErrEmptySKU
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", model.NewStoreError("トランザクションの開始", err)
	}
	defer tx.Rollback()

	now := s.now()

	existing, err := s.selectItem(ctx, tx, in.SKU, true)
	if err != nil {
		return "", model.NewStoreError("商品の取得", err)
	}

	if existing == nil {
		next, _ := item.PlanUpsert(nil, in, pass, now)
		inserted, err := s.insertItem(ctx, tx, &next)
		if err != nil {
			return "", model.NewStoreError("商品の挿入", err)
		}
		if inserted {
			if err := tx.Commit(); err != nil {
				return "", model.NewStoreError("コミット", err)
			}
			return model.UpsertCreated, nil
		}

		// 同じskuが並行して挿入された。更新として扱う
		existing, err = s.selectItem(ctx, tx, in.SKU, true)
		if err != nil {
			return "", model.NewStoreError("商品の取得", err)
		}
		if existing == nil {
			return "", model.NewStoreError("商品の取得", fmt.Errorf("挿入の競合後に行が見つかりません: %s", in.SKU))
		}
	}

	next, outcome := item.PlanUpsert(&existing.CatalogItem, in, pass, now)

	switch outcome {
	case model.UpsertUnchanged:
		_, err = tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE catalog_items SET is_active = TRUE, last_seen = $2, last_seen_pass = $3 WHERE id = $1`),
			existing.ID, s.dialect.timeArg(now), pass,
		)
	default:
		status := next.DetailStatus
		prePass := existing.prePassStatus
		if s.policy.RequeueOnChange {
			if status == model.DetailStatusParsed {
				status = model.DetailStatusPending
			}
			if status == model.DetailStatusSemiOff && prePass.String == string(model.DetailStatusParsed) {
				prePass = nullString(string(model.DetailStatusPending))
			}
		}

		var extraJSON string
		extraJSON, err = marshalExtra(next.ExtraData)
		if err != nil {
			return "", model.NewStoreError("extra_dataのエンコード", err)
		}
		_, err = tx.ExecContext(ctx, s.dialect.rebind(
			`UPDATE catalog_items SET
			    title = $2, car_model = $3, price = $4, link = $5, image = $6,
			    extra_data = $7, content_hash = $8, is_active = TRUE,
			    detail_status = $9, pre_pass_status = $10,
			    last_seen = $11, last_seen_pass = $12
			 WHERE id = $1`),
			existing.ID,
			nullString(next.Title), nullString(next.CarModel), nullString(next.Price),
			nullString(next.Link), nullString(next.Image),
			extraJSON, next.ContentHash,
			string(status), prePass,
			s.dialect.timeArg(now), pass,
		)
	}
	if err != nil {
		return "", model.NewStoreError("商品の更新", err)
	}

	if err := tx.Commit(); err != nil {
		return "", model.NewStoreError("コミット", err)
	}
	return outcome, nil
}

// insertItem は新規行を挿入する。skuが既に存在した場合はfalseを返す。
func (s *CatalogStore) insertItem(ctx context.Context, tx *sql.Tx, it *model.CatalogItem) (bool, error) {
	extraJSON, err := marshalExtra(it.ExtraData)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO catalog_items (
		    sku, title, car_model, price, link, image, extra_data, content_hash,
		    is_active, detail_status, last_seen, last_seen_pass, attempts, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11, 0, $12)
		 ON CONFLICT (sku) DO NOTHING`),
		it.SKU, nullString(it.Title), nullString(it.CarModel), nullString(it.Price),
		nullString(it.Link), nullString(it.Image), extraJSON, it.ContentHash,
		string(it.DetailStatus), s.dialect.timeArg(it.LastSeen), it.LastSeenPass, s.dialect.timeArg(it.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BeginPresencePass は有効な非終端（pending/in_progress/parsed）の商品をsemi_offにし、
// 元のステータスをpre_pass_statusに残す。クレーム中の行もマークしないと、
// 巡回で一度も観測されなかった商品が処理完了後に有効なまま残る。
func (s *CatalogStore) BeginPresencePass(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE catalog_items
		 SET pre_pass_status = detail_status, detail_status = 'semi_off'
		 WHERE is_active = TRUE AND detail_status IN ('pending', 'in_progress', 'parsed')`,
	)
	if err != nil {
		return 0, model.NewStoreError("巡回開始マーク", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStoreError("巡回開始マーク件数の取得", err)
	}
	return n, nil
}

// MarkObserved はsemi_offの商品をポリシーに従ってpendingまたはマーク前のステータスに戻す。
// restoreでもマーク前がin_progressだった行はpendingに戻す。
func (s *CatalogStore) MarkObserved(ctx context.Context, sku string) error {
	query := `UPDATE catalog_items
	          SET detail_status = 'pending', pre_pass_status = NULL
	          WHERE sku = $1 AND detail_status = 'semi_off'`
	if s.policy.ObservePolicy == ObserveRestore {
		query = `UPDATE catalog_items
		         SET detail_status = CASE
		                 WHEN pre_pass_status IS NULL OR pre_pass_status = 'in_progress' THEN 'pending'
		                 ELSE pre_pass_status
		             END,
		             pre_pass_status = NULL
		         WHERE sku = $1 AND detail_status = 'semi_off'`
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(query), sku); err != nil {
		return model.NewStoreError("観測済みマーク", err)
	}
	return nil
}

// SweepUnobserved は巡回中に再観測されなかった（semi_offのままの）有効な商品を無効化する。
func (s *CatalogStore) SweepUnobserved(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE catalog_items SET is_active = FALSE
		 WHERE is_active = TRUE AND detail_status = 'semi_off'`,
	)
	if err != nil {
		return 0, model.NewStoreError("未観測商品の無効化", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStoreError("無効化件数の取得", err)
	}
	return n, nil
}

// ClaimBatch は有効なpendingの商品を最大limit件クレームする。
// PostgreSQLではFOR UPDATE SKIP LOCKEDで他のクレーム中の行を読み飛ばす。
func (s *CatalogStore) ClaimBatch(ctx context.Context, limit int) ([]model.Claim, error) {
	if limit <= 0 {
		return nil, nil
	}
	maxAttempts := s.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}

	query := `UPDATE catalog_items
	          SET detail_status = 'in_progress', last_seen = $2
	          WHERE id IN (
	              SELECT id FROM catalog_items
	              WHERE detail_status = 'pending' AND is_active = TRUE AND attempts < $3
	              ORDER BY id
	              LIMIT $1` + s.dialect.skipLocked + `
	          )
	          RETURNING sku, link`

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), limit, s.dialect.timeArg(s.now()), maxAttempts)
	if err != nil {
		return nil, model.NewStoreError("詳細ジョブのクレーム", err)
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var c model.Claim
		var link sql.NullString
		if err := rows.Scan(&c.SKU, &link); err != nil {
			return nil, model.NewStoreError("クレーム結果の読み取り", err)
		}
		c.Link = nullStringValue(link)
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("クレーム結果の走査", err)
	}
	return claims, nil
}

// MergeDetail は詳細ページの特性値をマージしてparsedにする。
// 巡回中にsemi_offへマークされた行はマークを維持し、マーク前のステータスをparsedとして記録する。
func (s *CatalogStore) MergeDetail(ctx context.Context, sku string, detail map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewStoreError("トランザクションの開始", err)
	}
	defer tx.Rollback()

	existing, err := s.selectItem(ctx, tx, sku, true)
	if err != nil {
		return model.NewStoreError("商品の取得", err)
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", model.ErrItemNotFound, sku)
	}

	now := s.now()
	next := item.PlanDetailMerge(&existing.CatalogItem, detail, now)

	status := sql.NullString{String: string(next.DetailStatus), Valid: true}
	prePass := sql.NullString{}
	if existing.DetailStatus == model.DetailStatusSemiOff {
		status = sql.NullString{String: string(model.DetailStatusSemiOff), Valid: true}
		prePass = nullString(string(model.DetailStatusParsed))
	}

	extraJSON, err := marshalExtra(next.ExtraData)
	if err != nil {
		return model.NewStoreError("extra_dataのエンコード", err)
	}

	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE catalog_items SET
		    extra_data = $2, content_hash = $3, detail_status = $4, pre_pass_status = $5,
		    last_seen = $6, parsed_at = $7
		 WHERE id = $1`),
		existing.ID, extraJSON, next.ContentHash, status, prePass,
		s.dialect.timeArg(now), s.dialect.nullTimeArg(next.ParsedAt),
	)
	if err != nil {
		return model.NewStoreError("詳細データのマージ", err)
	}

	if err := tx.Commit(); err != nil {
		return model.NewStoreError("コミット", err)
	}
	return nil
}

// ResetStatus はステータスを強制的に変更する。
// in_progressからpendingへの変更ではattemptsを1増やす。巡回中にマークされたクレーム行
// （semi_offかつマーク前がin_progress）も同様に扱う。
// semi_offの行はマークを維持し、指定されたステータスをマーク前のステータスとして記録する。
func (s *CatalogStore) ResetStatus(ctx context.Context, sku string, status model.DetailStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidStatus, status)
	}

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE catalog_items SET
		    attempts = attempts + CASE
		        WHEN CAST($2 AS TEXT) = 'pending'
		             AND (detail_status = 'in_progress' OR (detail_status = 'semi_off' AND pre_pass_status = 'in_progress'))
		        THEN 1 ELSE 0 END,
		    pre_pass_status = CASE WHEN detail_status = 'semi_off' AND CAST($2 AS TEXT) <> 'semi_off' THEN CAST($2 AS TEXT) ELSE pre_pass_status END,
		    detail_status = CASE WHEN detail_status = 'semi_off' AND CAST($2 AS TEXT) <> 'semi_off' THEN detail_status ELSE CAST($2 AS TEXT) END
		 WHERE sku = $1`),
		sku, string(status),
	)
	if err != nil {
		return model.NewStoreError("ステータスのリセット", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.NewStoreError("リセット件数の取得", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrItemNotFound, sku)
	}
	return nil
}

// ReclaimStaleInProgress はmaxAgeを超えてin_progressのままの行をpendingに戻し、attemptsを1増やす。
func (s *CatalogStore) ReclaimStaleInProgress(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)

	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE catalog_items SET detail_status = 'pending', attempts = attempts + 1
		 WHERE detail_status = 'in_progress' AND last_seen < $1`),
		s.dialect.timeArg(cutoff),
	)
	if err != nil {
		return 0, model.NewStoreError("停滞ジョブの回収", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, model.NewStoreError("回収件数の取得", err)
	}
	return n, nil
}

// Archive は指定skuのスナップショットをアーカイブに書き込み、生きている行を削除する。
func (s *CatalogStore) Archive(ctx context.Context, sku string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, model.NewStoreError("トランザクションの開始", err)
	}
	defer tx.Rollback()

	existing, err := s.selectItem(ctx, tx, sku, true)
	if err != nil {
		return false, model.NewStoreError("商品の取得", err)
	}
	if existing == nil {
		return false, nil
	}

	if err := s.archiveRow(ctx, tx, existing, s.now()); err != nil {
		return false, model.NewStoreError("商品のアーカイブ", err)
	}

	if err := tx.Commit(); err != nil {
		return false, model.NewStoreError("コミット", err)
	}
	return true, nil
}

func (s *CatalogStore) archiveRow(ctx context.Context, tx *sql.Tx, row *itemRow, now time.Time) error {
	data, err := json.Marshal(row.CatalogItem)
	if err != nil {
		return fmt.Errorf("スナップショットのエンコードに失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO catalog_items_archive (sku, archived_at, data) VALUES ($1, $2, $3)`),
		row.SKU, s.dialect.timeArg(now), string(data),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM catalog_items WHERE id = $1`), row.ID); err != nil {
		return err
	}
	return nil
}

// ArchiveInactiveBefore はlast_seenがcutoffより前の無効な行をアーカイブする。
// archiveChunkSize件ずつ別トランザクションで処理し、合計件数を返す。
func (s *CatalogStore) ArchiveInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		n, err := s.archiveInactiveChunk(ctx, cutoff)
		total += n
		if err != nil {
			return total, err
		}
		if n < archiveChunkSize {
			return total, nil
		}
	}
}

func (s *CatalogStore) archiveInactiveChunk(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, model.NewStoreError("トランザクションの開始", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + itemColumns + ` FROM catalog_items
	          WHERE is_active = FALSE AND last_seen < $1
	          ORDER BY id
	          LIMIT $2` + s.dialect.skipLocked

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(query), s.dialect.timeArg(cutoff), archiveChunkSize)
	if err != nil {
		return 0, model.NewStoreError("アーカイブ対象の取得", err)
	}

	var targets []*itemRow
	for rows.Next() {
		row, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return 0, model.NewStoreError("アーカイブ対象の読み取り", err)
		}
		targets = append(targets, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, model.NewStoreError("アーカイブ対象の走査", err)
	}
	rows.Close()

	now := s.now()
	for _, row := range targets {
		if err := s.archiveRow(ctx, tx, row, now); err != nil {
			return 0, model.NewStoreError("商品のアーカイブ", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, model.NewStoreError("コミット", err)
	}
	return int64(len(targets)), nil
}

// ListArchived は指定skuのアーカイブを古い順に返す。
func (s *CatalogStore) ListArchived(ctx context.Context, sku string) ([]model.ArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, sku, archived_at, data FROM catalog_items_archive WHERE sku = $1 ORDER BY id`), sku)
	if err != nil {
		return nil, model.NewStoreError("アーカイブの取得", err)
	}
	defer rows.Close()

	var records []model.ArchiveRecord
	for rows.Next() {
		var rec model.ArchiveRecord
		var archivedAt flexTime
		if err := rows.Scan(&rec.ID, &rec.SKU, &archivedAt, &rec.Data); err != nil {
			return nil, model.NewStoreError("アーカイブの読み取り", err)
		}
		rec.ArchivedAt = archivedAt.Time
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("アーカイブの走査", err)
	}
	return records, nil
}

// GetMeta はkeyの値をdstにデコードする。
func (s *CatalogStore) GetMeta(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT value FROM crawl_meta WHERE key = $1`), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, model.NewStoreError("メタデータの取得", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("メタデータ %q のデコードに失敗しました: %w", key, err)
	}
	return true, nil
}

// SetMeta はkeyにvalueを保存する。
func (s *CatalogStore) SetMeta(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("メタデータ %q のエンコードに失敗しました: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO crawl_meta (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, string(raw), s.dialect.timeArg(s.now()),
	)
	if err != nil {
		return model.NewStoreError("メタデータの保存", err)
	}
	return nil
}

// DeleteMeta はkeyを削除する。
func (s *CatalogStore) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM crawl_meta WHERE key = $1`), key); err != nil {
		return model.NewStoreError("メタデータの削除", err)
	}
	return nil
}

// GetItem は指定skuの商品を取得する。見つからない場合はnilを返す。
func (s *CatalogStore) GetItem(ctx context.Context, sku string) (*model.CatalogItem, error) {
	row, err := s.selectItem(ctx, s.db, sku, false)
	if err != nil {
		return nil, model.NewStoreError("商品の取得", err)
	}
	if row == nil {
		return nil, nil
	}
	return &row.CatalogItem, nil
}

// CountByStatus はステータスと有効フラグごとの件数を返す。
func (s *CatalogStore) CountByStatus(ctx context.Context) ([]model.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT detail_status, is_active, COUNT(*)
		 FROM catalog_items
		 GROUP BY detail_status, is_active
		 ORDER BY detail_status, is_active`,
	)
	if err != nil {
		return nil, model.NewStoreError("件数の集計", err)
	}
	defer rows.Close()

	var counts []model.StatusCount
	for rows.Next() {
		var c model.StatusCount
		var status string
		if err := rows.Scan(&status, &c.IsActive, &c.Count); err != nil {
			return nil, model.NewStoreError("集計結果の読み取り", err)
		}
		c.DetailStatus = model.DetailStatus(status)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("集計結果の走査", err)
	}
	return counts, nil
}

// ListActive は有効な商品をsku順に返す。
func (s *CatalogStore) ListActive(ctx context.Context) ([]*model.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM catalog_items WHERE is_active = TRUE ORDER BY sku`,
	)
	if err != nil {
		return nil, model.NewStoreError("有効商品の取得", err)
	}
	defer rows.Close()

	var items []*model.CatalogItem
	for rows.Next() {
		row, err := scanItem(rows)
		if err != nil {
			return nil, model.NewStoreError("有効商品の読み取り", err)
		}
		items = append(items, &row.CatalogItem)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStoreError("有効商品の走査", err)
	}
	return items, nil
}
