package services

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"returns-chat-api/pkg/models"

	_ "modernc.org/sqlite"
)

// ReturnStoreService 返品レコードの永続化を管理します。
// dedupe keyのUNIQUE制約により、同一返品の二重登録はストレージ層で拒否されます。
type ReturnStoreService struct {
	db *sql.DB
}

// NewReturnStoreService はSQLiteデータベースを開き（なければ作成し）、スキーマを初期化します。
func NewReturnStoreService(dbPath string) (*ReturnStoreService, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベースのオープンに失敗: %w", err)
	}

	s := &ReturnStoreService{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("スキーマの初期化に失敗: %w", err)
	}

	return s, nil
}

// Close はデータベース接続を閉じます。
func (s *ReturnStoreService) Close() error {
	return s.db.Close()
}

// initSchema returnsテーブルを作成します。
func (s *ReturnStoreService) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS returns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_name TEXT NOT NULL,
		product_category TEXT,
		store_name TEXT NOT NULL,
		city TEXT,
		country TEXT,
		purchase_date TEXT NOT NULL,
		return_date TEXT NOT NULL,
		reason TEXT NOT NULL,
		price REAL NOT NULL,
		currency TEXT NOT NULL,
		discount_pct REAL,
		dedupe_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_returns_return_date ON returns(return_date);
	CREATE INDEX IF NOT EXISTS idx_returns_product_name ON returns(product_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// GenerateDedupeKey は自然キー（product, store, purchase_date, price, currency）から
// 決定的なハッシュを生成します。入力をそのまま使用し、正規化は行いません。
func GenerateDedupeKey(req models.InsertReturnRequest) string {
	raw := fmt.Sprintf("%s|%s|%s|%v|%s",
		req.ProductName,
		req.StoreName,
		req.PurchaseDate.Format(models.DateLayout),
		req.Price,
		req.Currency,
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// validateInsert 必須フィールドを検証します。
func validateInsert(req models.InsertReturnRequest) error {
	switch {
	case strings.TrimSpace(req.ProductName) == "":
		return models.NewValidationError("product_name", "required")
	case strings.TrimSpace(req.StoreName) == "":
		return models.NewValidationError("store_name", "required")
	case req.PurchaseDate.IsZero():
		return models.NewValidationError("purchase_date", "required")
	case req.ReturnDate.IsZero():
		return models.NewValidationError("return_date", "required")
	case strings.TrimSpace(req.Reason) == "":
		return models.NewValidationError("reason", "required")
	case req.Price <= 0:
		return models.NewValidationError("price", "must be positive")
	case strings.TrimSpace(req.Currency) == "":
		return models.NewValidationError("currency", "required")
	}
	return nil
}

// Insert は返品レコードを登録します。dedupe keyが衝突した場合はErrDuplicateReturnを返します。
func (s *ReturnStoreService) Insert(req models.InsertReturnRequest) (*models.InsertReturnResponse, error) {
	if err := validateInsert(req); err != nil {
		return nil, err
	}

	dedupeKey := GenerateDedupeKey(req)
	createdAt := time.Now().UTC().Format(time.RFC3339)

	var discount interface{}
	if req.DiscountPct != nil {
		discount = *req.DiscountPct
	}

	res, err := s.db.Exec(`
		INSERT INTO returns (
			product_name, product_category, store_name, city, country,
			purchase_date, return_date, reason, price, currency, discount_pct,
			dedupe_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ProductName,
		nullable(req.ProductCategory),
		req.StoreName,
		nullable(req.City),
		nullable(req.Country),
		req.PurchaseDate.Format(models.DateLayout),
		req.ReturnDate.Format(models.DateLayout),
		req.Reason,
		req.Price,
		req.Currency,
		discount,
		dedupeKey,
		createdAt,
	)
	if err != nil {
		// UNIQUE制約違反は重複登録として呼び出し側に伝える
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, models.ErrDuplicateReturn
		}
		return nil, fmt.Errorf("返品レコードの登録に失敗: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("登録IDの取得に失敗: %w", err)
	}

	log.Printf("✅ 返品レコードを登録しました: ID=%d, product=%s", id, req.ProductName)

	return &models.InsertReturnResponse{
		ReturnID:    id,
		ProductName: req.ProductName,
		StoreName:   req.StoreName,
		Price:       req.Price,
		Currency:    req.Currency,
		Message:     "Return successfully recorded.",
	}, nil
}

// AggregateWindow はreturn_dateが[start, end]（両端含む）に入るレコードの件数と金額合計を返します。
// productFilterが空でない場合、製品名の部分一致（大文字小文字を区別しない）で絞り込みます。
func (s *ReturnStoreService) AggregateWindow(start, end time.Time, productFilter string) (int, float64, error) {
	query := `
		SELECT COUNT(id), COALESCE(SUM(price), 0.0)
		FROM returns
		WHERE return_date >= ? AND return_date <= ?`
	args := []interface{}{start.Format(models.DateLayout), end.Format(models.DateLayout)}

	if productFilter != "" {
		query += ` AND LOWER(product_name) LIKE ?`
		args = append(args, "%"+strings.ToLower(productFilter)+"%")
	}

	var count int
	var total float64
	if err := s.db.QueryRow(query, args...).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("集計クエリに失敗: %w", err)
	}
	return count, total, nil
}

// DailySeries はreturn_dateごとの件数を日付昇順で返します。
func (s *ReturnStoreService) DailySeries() ([]models.DailyCount, error) {
	rows, err := s.db.Query(`
		SELECT return_date, COUNT(id)
		FROM returns
		GROUP BY return_date
		ORDER BY return_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("日別系列の取得に失敗: %w", err)
	}
	defer rows.Close()

	var series []models.DailyCount
	for rows.Next() {
		var dateStr string
		var count int
		if err := rows.Scan(&dateStr, &count); err != nil {
			return nil, err
		}
		d, err := time.Parse(models.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("return_dateの解析に失敗 (%q): %w", dateStr, err)
		}
		series = append(series, models.DailyCount{Date: d, Count: count})
	}
	return series, rows.Err()
}

// ListAll は全レコードをID昇順で返します（インデックス再構築用）。
func (s *ReturnStoreService) ListAll() ([]models.ReturnRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, product_name, COALESCE(product_category, ''), store_name,
		       COALESCE(city, ''), COALESCE(country, ''),
		       purchase_date, return_date, reason, price, currency, discount_pct, created_at
		FROM returns
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("返品レコードの取得に失敗: %w", err)
	}
	defer rows.Close()

	var records []models.ReturnRecord
	for rows.Next() {
		var r models.ReturnRecord
		var purchaseStr, returnStr, createdStr string
		var discount sql.NullFloat64
		if err := rows.Scan(
			&r.ID, &r.ProductName, &r.ProductCategory, &r.StoreName,
			&r.City, &r.Country,
			&purchaseStr, &returnStr, &r.Reason, &r.Price, &r.Currency, &discount, &createdStr,
		); err != nil {
			return nil, err
		}
		if r.PurchaseDate, err = time.Parse(models.DateLayout, purchaseStr); err != nil {
			return nil, err
		}
		if r.ReturnDate, err = time.Parse(models.DateLayout, returnStr); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			r.CreatedAt = t
		}
		if discount.Valid {
			v := discount.Float64
			r.DiscountPct = &v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// nullable 空文字列をNULLとして保存するためのヘルパー
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
