package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"returns-chat-api/pkg/models"
)

// CSVIngestService 過去の返品データをCSVから一括登録します。
// 解析に失敗した行や重複行はスキップされ、バッチ全体は継続します。
type CSVIngestService struct {
	inserter ReturnInserter
}

// NewCSVIngestService は新しいCSVIngestServiceを作成します。
func NewCSVIngestService(inserter ReturnInserter) *CSVIngestService {
	return &CSVIngestService{inserter: inserter}
}

// IngestFile はCSVファイルを読み込んで登録し、成功件数を返します。
func (s *CSVIngestService) IngestFile(csvPath string) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("CSVファイルのオープンに失敗: %w", err)
	}
	defer f.Close()

	return s.Ingest(f)
}

// Ingest はヘッダ付きCSVを読み込み、行ごとに登録リクエストへ変換して挿入します。
func (s *CSVIngestService) Ingest(r io.Reader) (int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("CSVヘッダの読み取りに失敗: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}

	inserted := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 壊れた行はスキップしてバッチを継続する
			continue
		}

		req, err := rowToRequest(col, row)
		if err != nil {
			continue
		}

		if _, err := s.inserter.Insert(req); err != nil {
			// 重複やバリデーションエラーもスキップ対象
			continue
		}
		inserted++
	}

	log.Printf("📥 CSV取り込み完了: %d 件を登録しました", inserted)
	return inserted, nil
}

// rowToRequest CSVの1行を登録リクエストに変換します。
func rowToRequest(col map[string]int, row []string) (models.InsertReturnRequest, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	purchaseDate, err := time.Parse(models.DateLayout, get("purchase_date"))
	if err != nil {
		return models.InsertReturnRequest{}, err
	}
	returnDate, err := time.Parse(models.DateLayout, get("return_date"))
	if err != nil {
		return models.InsertReturnRequest{}, err
	}
	price, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return models.InsertReturnRequest{}, err
	}

	req := models.InsertReturnRequest{
		ProductName:     get("product_name"),
		ProductCategory: get("product_category"),
		StoreName:       get("store_name"),
		City:            get("city"),
		Country:         get("country"),
		PurchaseDate:    purchaseDate,
		ReturnDate:      returnDate,
		Reason:          get("reason"),
		Price:           price,
		Currency:        get("currency"),
	}

	if v := get("discount_pct"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			req.DiscountPct = &pct
		}
	}

	return req, nil
}
