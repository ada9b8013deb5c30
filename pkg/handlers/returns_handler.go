package handlers

import (
	"errors"
	"net/http"
	"time"

	"returns-chat-api/pkg/models"
	"returns-chat-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ReturnsHandler 返品レコードの直接登録とCSV一括取り込みのハンドラー
type ReturnsHandler struct {
	store  *services.ReturnStoreService
	ingest *services.CSVIngestService
}

// NewReturnsHandler は新しいReturnsHandlerを作成します。
func NewReturnsHandler(store *services.ReturnStoreService, ingest *services.CSVIngestService) *ReturnsHandler {
	return &ReturnsHandler{store: store, ingest: ingest}
}

// insertReturnPayload APIのワイヤ形式（日付はYYYY-MM-DD文字列）
type insertReturnPayload struct {
	ProductName     string   `json:"product_name"`
	ProductCategory string   `json:"product_category"`
	StoreName       string   `json:"store_name"`
	City            string   `json:"city"`
	Country         string   `json:"country"`
	PurchaseDate    string   `json:"purchase_date"`
	ReturnDate      string   `json:"return_date"`
	Reason          string   `json:"reason"`
	Price           float64  `json:"price"`
	Currency        string   `json:"currency"`
	DiscountPct     *float64 `json:"discount_pct"`
}

// InsertReturn 会話を介さずに返品レコードを直接登録します。
func (h *ReturnsHandler) InsertReturn(c *gin.Context) {
	var payload insertReturnPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}

	purchaseDate, err := time.Parse(models.DateLayout, payload.PurchaseDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "purchase_date はYYYY-MM-DD形式で指定してください。"})
		return
	}
	returnDate, err := time.Parse(models.DateLayout, payload.ReturnDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "return_date はYYYY-MM-DD形式で指定してください。"})
		return
	}

	resp, err := h.store.Insert(models.InsertReturnRequest{
		ProductName:     payload.ProductName,
		ProductCategory: payload.ProductCategory,
		StoreName:       payload.StoreName,
		City:            payload.City,
		Country:         payload.Country,
		PurchaseDate:    purchaseDate,
		ReturnDate:      returnDate,
		Reason:          payload.Reason,
		Price:           payload.Price,
		Currency:        payload.Currency,
		DiscountPct:     payload.DiscountPct,
	})
	if err != nil {
		var vErr *models.ValidationError
		switch {
		case errors.Is(err, models.ErrDuplicateReturn):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

// ImportCSV アップロードされたCSVを一括登録します。失敗行はスキップされます。
func (h *ReturnsHandler) ImportCSV(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CSVファイルが指定されていません。"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ファイルのオープンに失敗しました。"})
		return
	}
	defer file.Close()

	inserted, err := h.ingest.Ingest(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"inserted": inserted,
	})
}
