package handlers

import (
	"net/http"
	"strconv"
	"time"

	"returns-chat-api/pkg/models"
	"returns-chat-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// AnalyticsHandler 集計レポート・予測・セマンティック検索のハンドラー
type AnalyticsHandler struct {
	reportService   *services.ReportService
	forecastService *services.ForecastService
	index           services.SemanticIndex
}

// NewAnalyticsHandler は新しいAnalyticsHandlerを作成します。
func NewAnalyticsHandler(reportService *services.ReportService, forecastService *services.ForecastService, index services.SemanticIndex) *AnalyticsHandler {
	return &AnalyticsHandler{
		reportService:   reportService,
		forecastService: forecastService,
		index:           index,
	}
}

// GetReport 集計レポートを生成します。クエリパラメータ: product, start, end, excel
func (h *AnalyticsHandler) GetReport(c *gin.Context) {
	req := models.ReportRequest{
		ProductName:   c.Query("product"),
		GenerateExcel: c.Query("excel") == "true",
	}

	if v := c.Query("start"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start はYYYY-MM-DD形式で指定してください。"})
			return
		}
		req.StartDate = &d
	}
	if v := c.Query("end"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end はYYYY-MM-DD形式で指定してください。"})
			return
		}
		req.EndDate = &d
	}

	summary, err := h.reportService.GenerateReport(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
}

// GetForecast 日別返品件数の予測を返します。クエリパラメータ: horizon
func (h *AnalyticsHandler) GetForecast(c *gin.Context) {
	horizon := 14
	if v := c.Query("horizon"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "horizon は正の整数で指定してください。"})
			return
		}
		horizon = n
	}

	resp, err := h.forecastService.Forecast(models.ForecastRequest{
		Target:      "daily_return_volume",
		HorizonDays: horizon,
	})
	if err != nil {
		if err == models.ErrEmptySeries {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

// SearchReturns 過去の返品理由をセマンティック検索します。クエリパラメータ: q, top_k
// インデックスはリクエストごとに再構築されます。
func (h *AnalyticsHandler) SearchReturns(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q が必要です。"})
		return
	}

	topK := 3
	if v := c.Query("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k は正の整数で指定してください。"})
			return
		}
		topK = n
	}

	ctx := c.Request.Context()
	if err := h.index.Rebuild(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	results, err := h.index.Search(ctx, models.RetrievalQuery{Query: query, TopK: topK})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(results),
		"data":    results,
	})
}
