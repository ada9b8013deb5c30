package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"returns-chat-api/pkg/models"
	"returns-chat-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRouter 一時SQLiteと本物のサービス一式でルーターを構築
func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := services.NewReturnStoreService(filepath.Join(t.TempDir(), "returns_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reportService := services.NewReportService(store, t.TempDir())
	forecastService := services.NewForecastService(store)
	ingestService := services.NewCSVIngestService(store)
	index := services.NewRetrievalService(store, services.NewLocalEmbedder())
	coordinator := services.NewCoordinatorService(store, reportService, forecastService, index)

	chatHandler := NewChatHandler(coordinator)
	returnsHandler := NewReturnsHandler(store, ingestService)
	analyticsHandler := NewAnalyticsHandler(reportService, forecastService, index)

	r := gin.New()
	r.GET("/health", HealthCheck)

	v1 := r.Group("/api/v1")
	{
		chat := v1.Group("/chat")
		{
			chat.POST("/message", chatHandler.HandleMessage)
			chat.DELETE("/session/:sessionId", chatHandler.ResetSession)
		}
		returns := v1.Group("/returns")
		{
			returns.POST("", returnsHandler.InsertReturn)
			returns.POST("/import", returnsHandler.ImportCSV)
			returns.GET("/report", analyticsHandler.GetReport)
			returns.GET("/forecast", analyticsHandler.GetForecast)
			returns.GET("/search", analyticsHandler.SearchReturns)
		}
	}
	return r
}

// doJSON JSONリクエストを送って生のレスポンスを返すヘルパー
func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// sendChat チャットメッセージを送って応答テキストを取り出すヘルパー
func sendChat(t *testing.T, r *gin.Engine, sessionID, message string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/v1/chat/message", models.ChatRequest{
		SessionID: sessionID,
		Message:   message,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool                `json:"success"`
		Response models.ChatResponse `json:"response"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	assert.Equal(t, sessionID, resp.Response.SessionID)
	return resp.Response.Reply
}

func TestHealthCheck(t *testing.T) {
	r := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestChatCollectionFlowOverHTTP(t *testing.T) {
	r := setupTestRouter(t)
	session := "test-session"

	// 複数ターンにわたるフィールド収集がセッション状態として維持される
	reply := sendChat(t, r, session, "I want to return my iPhone")
	assert.Equal(t, "Which store did you buy it from?", reply)

	reply = sendChat(t, r, session, "Target")
	assert.Equal(t, "When did you purchase it? (YYYY-MM-DD or 'last week')", reply)

	reply = sendChat(t, r, session, "2025-01-01")
	assert.Equal(t, "What is the reason for return?", reply)

	reply = sendChat(t, r, session, "not working")
	assert.Equal(t, "What was the price and currency?", reply)

	reply = sendChat(t, r, session, "50 USD")
	assert.Contains(t, reply, "✅ Return recorded")
	assert.Contains(t, reply, "iPhone")
	assert.Contains(t, reply, "Target")
	assert.Contains(t, reply, "50.0")
	assert.Contains(t, reply, "USD")
}

func TestChatSessionsAreIsolated(t *testing.T) {
	r := setupTestRouter(t)

	// セッションAで収集を開始してもセッションBには影響しない
	reply := sendChat(t, r, "session-a", "I want to return my iPhone")
	assert.Equal(t, "Which store did you buy it from?", reply)

	reply = sendChat(t, r, "session-b", "I want to return my Galaxy")
	assert.Equal(t, "Which store did you buy it from?", reply)
}

func TestChatMessageValidation(t *testing.T) {
	r := setupTestRouter(t)

	// メッセージ未指定は400
	w := doJSON(r, http.MethodPost, "/api/v1/chat/message", models.ChatRequest{SessionID: "s"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 不正なJSONも400
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/message", bytes.NewBufferString("{invalid"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetSession(t *testing.T) {
	r := setupTestRouter(t)
	session := "reset-me"

	// 収集を開始してからセッションを破棄する
	reply := sendChat(t, r, session, "I want to return my iPhone")
	assert.Equal(t, "Which store did you buy it from?", reply)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/chat/session/"+session, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// 破棄後は収集モードではなくなっている: 短い発話は店名ではなく検索クエリとして扱われる
	reply = sendChat(t, r, session, "Target")
	assert.Equal(t, "No relevant returns found.", reply)
}

func insertPayload() map[string]interface{} {
	return map[string]interface{}{
		"product_name":  "iPhone 15",
		"store_name":    "Target",
		"purchase_date": "2025-01-01",
		"return_date":   "2025-01-10",
		"reason":        "screen not working",
		"price":         999.99,
		"currency":      "USD",
	}
}

func TestInsertReturnEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	// 正常登録
	w := doJSON(r, http.MethodPost, "/api/v1/returns", insertPayload())
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                        `json:"success"`
		Data    models.InsertReturnResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Greater(t, resp.Data.ReturnID, int64(0))

	// 同じ自然キーの再登録は409
	w = doJSON(r, http.MethodPost, "/api/v1/returns", insertPayload())
	assert.Equal(t, http.StatusConflict, w.Code)

	// 必須フィールド欠落は400
	bad := insertPayload()
	bad["product_name"] = ""
	w = doJSON(r, http.MethodPost, "/api/v1/returns", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 日付形式の不正も400
	bad = insertPayload()
	bad["purchase_date"] = "01/01/2025"
	w = doJSON(r, http.MethodPost, "/api/v1/returns", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetReportEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/returns", insertPayload())
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/returns/report?start=2025-01-08&end=2025-01-14", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    models.ReportSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.TotalReturns)
	assert.Equal(t, "increasing", resp.Data.Trend)

	// 日付形式の不正は400
	req = httptest.NewRequest(http.MethodGet, "/api/v1/returns/report?start=bad-date", nil)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req)
	assert.Equal(t, http.StatusBadRequest, w3.Code)
}

func TestGetForecastEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	// 履歴データなしは422
	req := httptest.NewRequest(http.MethodGet, "/api/v1/returns/forecast", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// データを1件入れると予測が返る
	w2 := doJSON(r, http.MethodPost, "/api/v1/returns", insertPayload())
	require.Equal(t, http.StatusOK, w2.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/returns/forecast?horizon=7", nil)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req)
	require.Equal(t, http.StatusOK, w3.Code)

	var resp struct {
		Success bool                    `json:"success"`
		Data    models.ForecastResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w3.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "daily_return_volume", resp.Data.Target)
	assert.Len(t, resp.Data.Predictions, 7)

	// horizonの不正値は400
	req = httptest.NewRequest(http.MethodGet, "/api/v1/returns/forecast?horizon=-1", nil)
	w4 := httptest.NewRecorder()
	r.ServeHTTP(w4, req)
	assert.Equal(t, http.StatusBadRequest, w4.Code)
}

func TestSearchReturnsEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	// qは必須
	req := httptest.NewRequest(http.MethodGet, "/api/v1/returns/search", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// データ0件でもインデックス再構築は成功し、空の結果が返る
	req = httptest.NewRequest(http.MethodGet, "/api/v1/returns/search?q=broken+screen", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	require.Equal(t, http.StatusOK, w2.Code)

	var empty struct {
		Success bool                     `json:"success"`
		Count   int                      `json:"count"`
		Data    []models.RetrievalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &empty))
	assert.True(t, empty.Success)
	assert.Equal(t, 0, empty.Count)

	// 登録後は検索結果が返る
	w3 := doJSON(r, http.MethodPost, "/api/v1/returns", insertPayload())
	require.Equal(t, http.StatusOK, w3.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/returns/search?q=screen+not+working&top_k=3", nil)
	w4 := httptest.NewRecorder()
	r.ServeHTTP(w4, req)
	require.Equal(t, http.StatusOK, w4.Code)

	var resp struct {
		Success bool                     `json:"success"`
		Count   int                      `json:"count"`
		Data    []models.RetrievalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w4.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "screen not working", resp.Data[0].Content)
}

func TestImportCSVEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	csvData := "product_name,store_name,purchase_date,return_date,reason,price,currency\n" +
		"iPhone 15,Target,2025-01-01,2025-01-10,screen not working,999.99,USD\n" +
		"Galaxy S24,Best Buy,2025-01-02,2025-01-11,battery defective,799.99,USD\n"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "returns.csv")
	require.NoError(t, err)
	_, err = fmt.Fprint(part, csvData)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool `json:"success"`
		Inserted int  `json:"inserted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Inserted)

	// ファイル未指定は400
	req = httptest.NewRequest(http.MethodPost, "/api/v1/returns/import", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}
