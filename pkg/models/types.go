package models

import "time"

// DateLayout 日付フィールドの共通フォーマット（YYYY-MM-DD）
const DateLayout = "2006-01-02"

// ConversationMode 会話の進行モード
type ConversationMode string

const (
	ModeNone             ConversationMode = ""
	ModeCollectingReturn ConversationMode = "collecting_return"
	ModeAnalytics        ConversationMode = "analytics"
	ModeForecast         ConversationMode = "forecast"
	ModeRetrieval        ConversationMode = "retrieval"
)

// PendingReturn 複数ターンにわたって収集中の返品情報。
// 未入力のフィールドはnilのままで、一度埋まったフィールドは上書きされません。
type PendingReturn struct {
	ProductName     *string    `json:"product_name"`
	ProductCategory *string    `json:"product_category"`
	StoreName       *string    `json:"store_name"`
	City            *string    `json:"city"`
	Country         *string    `json:"country"`
	PurchaseDate    *time.Time `json:"purchase_date"`
	ReturnDate      *time.Time `json:"return_date"`
	Reason          *string    `json:"reason"`
	Price           *float64   `json:"price"`
	Currency        *string    `json:"currency"`
	DiscountPct     *float64   `json:"discount_pct"`
}

// ConversationState セッションごとの会話状態。呼び出し側が保持し、毎ターン受け渡します。
type ConversationState struct {
	Mode    ConversationMode `json:"mode"`
	Pending PendingReturn    `json:"pending"`
}

// ReturnRecord 確定済みの返品レコード（DBの1行に対応）
type ReturnRecord struct {
	ID              int64     `json:"id"`
	ProductName     string    `json:"product_name"`
	ProductCategory string    `json:"product_category,omitempty"`
	StoreName       string    `json:"store_name"`
	City            string    `json:"city,omitempty"`
	Country         string    `json:"country,omitempty"`
	PurchaseDate    time.Time `json:"purchase_date"`
	ReturnDate      time.Time `json:"return_date"`
	Reason          string    `json:"reason"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	DiscountPct     *float64  `json:"discount_pct,omitempty"`
	DedupeKey       string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// InsertReturnRequest 返品レコードの登録リクエスト
type InsertReturnRequest struct {
	ProductName     string    `json:"product_name"`
	ProductCategory string    `json:"product_category,omitempty"`
	StoreName       string    `json:"store_name"`
	City            string    `json:"city,omitempty"`
	Country         string    `json:"country,omitempty"`
	PurchaseDate    time.Time `json:"purchase_date"`
	ReturnDate      time.Time `json:"return_date"`
	Reason          string    `json:"reason"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	DiscountPct     *float64  `json:"discount_pct,omitempty"`
}

// InsertReturnResponse 登録結果
type InsertReturnResponse struct {
	ReturnID    int64   `json:"return_id"`
	ProductName string  `json:"product_name"`
	StoreName   string  `json:"store_name"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Message     string  `json:"message"`
}

// ReportRequest 集計レポートのリクエスト。日付が省略された場合は直近14日間が対象になります。
type ReportRequest struct {
	ProductName   string     `json:"product_name,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	GenerateExcel bool       `json:"generate_excel"`
}

// ReportSummary 集計レポートの結果
type ReportSummary struct {
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	TotalReturns    int       `json:"total_returns"`
	TotalLoss       float64   `json:"total_loss"`
	PreviousReturns int       `json:"previous_returns"`
	PreviousLoss    float64   `json:"previous_loss"`
	Trend           string    `json:"trend"`
	Insight         string    `json:"insight"`
	ExcelPath       string    `json:"excel_path,omitempty"`
}

// ForecastRequest 予測リクエスト
type ForecastRequest struct {
	Target      string `json:"target"`
	HorizonDays int    `json:"horizon_days"`
}

// ForecastPoint 予測系列の1点
type ForecastPoint struct {
	Date           time.Time `json:"date"`
	PredictedValue float64   `json:"predicted_value"`
}

// ForecastResponse 予測結果。リクエストごとに再計算され、保存はされません。
type ForecastResponse struct {
	Target      string          `json:"target"`
	HorizonDays int             `json:"horizon_days"`
	Predictions []ForecastPoint `json:"predictions"`
	ModelUsed   string          `json:"model_used"`
	Metric      string          `json:"metric"`
	MetricValue float64         `json:"metric_value"`
}

// DailyCount 日別の返品件数（予測の入力系列）
type DailyCount struct {
	Date  time.Time `json:"date"`
	Count int       `json:"count"`
}

// RetrievalQuery セマンティック検索のクエリ
type RetrievalQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrievalResult 検索結果の1件。Contentには返品理由のテキストが入ります。
type RetrievalResult struct {
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ChatRequest チャットAPIのリクエスト
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse チャットAPIのレスポンス
type ChatResponse struct {
	SessionID string           `json:"session_id"`
	Reply     string           `json:"reply"`
	Mode      ConversationMode `json:"mode"`
}
