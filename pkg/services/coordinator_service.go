package services

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"returns-chat-api/pkg/models"
)

// ReturnInserter 返品レコードの登録を行うコラボレータ
type ReturnInserter interface {
	Insert(req models.InsertReturnRequest) (*models.InsertReturnResponse, error)
}

// ReportGenerator 集計レポートを生成するコラボレータ
type ReportGenerator interface {
	GenerateReport(req models.ReportRequest) (*models.ReportSummary, error)
}

// VolumeForecaster 返品件数の予測を行うコラボレータ
type VolumeForecaster interface {
	Forecast(req models.ForecastRequest) (*models.ForecastResponse, error)
}

// CoordinatorService 会話のコーディネータ。意図分類、ターンをまたいだフィールド抽出、
// コラボレータへのディスパッチを行います。セッション状態は呼び出し側が保持し、
// 毎ターン引数として渡されます（このサービス自体はセッションを持ちません）。
type CoordinatorService struct {
	inserter   ReturnInserter
	reporter   ReportGenerator
	forecaster VolumeForecaster
	index      SemanticIndex

	now func() time.Time
}

// NewCoordinatorService は各コラボレータを注入して新しいCoordinatorServiceを作成します。
func NewCoordinatorService(inserter ReturnInserter, reporter ReportGenerator, forecaster VolumeForecaster, index SemanticIndex) *CoordinatorService {
	return &CoordinatorService{
		inserter:   inserter,
		reporter:   reporter,
		forecaster: forecaster,
		index:      index,
		now:        time.Now,
	}
}

// フィールド抽出に使うパターン（固定順で評価される）
var (
	productPattern = regexp.MustCompile(`(?i)return (?:my|an|a)?\s*(.+)`)
	storePattern   = regexp.MustCompile(`(?i)(?:from|at)\s+(.+)`)
	pricePattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([A-Za-z]{2,5})`)
	isoDatePattern = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
)

// storeBlocklist 短文をそのまま店名とみなす際に除外するキーワード
var storeBlocklist = []string{"working", "broken", "week", "today"}

// HandleMessage は1ターンぶんのメッセージを処理し、応答と更新後の状態を返します。
func (c *CoordinatorService) HandleMessage(ctx context.Context, userText string, state models.ConversationState) (string, models.ConversationState) {
	text := strings.TrimSpace(userText)

	// 収集モード中は意図分類をやり直さない。
	// 「next Tuesday」のような断片で予測モードに逸れるのを防ぐ。
	if state.Mode == models.ModeCollectingReturn {
		return c.handleInsertFlow(text, state)
	}

	intent := classifyIntent(text)
	state.Mode = intent

	switch intent {
	case models.ModeForecast:
		return c.handleForecast(state)
	case models.ModeAnalytics:
		return c.handleAnalytics(state)
	case models.ModeCollectingReturn:
		return c.handleInsertFlow(text, state)
	default:
		return c.handleRetrieval(ctx, text, state)
	}
}

// classifyIntent キーワードの順序付きルールで意図を分類します（最初にマッチしたものが勝ち）。
func classifyIntent(text string) models.ConversationMode {
	t := strings.ToLower(text)

	if containsAny(t, "forecast", "predict", "next") {
		return models.ModeForecast
	}
	if containsAny(t, "report", "analysis", "how many", "trend", "excel") {
		return models.ModeAnalytics
	}
	if containsAny(t, "return", "refund") {
		return models.ModeCollectingReturn
	}
	return models.ModeRetrieval
}

// ---------- 返品登録フロー ----------

func (c *CoordinatorService) handleInsertFlow(text string, state models.ConversationState) (string, models.ConversationState) {
	c.extractFields(text, &state.Pending)

	missing := missingFields(state.Pending)
	if len(missing) > 0 {
		state.Mode = models.ModeCollectingReturn
		return askNext(missing), state
	}

	req := buildInsertRequest(state.Pending, c.now())
	resp, err := c.inserter.Insert(req)

	// 成否にかかわらず収集状態はリセットされる（重複は再試行不可の終端）
	state.Pending = models.PendingReturn{}
	state.Mode = models.ModeNone

	// 重複・バリデーションを含むあらゆる失敗は、そのままユーザー向けの応答になる
	if err != nil {
		return err.Error(), state
	}

	reply := fmt.Sprintf("✅ Return recorded: %s from %s (%s %s). Return ID: %d",
		resp.ProductName, resp.StoreName, formatAmount(resp.Price), resp.Currency, resp.ReturnID)
	return reply, state
}

// missingFields 送信に必須のフィールドのうち未入力のものを固定順で返します。
func missingFields(p models.PendingReturn) []string {
	var missing []string
	if p.ProductName == nil {
		missing = append(missing, "product_name")
	}
	if p.StoreName == nil {
		missing = append(missing, "store_name")
	}
	if p.PurchaseDate == nil {
		missing = append(missing, "purchase_date")
	}
	if p.Reason == nil {
		missing = append(missing, "reason")
	}
	if p.Price == nil {
		missing = append(missing, "price")
	}
	if p.Currency == nil {
		missing = append(missing, "currency")
	}
	return missing
}

// askNext 優先順の最初の未入力フィールドについて1問だけ質問します。
func askNext(missing []string) string {
	has := func(field string) bool {
		for _, m := range missing {
			if m == field {
				return true
			}
		}
		return false
	}

	switch {
	case has("product_name"):
		return "What product are you returning?"
	case has("store_name"):
		return "Which store did you buy it from?"
	case has("purchase_date"):
		return "When did you purchase it? (YYYY-MM-DD or 'last week')"
	case has("return_date"):
		return "When is the return date?"
	case has("reason"):
		return "What is the reason for return?"
	case has("price") || has("currency"):
		return "What was the price and currency?"
	default:
		return "Please provide the missing details."
	}
}

// extractFields 未入力のフィールドだけを固定の優先順で埋めます。
// 一度埋まったフィールドは後のターンで上書きされません。
func (c *CoordinatorService) extractFields(text string, p *models.PendingReturn) {
	t := strings.ToLower(text)

	// 製品名: 「return <名詞句>」パターンを優先し、短い直接回答はそのまま製品名とみなす
	if p.ProductName == nil {
		if m := productPattern.FindStringSubmatch(text); m != nil {
			v := strings.TrimSpace(m[1])
			p.ProductName = &v
		} else if len(strings.Fields(text)) <= 4 && text != "" {
			v := text
			p.ProductName = &v
		}
	}

	// 店名: 「from/at <句>」パターンを優先。製品名が既知で短文かつ
	// 無関係キーワードを含まない場合のみ、発話全体を店名とみなす
	if p.StoreName == nil {
		if m := storePattern.FindStringSubmatch(text); m != nil {
			v := strings.TrimSpace(m[1])
			p.StoreName = &v
		} else if p.ProductName != nil && len(strings.Fields(text)) <= 5 && !containsAny(t, storeBlocklist...) && text != "" {
			v := text
			p.StoreName = &v
		}
	}

	// 理由: 不具合を示すキーワードが含まれるときだけ、発話全体を理由として採用する
	if p.Reason == nil {
		if containsAny(t, "not working", "broken", "defective") {
			v := text
			p.Reason = &v
		}
	}

	// 価格と通貨: 数値+通貨トークンの単一パターンで両方同時に設定する（片方だけは設定しない）
	if p.Price == nil || p.Currency == nil {
		if m := pricePattern.FindStringSubmatch(text); m != nil {
			if price, err := strconv.ParseFloat(m[1], 64); err == nil {
				currency := strings.ToUpper(m[2])
				p.Price = &price
				p.Currency = &currency
			}
		}
	}

	// 購入日: 「last week」は今日の7日前、それ以外はISO形式の日付をそのまま解釈する
	if p.PurchaseDate == nil {
		if strings.Contains(t, "last week") {
			d := truncateToDay(c.now()).AddDate(0, 0, -7)
			p.PurchaseDate = &d
		} else if m := isoDatePattern.FindStringSubmatch(text); m != nil {
			if d, err := time.Parse(models.DateLayout, m[1]); err == nil {
				p.PurchaseDate = &d
			}
		}
	}

	// 返品日: 「today」が明示されたときだけ設定する
	if p.ReturnDate == nil {
		if strings.Contains(t, "today") {
			d := truncateToDay(c.now())
			p.ReturnDate = &d
		}
	}
}

// buildInsertRequest 収集済みのフィールドから登録リクエストを組み立てます。
// 返品日が未入力の場合は今日の日付を使います。
func buildInsertRequest(p models.PendingReturn, now time.Time) models.InsertReturnRequest {
	req := models.InsertReturnRequest{
		ProductName: deref(p.ProductName),
		StoreName:   deref(p.StoreName),
		Reason:      deref(p.Reason),
		Currency:    deref(p.Currency),
		ReturnDate:  truncateToDay(now),
		DiscountPct: p.DiscountPct,
	}
	if p.ProductCategory != nil {
		req.ProductCategory = *p.ProductCategory
	}
	if p.City != nil {
		req.City = *p.City
	}
	if p.Country != nil {
		req.Country = *p.Country
	}
	if p.PurchaseDate != nil {
		req.PurchaseDate = *p.PurchaseDate
	}
	if p.ReturnDate != nil {
		req.ReturnDate = *p.ReturnDate
	}
	if p.Price != nil {
		req.Price = *p.Price
	}
	return req
}

// ---------- 分析 ----------

func (c *CoordinatorService) handleAnalytics(state models.ConversationState) (string, models.ConversationState) {
	req := models.ReportRequest{GenerateExcel: true}
	state.Mode = models.ModeNone

	resp, err := c.reporter.GenerateReport(req)
	if err != nil {
		return fmt.Sprintf("Sorry, the report could not be generated: %v", err), state
	}

	reply := fmt.Sprintf("📊 Returns: %d\nLoss: %s\nTrend: %s\n%s",
		resp.TotalReturns, formatAmount(resp.TotalLoss), resp.Trend, resp.Insight)
	return reply, state
}

// ---------- 予測 ----------

func (c *CoordinatorService) handleForecast(state models.ConversationState) (string, models.ConversationState) {
	req := models.ForecastRequest{Target: "daily_return_volume", HorizonDays: 14}
	state.Mode = models.ModeNone

	resp, err := c.forecaster.Forecast(req)
	if err != nil {
		return fmt.Sprintf("Sorry, the forecast could not be generated: %v", err), state
	}

	reply := fmt.Sprintf("📈 Forecast (%s)\nMAE: %s", resp.ModelUsed, formatAmount(resp.MetricValue))
	return reply, state
}

// ---------- セマンティック検索 ----------

func (c *CoordinatorService) handleRetrieval(ctx context.Context, text string, state models.ConversationState) (string, models.ConversationState) {
	state.Mode = models.ModeNone

	// インデックスはクエリのたびにゼロから再構築する（意図的な設計）
	if err := c.index.Rebuild(ctx); err != nil {
		return fmt.Sprintf("Sorry, the search could not be completed: %v", err), state
	}

	results, err := c.index.Search(ctx, models.RetrievalQuery{Query: text, TopK: 3})
	if err != nil {
		return fmt.Sprintf("Sorry, the search could not be completed: %v", err), state
	}
	if len(results) == 0 {
		return "No relevant returns found.", state
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- " + r.Content)
	}
	return b.String(), state
}

// ---------- ヘルパー ----------

// containsAny いずれかのキーワードが含まれるかどうか
func containsAny(t string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

// formatAmount 整数値は小数点以下1桁で、それ以外は必要な桁数で文字列化します。
func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.1f", v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
