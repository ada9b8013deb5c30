package services

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"returns-chat-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// ReportService 返品データの集計とトレンド判定、Excelレポートの生成を行います（読み取り専用）。
type ReportService struct {
	store      *ReturnStoreService
	reportsDir string
}

// NewReportService は新しいReportServiceを作成します。
func NewReportService(store *ReturnStoreService, reportsDir string) *ReportService {
	if reportsDir == "" {
		reportsDir = "reports"
	}
	return &ReportService{store: store, reportsDir: reportsDir}
}

// GenerateReport は対象ウィンドウと直前の同じ長さのウィンドウを集計し、
// トレンド判定とインサイト文を生成します。GenerateExcelが指定されていれば
// Summary/Findingsの2シート構成のExcelファイルを書き出します。
func (s *ReportService) GenerateReport(req models.ReportRequest) (*models.ReportSummary, error) {
	startDate, endDate := s.resolveDateRange(req.StartDate, req.EndDate)

	totalReturns, totalLoss, err := s.store.AggregateWindow(startDate, endDate, req.ProductName)
	if err != nil {
		return nil, err
	}

	// 直前の同じ長さのウィンドウと比較してトレンドを判定する
	windowDays := int(endDate.Sub(startDate).Hours()/24) + 1
	prevEnd := startDate.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(windowDays - 1))

	prevReturns, prevLoss, err := s.store.AggregateWindow(prevStart, prevEnd, req.ProductName)
	if err != nil {
		return nil, err
	}

	trend := computeTrend(totalReturns, prevReturns)
	insight := s.buildInsight(req.ProductName, startDate, endDate, totalReturns, totalLoss, prevReturns, prevLoss, trend)

	summary := &models.ReportSummary{
		StartDate:       startDate,
		EndDate:         endDate,
		TotalReturns:    totalReturns,
		TotalLoss:       totalLoss,
		PreviousReturns: prevReturns,
		PreviousLoss:    prevLoss,
		Trend:           trend,
		Insight:         insight,
	}

	if req.GenerateExcel {
		path, err := s.writeExcel(req.ProductName, summary)
		if err != nil {
			return nil, fmt.Errorf("Excelレポートの生成に失敗: %w", err)
		}
		summary.ExcelPath = path
	}

	return summary, nil
}

// resolveDateRange 日付が省略された場合は直近14日間（両端含む）を対象にします。
func (s *ReportService) resolveDateRange(start, end *time.Time) (time.Time, time.Time) {
	var endDate time.Time
	if end != nil {
		endDate = *end
	} else {
		endDate = truncateToDay(time.Now())
	}
	var startDate time.Time
	if start != nil {
		startDate = *start
	} else {
		startDate = endDate.AddDate(0, 0, -13)
	}
	return startDate, endDate
}

// computeTrend 現在と直前のウィンドウの件数を比較してトレンドラベルを返します。
func computeTrend(current, previous int) string {
	switch {
	case previous == 0 && current == 0:
		return "flat"
	case previous == 0 && current > 0:
		return "increasing"
	case current > previous:
		return "increasing"
	case current < previous:
		return "decreasing"
	default:
		return "flat"
	}
}

// buildInsight トレンドに応じたインサイト文を生成します。
func (s *ReportService) buildInsight(
	productName string,
	startDate, endDate time.Time,
	totalReturns int, totalLoss float64,
	prevReturns int, prevLoss float64,
	trend string,
) string {
	scope := ""
	if productName != "" {
		scope = fmt.Sprintf("for '%s' ", productName)
	}
	period := fmt.Sprintf("%s to %s", startDate.Format(models.DateLayout), endDate.Format(models.DateLayout))

	switch trend {
	case "increasing":
		return fmt.Sprintf(
			"Returns %sare increasing in %s (%d vs %d in the previous period). "+
				"Estimated loss is %.2f vs %.2f previously. "+
				"Consider checking store handling, product batch quality, and common defect reasons.",
			scope, period, totalReturns, prevReturns, totalLoss, prevLoss)
	case "decreasing":
		return fmt.Sprintf(
			"Returns %sare decreasing in %s (%d vs %d previously). "+
				"Estimated loss is %.2f vs %.2f. "+
				"This suggests recent mitigations may be working.",
			scope, period, totalReturns, prevReturns, totalLoss, prevLoss)
	default:
		return fmt.Sprintf(
			"Returns %sare stable in %s (%d vs %d previously). "+
				"Estimated loss is %.2f vs %.2f. "+
				"Monitor for emerging spikes in specific stores/products.",
			scope, period, totalReturns, prevReturns, totalLoss, prevLoss)
	}
}

// writeExcel Summary/Findingsの2シート構成でレポートを書き出し、ファイルパスを返します。
func (s *ReportService) writeExcel(productName string, summary *models.ReportSummary) (string, error) {
	if err := os.MkdirAll(s.reportsDir, 0755); err != nil {
		return "", err
	}

	productTag := "all"
	if productName != "" {
		productTag = strings.ReplaceAll(productName, " ", "_")
	}
	ts := time.Now().Format("20060102_150405")
	outPath := filepath.Join(s.reportsDir, fmt.Sprintf("returns_report_%s_%s.xlsx", productTag, ts))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Excelファイルのクローズに失敗: %v", err)
		}
	}()

	// Summaryシート: metric/valueのペア
	sheet := "Summary"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return "", err
	}
	filterValue := productName
	if filterValue == "" {
		filterValue = "ALL"
	}
	summaryRows := [][]interface{}{
		{"metric", "value"},
		{"product_filter", filterValue},
		{"start_date", summary.StartDate.Format(models.DateLayout)},
		{"end_date", summary.EndDate.Format(models.DateLayout)},
		{"total_returns", summary.TotalReturns},
		{"total_loss", summary.TotalLoss},
		{"previous_period_returns", summary.PreviousReturns},
		{"previous_period_loss", summary.PreviousLoss},
		{"trend", summary.Trend},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return "", err
		}
	}

	// Findingsシート: インサイト1行
	findings := "Findings"
	if _, err := f.NewSheet(findings); err != nil {
		return "", err
	}
	header := []interface{}{"finding", "details"}
	row := []interface{}{"Key Insight", summary.Insight}
	if err := f.SetSheetRow(findings, "A1", &header); err != nil {
		return "", err
	}
	if err := f.SetSheetRow(findings, "A2", &row); err != nil {
		return "", err
	}

	if err := f.SaveAs(outPath); err != nil {
		return "", err
	}

	log.Printf("📊 Excelレポートを生成しました: %s", outPath)
	return outPath, nil
}

// truncateToDay 時刻部分を切り捨てて日付だけにします。
func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
