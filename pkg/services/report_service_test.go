package services

import (
	"os"
	"testing"
	"time"

	"returns-chat-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeTrend(t *testing.T) {
	// 前期間・今期間ともに0件はflat
	assert.Equal(t, "flat", computeTrend(0, 0))
	// 前期間0件から今期間に件数が出た場合はincreasing
	assert.Equal(t, "increasing", computeTrend(3, 0))
	assert.Equal(t, "increasing", computeTrend(5, 2))
	assert.Equal(t, "decreasing", computeTrend(2, 5))
	assert.Equal(t, "flat", computeTrend(3, 3))
}

func TestGenerateReportDefaultWindow(t *testing.T) {
	store := newTestStore(t)
	svc := NewReportService(store, t.TempDir())

	// 日付省略時は「今日」を終端とする直近14日間
	summary, err := svc.GenerateReport(models.ReportRequest{})
	require.NoError(t, err)

	today := truncateToDay(time.Now())
	assert.Equal(t, today, summary.EndDate)
	assert.Equal(t, today.AddDate(0, 0, -13), summary.StartDate)

	// データなしはflatで、インサイトは生成される
	assert.Equal(t, 0, summary.TotalReturns)
	assert.Equal(t, 0.0, summary.TotalLoss)
	assert.Equal(t, "flat", summary.Trend)
	assert.Contains(t, summary.Insight, "stable")
}

func TestGenerateReportIncreasingTrend(t *testing.T) {
	store := newTestStore(t)
	svc := NewReportService(store, t.TempDir())

	// 前ウィンドウ(1/1〜1/7)に1件、対象ウィンドウ(1/8〜1/14)に2件
	prev := testInsertRequest()
	prev.ReturnDate = time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := store.Insert(prev)
	require.NoError(t, err)

	cur1 := testInsertRequest()
	cur1.ProductName = "Galaxy S24"
	cur1.ReturnDate = time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC)
	cur1.Price = 800.0
	_, err = store.Insert(cur1)
	require.NoError(t, err)

	cur2 := testInsertRequest()
	cur2.ProductName = "Pixel 9"
	cur2.ReturnDate = time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC)
	cur2.Price = 700.0
	_, err = store.Insert(cur2)
	require.NoError(t, err)

	start := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GenerateReport(models.ReportRequest{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalReturns)
	assert.InDelta(t, 1500.0, summary.TotalLoss, 0.001)

	// 直前の同じ長さのウィンドウ(1/1〜1/7)と比較される
	assert.Equal(t, 1, summary.PreviousReturns)
	assert.InDelta(t, 999.99, summary.PreviousLoss, 0.001)
	assert.Equal(t, "increasing", summary.Trend)
	assert.Contains(t, summary.Insight, "increasing")
	assert.Contains(t, summary.Insight, "2025-01-08 to 2025-01-14")

	// Excelを要求していないのでパスは空
	assert.Empty(t, summary.ExcelPath)
}

func TestGenerateReportDecreasingTrend(t *testing.T) {
	store := newTestStore(t)
	svc := NewReportService(store, t.TempDir())

	// 前ウィンドウに2件、対象ウィンドウに1件
	for i, day := range []int{2, 4} {
		req := testInsertRequest()
		req.ProductName = "Prev Product " + string(rune('A'+i))
		req.ReturnDate = time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
		_, err := store.Insert(req)
		require.NoError(t, err)
	}
	cur := testInsertRequest()
	cur.ProductName = "Galaxy S24"
	cur.ReturnDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := store.Insert(cur)
	require.NoError(t, err)

	start := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GenerateReport(models.ReportRequest{StartDate: &start, EndDate: &end})
	require.NoError(t, err)

	assert.Equal(t, "decreasing", summary.Trend)
	assert.Contains(t, summary.Insight, "decreasing")
}

func TestGenerateReportProductFilter(t *testing.T) {
	store := newTestStore(t)
	svc := NewReportService(store, t.TempDir())

	req1 := testInsertRequest()
	_, err := store.Insert(req1)
	require.NoError(t, err)

	req2 := testInsertRequest()
	req2.ProductName = "Galaxy S24"
	req2.Price = 500.0
	_, err = store.Insert(req2)
	require.NoError(t, err)

	start := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GenerateReport(models.ReportRequest{
		ProductName: "iphone",
		StartDate:   &start,
		EndDate:     &end,
	})
	require.NoError(t, err)

	// フィルタは大文字小文字を区別しない部分一致
	assert.Equal(t, 1, summary.TotalReturns)
	assert.InDelta(t, 999.99, summary.TotalLoss, 0.001)
	assert.Contains(t, summary.Insight, "'iphone'")
}

func TestGenerateReportWritesExcel(t *testing.T) {
	store := newTestStore(t)
	reportsDir := t.TempDir()
	svc := NewReportService(store, reportsDir)

	_, err := store.Insert(testInsertRequest())
	require.NoError(t, err)

	start := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	summary, err := svc.GenerateReport(models.ReportRequest{
		StartDate:     &start,
		EndDate:       &end,
		GenerateExcel: true,
	})
	require.NoError(t, err)

	// Excelファイルが実際に書き出されている
	require.NotEmpty(t, summary.ExcelPath)
	assert.Contains(t, summary.ExcelPath, "returns_report_all_")
	info, err := os.Stat(summary.ExcelPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
