package services

import (
	"math"

	"returns-chat-api/pkg/models"
)

// ForecastService 日別の返品件数を単純移動平均で予測します。
type ForecastService struct {
	store *ReturnStoreService
}

// NewForecastService は新しいForecastServiceを作成します。
func NewForecastService(store *ReturnStoreService) *ForecastService {
	return &ForecastService{store: store}
}

// Forecast は全履歴から日別件数の系列を作り、末尾min(7, 系列長)日の平均値を
// horizon_days日ぶん先まで定数予測として投影します。バックテストは同じ末尾
// ウィンドウの実測値と定数予測のMAEで評価します。
func (s *ForecastService) Forecast(req models.ForecastRequest) (*models.ForecastResponse, error) {
	series, err := s.store.DailySeries()
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, models.ErrEmptySeries
	}

	window := 7
	if len(series) < window {
		window = len(series)
	}
	tail := series[len(series)-window:]

	var sum float64
	for _, p := range tail {
		sum += float64(p.Count)
	}
	avg := sum / float64(window)

	// 最終観測日の翌日からhorizon日ぶんの定数予測を生成する
	lastDate := series[len(series)-1].Date
	predictions := make([]models.ForecastPoint, 0, req.HorizonDays)
	for i := 1; i <= req.HorizonDays; i++ {
		predictions = append(predictions, models.ForecastPoint{
			Date:           lastDate.AddDate(0, 0, i),
			PredictedValue: avg,
		})
	}

	// バックテスト: 末尾ウィンドウの実測値に対する定数予測のMAE
	var absErrSum float64
	for _, p := range tail {
		absErrSum += math.Abs(float64(p.Count) - avg)
	}
	mae := absErrSum / float64(window)

	return &models.ForecastResponse{
		Target:      req.Target,
		HorizonDays: req.HorizonDays,
		Predictions: predictions,
		ModelUsed:   "7-day moving average",
		Metric:      "MAE",
		MetricValue: mae,
	}, nil
}
