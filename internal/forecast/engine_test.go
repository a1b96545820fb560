package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthlyHistory(incomes ...float64) []analytics.Bucket {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buckets := make([]analytics.Bucket, len(incomes))
	for i, v := range incomes {
		buckets[i] = analytics.Bucket{Start: start.AddDate(0, i, 0), NetIncome: v}
	}
	return buckets
}

func TestForecast_RefusesShortHistory(t *testing.T) {
	e := NewEngine(Config{MinHistory: 4})
	_, err := e.Forecast(monthlyHistory(100, 120, 110), analytics.IntervalMonthly)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
}

func TestForecast_ProducesHorizonPoints(t *testing.T) {
	e := NewEngine(Config{MinHistory: 4, Horizon: 3})
	fc, err := e.Forecast(monthlyHistory(100, 110, 120, 130, 140, 150), analytics.IntervalMonthly)
	require.NoError(t, err)

	require.Len(t, fc.Points, 3)
	assert.Equal(t, analytics.IntervalMonthly, fc.Interval)

	// History ends 2024-06-01; projections continue month by month.
	assert.Equal(t, "2024-07-01", fc.Points[0].Start)
	assert.Equal(t, "2024-08-01", fc.Points[1].Start)
	assert.Equal(t, "2024-09-01", fc.Points[2].Start)
}

func TestForecast_BandsBracketPrediction(t *testing.T) {
	e := NewEngine(Config{MinHistory: 4, Horizon: 6})
	fc, err := e.Forecast(monthlyHistory(100, 130, 95, 140, 120, 160, 110, 150), analytics.IntervalMonthly)
	require.NoError(t, err)

	for i, p := range fc.Points {
		assert.LessOrEqual(t, p.Lower, p.Predicted, "point %d", i)
		assert.LessOrEqual(t, p.Predicted, p.Upper, "point %d", i)
	}
	// Bands widen with horizon distance.
	first := fc.Points[0].Upper - fc.Points[0].Lower
	last := fc.Points[len(fc.Points)-1].Upper - fc.Points[len(fc.Points)-1].Lower
	assert.Greater(t, last, first)
}

func TestForecast_TrendClassification(t *testing.T) {
	tests := []struct {
		name    string
		incomes []float64
		want    Trend
	}{
		{"increasing", []float64{100, 110, 150, 200, 250, 300}, TrendIncreasing},
		{"decreasing", []float64{300, 250, 200, 150, 110, 100}, TrendDecreasing},
		{"stable", []float64{100, 102, 99, 101, 100, 98}, TrendStable},
	}
	e := NewEngine(Config{MinHistory: 4})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := e.Forecast(monthlyHistory(tt.incomes...), analytics.IntervalMonthly)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fc.Trend)
		})
	}
}

func TestForecast_RisingSeriesProjectsUpward(t *testing.T) {
	e := NewEngine(Config{MinHistory: 4, Horizon: 2})
	fc, err := e.Forecast(monthlyHistory(100, 120, 140, 160, 180, 200), analytics.IntervalMonthly)
	require.NoError(t, err)

	require.Len(t, fc.Points, 2)
	assert.Greater(t, fc.Points[0].Predicted, 180.0)
	assert.Greater(t, fc.Points[1].Predicted, fc.Points[0].Predicted)
}

func TestDetectSeasonality(t *testing.T) {
	// Strong period-4 cycle repeated over three periods.
	seasonal := []float64{10, 50, 10, 50, 12, 52, 11, 49, 10, 51, 12, 50}
	if !detectSeasonality(seasonal, 2) {
		t.Fatal("alternating series at its true period should read as seasonal")
	}
	if detectSeasonality(seasonal, 0) {
		t.Fatal("period 0 must disable seasonality detection")
	}
	if detectSeasonality([]float64{10, 50, 10}, 2) {
		t.Fatal("fewer than two full periods cannot establish seasonality")
	}
	flat := []float64{5, 5, 5, 5, 5, 5, 5, 5}
	if detectSeasonality(flat, 4) {
		t.Fatal("constant series has no seasonality signal")
	}
}

func TestBacktest_PerfectLinearSeriesScoresWell(t *testing.T) {
	e := NewEngine(Config{MinHistory: 4})
	acc := e.backtest([]float64{100, 110, 120, 130, 140, 150, 160, 170, 180, 190})
	assert.Greater(t, acc.Confidence, 0.5)
	assert.GreaterOrEqual(t, acc.Confidence, 0.0)
	assert.LessOrEqual(t, acc.Confidence, 1.0)
}

func TestNewEngine_ZeroConfigFallsBack(t *testing.T) {
	e := NewEngine(Config{})
	assert.Equal(t, DefaultConfig.MinHistory, e.cfg.MinHistory)
	assert.Equal(t, DefaultConfig.Horizon, e.cfg.Horizon)
	assert.Equal(t, DefaultConfig.Confidence, e.cfg.Confidence)
	assert.Equal(t, DefaultConfig.Alpha, e.cfg.Alpha)
}

func TestZScore(t *testing.T) {
	tests := []struct {
		confidence float64
		want       float64
	}{
		{0.99, 2.576},
		{0.95, 1.960},
		{0.90, 1.645},
		{0.80, 1.282},
		{0.50, 1.0},
	}
	for _, tt := range tests {
		if got := zScore(tt.confidence); got != tt.want {
			t.Fatalf("zScore(%v) = %v, want %v", tt.confidence, got, tt.want)
		}
	}
}
