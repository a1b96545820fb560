// Package forecast projects future income from historical bucket series
// using exponential smoothing with a linear trend component.
package forecast

import (
	"errors"
	"fmt"
	"math"

	"github.com/eddiefleurent/wheeltracker/internal/analytics"
	"github.com/eddiefleurent/wheeltracker/internal/util"
)

// ErrInsufficientHistory is returned when fewer historical buckets are
// supplied than the configured minimum. It is a typed refusal, never mixed
// with partial numeric output.
var ErrInsufficientHistory = errors.New("insufficient history to forecast")

// Trend classifies the direction of the historical series.
type Trend string

const (
	// TrendIncreasing means recent income runs above the earlier history.
	TrendIncreasing Trend = "increasing"
	// TrendDecreasing means recent income runs below the earlier history.
	TrendDecreasing Trend = "decreasing"
	// TrendStable means the halves differ by less than the threshold.
	TrendStable Trend = "stable"
)

// Point is one predicted future bucket with its confidence band.
type Point struct {
	Start     string  `json:"start"` // ISO-8601 date of the bucket start
	Predicted float64 `json:"predicted"`
	Lower     float64 `json:"lower"`
	Upper     float64 `json:"upper"`
}

// Accuracy reports backtest quality of the fitted model.
type Accuracy struct {
	MAPE       float64 `json:"mape"`
	RMSE       float64 `json:"rmse"`
	Confidence float64 `json:"confidence"` // 0..1 model confidence
}

// Forecast is the horizon-bucketed projection.
type Forecast struct {
	Interval analytics.Interval `json:"interval"`
	Points   []Point            `json:"points"`
	Trend    Trend              `json:"trend"`
	Seasonal bool               `json:"seasonal"`
	Accuracy Accuracy           `json:"accuracy"`
}

// Config tunes the engine.
type Config struct {
	MinHistory     int     // minimum historical buckets required
	Horizon        int     // future buckets to produce
	Confidence     float64 // band confidence level, e.g. 0.95
	SeasonPeriod   int     // expected seasonality period in buckets, 0 disables
	TrendThreshold float64 // relative change separating stable from trending
	Alpha          float64 // level smoothing factor
	Beta           float64 // trend smoothing factor
}

// DefaultConfig carries sensible smoothing and band defaults.
var DefaultConfig = Config{
	MinHistory:     4,
	Horizon:        6,
	Confidence:     0.95,
	SeasonPeriod:   12,
	TrendThreshold: 0.10,
	Alpha:          0.4,
	Beta:           0.2,
}

// Engine produces forecasts from historical buckets.
type Engine struct {
	cfg Config
}

// NewEngine creates a forecast engine. Zero config fields fall back to the
// defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = DefaultConfig.MinHistory
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultConfig.Horizon
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		cfg.Confidence = DefaultConfig.Confidence
	}
	if cfg.TrendThreshold <= 0 {
		cfg.TrendThreshold = DefaultConfig.TrendThreshold
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultConfig.Alpha
	}
	if cfg.Beta <= 0 || cfg.Beta >= 1 {
		cfg.Beta = DefaultConfig.Beta
	}
	return &Engine{cfg: cfg}
}

// Forecast projects the configured horizon from historical buckets. History
// shorter than the configured minimum returns ErrInsufficientHistory.
func (e *Engine) Forecast(history []analytics.Bucket, interval analytics.Interval) (*Forecast, error) {
	if len(history) < e.cfg.MinHistory {
		return nil, fmt.Errorf("%w: have %d buckets, need %d", ErrInsufficientHistory, len(history), e.cfg.MinHistory)
	}

	values := make([]float64, len(history))
	for i, b := range history {
		values[i] = b.NetIncome
	}

	level, trend, residualStd := fit(values, e.cfg.Alpha, e.cfg.Beta)
	z := zScore(e.cfg.Confidence)

	last := history[len(history)-1].Start
	points := make([]Point, 0, e.cfg.Horizon)
	start := last
	for h := 1; h <= e.cfg.Horizon; h++ {
		start = analytics.NextBucketStart(start, interval)
		predicted := level + trend*float64(h)
		// Band widens with horizon distance.
		margin := z * residualStd * math.Sqrt(float64(h))
		points = append(points, Point{
			Start:     start.Format("2006-01-02"),
			Predicted: util.RoundToCent(predicted),
			Lower:     util.RoundToCent(predicted - margin),
			Upper:     util.RoundToCent(predicted + margin),
		})
	}

	return &Forecast{
		Interval: interval,
		Points:   points,
		Trend:    classifyTrend(values, e.cfg.TrendThreshold),
		Seasonal: detectSeasonality(values, e.cfg.SeasonPeriod),
		Accuracy: e.backtest(values),
	}, nil
}

// fit runs Holt-style double exponential smoothing and returns the final
// level, per-step trend, and one-step residual standard deviation.
func fit(values []float64, alpha, beta float64) (level, trend, residualStd float64) {
	level = values[0]
	if len(values) > 1 {
		trend = values[1] - values[0]
	}
	var sqErr float64
	n := 0
	for i := 1; i < len(values); i++ {
		predicted := level + trend
		err := values[i] - predicted
		sqErr += err * err
		n++
		prevLevel := level
		level = alpha*values[i] + (1-alpha)*(level+trend)
		trend = beta*(level-prevLevel) + (1-beta)*trend
	}
	if n > 0 {
		residualStd = math.Sqrt(sqErr / float64(n))
	}
	return level, trend, residualStd
}

// classifyTrend compares the mean of the recent half against the earlier
// half with a relative-change threshold.
func classifyTrend(values []float64, threshold float64) Trend {
	half := len(values) / 2
	if half == 0 {
		return TrendStable
	}
	earlier := mean(values[:half])
	recent := mean(values[len(values)-half:])

	base := math.Abs(earlier)
	if base == 0 {
		if recent > 0 {
			return TrendIncreasing
		}
		if recent < 0 {
			return TrendDecreasing
		}
		return TrendStable
	}
	change := (recent - earlier) / base
	switch {
	case change > threshold:
		return TrendIncreasing
	case change < -threshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// detectSeasonality checks the autocorrelation of the series at the expected
// period lag. Requires at least two full periods of history.
func detectSeasonality(values []float64, period int) bool {
	if period <= 1 || len(values) < 2*period {
		return false
	}
	m := mean(values)
	var num, den float64
	for i := 0; i < len(values); i++ {
		den += (values[i] - m) * (values[i] - m)
	}
	if den == 0 {
		return false
	}
	for i := period; i < len(values); i++ {
		num += (values[i] - m) * (values[i-period] - m)
	}
	return num/den > 0.3
}

// backtest refits on a training prefix and scores held-out trailing buckets.
func (e *Engine) backtest(values []float64) Accuracy {
	holdout := len(values) / 5
	if holdout < 1 {
		holdout = 1
	}
	trainLen := len(values) - holdout
	if trainLen < 2 {
		// Not enough to hold anything out; score in-sample.
		trainLen = len(values)
		holdout = 0
	}

	level, trend, _ := fit(values[:trainLen], e.cfg.Alpha, e.cfg.Beta)

	var absPctSum, sqSum float64
	pctN := 0
	for h := 1; h <= holdout; h++ {
		actual := values[trainLen+h-1]
		predicted := level + trend*float64(h)
		diff := actual - predicted
		sqSum += diff * diff
		if actual != 0 {
			absPctSum += math.Abs(diff/actual) * 100
			pctN++
		}
	}

	acc := Accuracy{}
	if holdout > 0 {
		acc.RMSE = math.Sqrt(sqSum / float64(holdout))
		if pctN > 0 {
			acc.MAPE = absPctSum / float64(pctN)
		}
	}
	// Confidence decays with backtest error; clamp to [0,1].
	acc.Confidence = 1 / (1 + acc.MAPE/100)
	if acc.Confidence > 1 {
		acc.Confidence = 1
	}
	return acc
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// zScore maps a confidence level to its two-sided normal quantile.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.960
	case confidence >= 0.90:
		return 1.645
	case confidence >= 0.80:
		return 1.282
	default:
		return 1.0
	}
}
