// Package analytics aggregates trades and wheel cycles into time-bucketed
// income series and per-symbol summary metrics.
package analytics

import (
	"sort"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/eddiefleurent/wheeltracker/internal/util"
)

// Interval selects the bucketing granularity.
type Interval string

const (
	// IntervalWeekly buckets by Monday-start weeks.
	IntervalWeekly Interval = "weekly"
	// IntervalMonthly buckets by calendar months.
	IntervalMonthly Interval = "monthly"
)

// Bucket is one aggregation window. Income is derived directly from option
// trade cash flow inside the window; cycle IDs are informational and never
// feed the income figure.
type Bucket struct {
	Start       time.Time `json:"start"`
	GrossIncome float64   `json:"gross_income"`
	Fees        float64   `json:"fees"`
	NetIncome   float64   `json:"net_income"`
	TradeIDs    []string  `json:"trade_ids"`
	CycleIDs    []string  `json:"cycle_ids,omitempty"`
}

// SymbolAnalytics is the per-symbol rollup exposed to collaborators.
type SymbolAnalytics struct {
	Symbol             string   `json:"symbol"`
	GrossIncome        float64  `json:"gross_income"`
	TotalFees          float64  `json:"total_fees"`
	NetIncome          float64  `json:"net_income"`
	WinRate            float64  `json:"win_rate"`
	AvgPremiumPerTrade float64  `json:"avg_premium_per_trade"`
	ActiveCycles       int      `json:"active_cycles"`
	CompletedCycles    int      `json:"completed_cycles"`
	Weekly             []Bucket `json:"weekly"`
	Monthly            []Bucket `json:"monthly"`
}

// Statistics summarizes cycle outcomes across all symbols.
type Statistics struct {
	TotalCycles    int     `json:"total_cycles"`
	WinningCycles  int     `json:"winning_cycles"`
	LosingCycles   int     `json:"losing_cycles"`
	WinRate        float64 `json:"win_rate"`
	TotalNetProfit float64 `json:"total_net_profit"`
	AverageWin     float64 `json:"average_win"`
	AverageLoss    float64 `json:"average_loss"`
}

// Engine computes analytics over read-only views of trades and cycles. It
// never mutates its inputs.
type Engine struct{}

// NewEngine creates an analytics engine.
func NewEngine() *Engine {
	return &Engine{}
}

// TotalIncome sums net option income (premium cash flow minus fees) across
// every option trade ever ingested, independent of bucketing.
func (e *Engine) TotalIncome(trades []models.Trade) float64 {
	var total float64
	for i := range trades {
		t := &trades[i]
		if !t.IsOption() {
			continue
		}
		total += signedPremium(t) - absFees(t)
	}
	return total
}

// Aggregate buckets option income for one interval. The result is sorted by
// bucket start and is bit-identical regardless of input ordering: each
// bucket's members are summed in trade-ID order, so float accumulation order
// never depends on how the caller happened to order the slice.
func (e *Engine) Aggregate(trades []models.Trade, cycles []*models.WheelCycle, interval Interval) []Bucket {
	byStart := make(map[time.Time][]*models.Trade)
	for i := range trades {
		t := &trades[i]
		if !t.IsOption() {
			continue
		}
		start := BucketStart(t.Time, interval)
		byStart[start] = append(byStart[start], t)
	}

	starts := make([]time.Time, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	out := make([]Bucket, 0, len(starts))
	for _, s := range starts {
		members := byStart[s]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

		b := Bucket{Start: s}
		for _, t := range members {
			b.GrossIncome += signedPremium(t)
			b.Fees += absFees(t)
			b.TradeIDs = append(b.TradeIDs, t.ID)
		}
		b.NetIncome = b.GrossIncome - b.Fees
		b.CycleIDs = contributingCycles(cycles, s, interval)
		out = append(out, b)
	}
	return out
}

// PerSymbol produces the full per-symbol analytics map.
func (e *Engine) PerSymbol(trades []models.Trade, cycles map[string][]*models.WheelCycle) map[string]*SymbolAnalytics {
	bySymbol := make(map[string][]models.Trade)
	for _, t := range trades {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}

	out := make(map[string]*SymbolAnalytics, len(bySymbol))
	for sym, symTrades := range bySymbol {
		symCycles := cycles[sym]
		sa := &SymbolAnalytics{
			Symbol:  sym,
			Weekly:  e.Aggregate(symTrades, symCycles, IntervalWeekly),
			Monthly: e.Aggregate(symTrades, symCycles, IntervalMonthly),
		}

		optionTrades := 0
		var premiumTotal float64
		for i := range symTrades {
			t := &symTrades[i]
			if !t.IsOption() {
				continue
			}
			optionTrades++
			sa.GrossIncome += signedPremium(t)
			sa.TotalFees += absFees(t)
			if t.Side == models.SideSell {
				premiumTotal += t.AbsNetCash()
			}
		}
		sa.NetIncome = sa.GrossIncome - sa.TotalFees
		if optionTrades > 0 {
			sa.AvgPremiumPerTrade = util.RoundToCent(premiumTotal / float64(optionTrades))
		}

		wins, completed := 0, 0
		for _, c := range symCycles {
			if c.Active() {
				sa.ActiveCycles++
				continue
			}
			completed++
			if c.NetProfit > 0 {
				wins++
			}
		}
		sa.CompletedCycles = completed
		if completed > 0 {
			sa.WinRate = float64(wins) / float64(completed)
		}
		out[sym] = sa
	}
	return out
}

// ComputeStatistics rolls cycle outcomes into aggregate win/loss figures.
func (e *Engine) ComputeStatistics(cycles map[string][]*models.WheelCycle) *Statistics {
	stats := &Statistics{}
	var winSum, lossSum float64
	syms := make([]string, 0, len(cycles))
	for s := range cycles {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		for _, c := range cycles[s] {
			if c.Active() {
				continue
			}
			stats.TotalCycles++
			stats.TotalNetProfit += c.NetProfit
			if c.NetProfit > 0 {
				stats.WinningCycles++
				winSum += c.NetProfit
			} else {
				stats.LosingCycles++
				lossSum += c.NetProfit
			}
		}
	}
	if stats.TotalCycles > 0 {
		stats.WinRate = float64(stats.WinningCycles) / float64(stats.TotalCycles)
	}
	if stats.WinningCycles > 0 {
		stats.AverageWin = winSum / float64(stats.WinningCycles)
	}
	if stats.LosingCycles > 0 {
		stats.AverageLoss = lossSum / float64(stats.LosingCycles)
	}
	return stats
}

// BucketStart truncates a timestamp to its bucket boundary: the most recent
// Monday for weeks, the first of the month for months.
func BucketStart(t time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		daysSinceMonday := (int(t.Weekday()) + 6) % 7
		d := t.AddDate(0, 0, -daysSinceMonday)
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
	}
}

// NextBucketStart advances a bucket boundary by one interval.
func NextBucketStart(start time.Time, interval Interval) time.Time {
	if interval == IntervalMonthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 7)
}

// contributingCycles lists cycles overlapping the bucket window, sorted for
// determinism.
func contributingCycles(cycles []*models.WheelCycle, start time.Time, interval Interval) []string {
	end := NextBucketStart(start, interval)
	var ids []string
	for _, c := range cycles {
		if c.OpenedAt.IsZero() || !c.OpenedAt.Before(end) {
			continue
		}
		if !c.ClosedAt.IsZero() && c.ClosedAt.Before(start) {
			continue
		}
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	return ids
}

// signedPremium is the bucket income contribution of one option leg: sells
// add the absolute net cash, closing buys subtract it.
func signedPremium(t *models.Trade) float64 {
	if t.Side == models.SideSell {
		return t.AbsNetCash()
	}
	return -t.AbsNetCash()
}

func absFees(t *models.Trade) float64 {
	if t.Commission < 0 {
		return -t.Commission
	}
	return t.Commission
}
