// Package wheel reconstructs wheel strategy cycles and running positions
// from a chronologically ordered trade stream.
package wheel

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
)

// assignmentWindow bounds how far a stock fill may land from the put's expiry
// and still read as an assignment. Covers the settlement lag after expiry and
// same-week early exercise.
const assignmentWindow = 3 * 24 * time.Hour

// Result is the reconstructed state for one analysis run. Positions and
// cycles are owned by the Reconstructor; downstream consumers hold
// read-only views.
type Result struct {
	Positions map[string]*models.Position     `json:"positions"`
	Cycles    map[string][]*models.WheelCycle `json:"cycles"`
}

// Reconstructor folds trades into per-symbol positions and wheel cycles.
type Reconstructor struct {
	logger *log.Logger
}

// NewReconstructor creates a reconstructor. A nil logger disables logging.
func NewReconstructor(logger *log.Logger) *Reconstructor {
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	return &Reconstructor{logger: logger}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Reconstruct processes trades in ascending timestamp order and returns the
// derived positions and cycles. Input order does not matter: sorting is an
// explicit precondition enforced here, not an assumption about the caller.
func (r *Reconstructor) Reconstruct(trades []models.Trade) (*Result, error) {
	ordered := make([]models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Time.Equal(ordered[j].Time) {
			return ordered[i].Time.Before(ordered[j].Time)
		}
		return ordered[i].ID < ordered[j].ID
	})

	res := &Result{
		Positions: make(map[string]*models.Position),
		Cycles:    make(map[string][]*models.WheelCycle),
	}

	var asOf time.Time
	for _, t := range ordered {
		pos := res.Positions[t.Symbol]
		if pos == nil {
			pos = models.NewPosition(t.Symbol)
			res.Positions[t.Symbol] = pos
		}
		if t.Time.After(asOf) {
			asOf = t.Time
		}

		var err error
		switch {
		case t.IsOption():
			err = r.applyOption(pos, res, t)
		case t.IsStock():
			err = r.applyStock(pos, t)
		default:
			err = fmt.Errorf("trade %s: unsupported asset class %s", t.ID, t.AssetClass)
		}
		if err != nil {
			return nil, err
		}
		pos.LastTradeAt = t.Time
	}

	r.expireFlatCycles(res, asOf)

	for sym, pos := range res.Positions {
		if err := pos.Validate(); err != nil {
			return nil, err
		}
		res.Cycles[sym] = append(pos.ClosedCycles[:0:0], pos.ClosedCycles...)
		res.Cycles[sym] = append(res.Cycles[sym], pos.OpenCycles...)
	}

	return res, nil
}

// applyOption folds one option leg into the symbol's cycle state.
func (r *Reconstructor) applyOption(pos *models.Position, res *Result, t models.Trade) error {
	cycle := pos.CurrentCycle()

	if t.Side == models.SideSell {
		if cycle == nil {
			// A premium sale with no open cycle opens one. This is the
			// only construction site for cycles, so a cycle can never
			// exist without its triggering trade.
			c, err := models.NewWheelCycle(t)
			if err != nil {
				return err
			}
			pos.OpenCycles = append(pos.OpenCycles, c)
			r.logger.Printf("%s: cycle %s opened by %s sale (premium %.2f)",
				t.Symbol, c.ID, t.Option.Right, t.AbsNetCash())
			return nil
		}
		condition := models.ConditionPutSold
		if t.Option.Right == models.RightCall {
			condition = models.ConditionCallSold
		}
		if err := cycle.Transition(cycle.State, condition); err != nil {
			return err
		}
		cycle.AddTrade(t)
		cycle.RecordPremium(t)
		return nil
	}

	// Closing buy of an option leg.
	if cycle == nil {
		// Buy-back with no tracked cycle: nothing to attribute. Seen when
		// history starts mid-cycle; surface it rather than inventing state.
		r.logger.Printf("%s: option buy %s with no open cycle, ignored for cycle accounting", t.Symbol, t.ID)
		return nil
	}
	if err := cycle.Transition(cycle.State, models.ConditionBoughtBack); err != nil {
		return err
	}
	cycle.AddTrade(t)
	cycle.RecordPremium(t)

	// All legs closed with no stock ever acquired: the cycle ends here with
	// net profit = premium collected minus fees.
	if cycle.State == models.StateOptionOpen && cycle.OpenContracts() <= 0 &&
		cycle.SharesAssigned == 0 && pos.Quantity == 0 {
		if err := cycle.Close(models.ConditionBoughtBack, t.Time); err != nil {
			return err
		}
		pos.CompleteCycle(cycle)
		r.logger.Printf("%s: cycle %s closed by buy-back, net profit %.2f", t.Symbol, cycle.ID, cycle.NetProfit)
	}
	return nil
}

// applyStock folds one stock leg into the position and, when a cycle is
// open, interprets the fill as assignment or calls-away.
func (r *Reconstructor) applyStock(pos *models.Position, t models.Trade) error {
	cycle := pos.CurrentCycle()

	if t.Side == models.SideBuy {
		qty := t.AbsQuantity()
		pos.ApplyBuy(qty, t.Price)

		// A stock buy reads as a put assignment only when it looks like one:
		// a whole contract-multiple fill that fits the open put contracts,
		// landing near the put's expiry. Ordinary market buys mid-cycle fall
		// through to plain position accounting. Partial fills on the same
		// expiry accumulate instead of opening duplicates.
		if cycle != nil {
			if leg, ok := cycle.OpenPutLeg(); ok && isAssignmentFill(cycle, leg, t, qty) {
				if err := cycle.Transition(models.StateAssigned, models.ConditionPutAssigned); err != nil {
					return err
				}
				cycle.AddTrade(t)
				cycle.RecordAssignment(leg.Option.Strike, qty)
				r.logger.Printf("%s: cycle %s assigned %.0f shares at %.2f (safe strike %.2f)",
					t.Symbol, cycle.ID, qty, leg.Option.Strike, cycle.SafeStrike)
			}
		}
		return nil
	}

	// Stock sell: realized P&L accrues against average cost.
	qty := t.AbsQuantity()
	realized := pos.ApplySell(qty, t.Price)

	if cycle != nil && cycle.State == models.StateAssigned {
		cycle.AddTrade(t)
		cycle.StockPnL += realized

		// The stock leg reaching zero after having been non-zero completes
		// the cycle.
		if pos.Quantity == 0 {
			condition := models.ConditionStockLiquidated
			if cycleHasSoldCall(cycle) {
				condition = models.ConditionCalledAway
			}
			if err := cycle.Close(condition, t.Time); err != nil {
				return err
			}
			pos.CompleteCycle(cycle)
			r.logger.Printf("%s: cycle %s completed (%s), net profit %.2f",
				t.Symbol, cycle.ID, condition, cycle.NetProfit)
		}
	}
	return nil
}

// expireFlatCycles closes option-open cycles whose every leg expired before
// the end of the trade stream without any stock being acquired.
func (r *Reconstructor) expireFlatCycles(res *Result, asOf time.Time) {
	if asOf.IsZero() {
		return
	}
	for _, pos := range res.Positions {
		cycle := pos.CurrentCycle()
		if cycle == nil || cycle.State != models.StateOptionOpen {
			continue
		}
		if cycle.SharesAssigned > 0 || pos.Quantity != 0 {
			continue
		}
		latest, ok := latestExpiry(cycle)
		if !ok || !latest.Before(asOf) {
			continue
		}
		if err := cycle.Close(models.ConditionExpiredFlat, latest); err != nil {
			r.logger.Printf("%s: failed to expire cycle %s: %v", pos.Symbol, cycle.ID, err)
			continue
		}
		pos.CompleteCycle(cycle)
		r.logger.Printf("%s: cycle %s expired worthless, net profit %.2f", pos.Symbol, cycle.ID, cycle.NetProfit)
	}
}

func latestExpiry(c *models.WheelCycle) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, t := range c.Trades {
		if t.Option == nil || t.Option.Expiry.IsZero() {
			continue
		}
		if t.Option.Expiry.After(latest) {
			latest = t.Option.Expiry
		}
		found = true
	}
	return latest, found
}

// isAssignmentFill decides whether a stock buy is a put assignment rather
// than an ordinary market purchase. Assignment fills arrive in whole
// contract-multiple sizes, never exceed the open put contracts, and land
// within the assignment window around the put's expiry.
func isAssignmentFill(cycle *models.WheelCycle, leg *models.Trade, t models.Trade, qty float64) bool {
	opt := leg.Option
	multiplier := opt.Multiplier
	if multiplier <= 0 {
		multiplier = models.DefaultMultiplier
	}
	if qty <= 0 || math.Mod(qty, multiplier) != 0 {
		return false
	}
	if cycle.SharesAssigned+qty > cycle.OpenPutContracts()*multiplier {
		return false
	}
	if opt.Expiry.IsZero() {
		return true
	}
	delta := t.Time.Sub(opt.Expiry)
	return delta >= -assignmentWindow && delta <= assignmentWindow
}

func cycleHasSoldCall(c *models.WheelCycle) bool {
	for _, t := range c.Trades {
		if t.Option != nil && t.Option.Right == models.RightCall && t.Side == models.SideSell {
			return true
		}
	}
	return false
}
