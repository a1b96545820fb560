package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CycleState represents the lifecycle state of a wheel cycle.
type CycleState string

const (
	// StateNoCycle means no cycle is open for the symbol.
	StateNoCycle CycleState = "no_cycle"
	// StateOptionOpen means a put or call has been sold but no stock was
	// acquired through this cycle yet.
	StateOptionOpen CycleState = "option_open"
	// StateAssigned means stock was acquired via put assignment and the
	// cycle is in its covered-call phase.
	StateAssigned CycleState = "assigned"
	// StateClosed means the cycle completed.
	StateClosed CycleState = "closed"
)

// Transition conditions.
const (
	ConditionPutSold         = "put_sold"
	ConditionCallSold        = "call_sold"
	ConditionPutAssigned     = "put_assigned"
	ConditionCalledAway      = "called_away"
	ConditionBoughtBack      = "bought_back"
	ConditionExpiredFlat     = "expired_flat"
	ConditionStockLiquidated = "stock_liquidated"
)

// CycleTransition defines one valid state transition.
type CycleTransition struct {
	From        CycleState
	To          CycleState
	Condition   string
	Description string
}

// ValidCycleTransitions enumerates every legal cycle transition.
var ValidCycleTransitions = []CycleTransition{
	// Opening
	{StateNoCycle, StateOptionOpen, ConditionPutSold, "Cash-secured put sold, cycle opened"},
	{StateNoCycle, StateOptionOpen, ConditionCallSold, "Covered call sold against held stock, cycle opened"},

	// Premium events while option-open
	{StateOptionOpen, StateOptionOpen, ConditionPutSold, "Additional put sold"},
	{StateOptionOpen, StateOptionOpen, ConditionCallSold, "Additional call sold"},
	{StateOptionOpen, StateOptionOpen, ConditionBoughtBack, "Option leg bought to close, cycle persists"},

	// Assignment into stock
	{StateOptionOpen, StateAssigned, ConditionPutAssigned, "Put assigned, stock acquired"},
	{StateAssigned, StateAssigned, ConditionPutAssigned, "Partial assignment accumulated into cycle"},

	// Covered-call phase
	{StateAssigned, StateAssigned, ConditionCallSold, "Covered call sold against assigned shares"},
	{StateAssigned, StateAssigned, ConditionPutSold, "Put sold while holding assigned shares"},
	{StateAssigned, StateAssigned, ConditionBoughtBack, "Option leg bought to close, stock still held"},

	// Completion
	{StateAssigned, StateClosed, ConditionCalledAway, "Covered call exercised, stock called away"},
	{StateAssigned, StateClosed, ConditionStockLiquidated, "Assigned shares sold, cycle completed"},
	{StateOptionOpen, StateClosed, ConditionExpiredFlat, "All legs expired worthless, no stock acquired"},
	{StateOptionOpen, StateClosed, ConditionBoughtBack, "Final leg bought back with no stock acquired"},
}

// WheelCycle is one iteration of the wheel strategy for a symbol: premium
// collection, optional assignment into stock, and eventual disposition.
type WheelCycle struct {
	ID               string     `json:"id"`
	Symbol           string     `json:"symbol"`
	State            CycleState `json:"state"`
	Trades           []Trade    `json:"trades"`
	PremiumCollected float64    `json:"premium_collected"`
	TotalFees        float64    `json:"total_fees"`
	AssignmentPrice  float64    `json:"assignment_price,omitempty"`
	SharesAssigned   float64    `json:"shares_assigned,omitempty"`
	SafeStrike       float64    `json:"safe_strike,omitempty"`
	StockPnL         float64    `json:"stock_pnl"` // realized stock P&L attributed to this cycle
	NetProfit        float64    `json:"net_profit"`
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         time.Time  `json:"closed_at,omitempty"`
}

// NewWheelCycle constructs a cycle from its triggering option sale. A cycle
// can only come into existence through a real premium-collecting trade; this
// is the guard against ghost active cycles.
func NewWheelCycle(opening Trade) (*WheelCycle, error) {
	if !opening.IsOption() {
		return nil, fmt.Errorf("cycle for %s: opening trade %s is not an option leg", opening.Symbol, opening.ID)
	}
	if opening.Side != SideSell {
		return nil, fmt.Errorf("cycle for %s: opening trade %s is not a sell", opening.Symbol, opening.ID)
	}
	c := &WheelCycle{
		ID:       uuid.New().String(),
		Symbol:   opening.Symbol,
		State:    StateOptionOpen,
		Trades:   []Trade{opening},
		OpenedAt: opening.Time,
	}
	c.PremiumCollected = opening.AbsNetCash()
	c.TotalFees = absFloat(opening.Commission)
	return c, nil
}

// Transition moves the cycle to a new state, validating against the
// transition table.
func (c *WheelCycle) Transition(to CycleState, condition string) error {
	for _, tr := range ValidCycleTransitions {
		if tr.From == c.State && tr.To == to && tr.Condition == condition {
			c.State = to
			return nil
		}
	}
	return fmt.Errorf("cycle %s: invalid transition from %s to %s with condition %q",
		c.ID, c.State, to, condition)
}

// Active reports whether the cycle is still open.
func (c *WheelCycle) Active() bool {
	return c.State == StateOptionOpen || c.State == StateAssigned
}

// AddTrade appends a contributing trade to the cycle.
func (c *WheelCycle) AddTrade(t Trade) {
	c.Trades = append(c.Trades, t)
}

// RecordPremium applies the premium and fee effect of an option leg: sells
// add the absolute net cash, closing buys subtract it, fees accumulate on
// both sides. Safe strike is refreshed if shares were assigned.
func (c *WheelCycle) RecordPremium(t Trade) {
	if t.Side == SideSell {
		c.PremiumCollected += t.AbsNetCash()
	} else {
		c.PremiumCollected -= t.AbsNetCash()
	}
	c.TotalFees += absFloat(t.Commission)
	c.RecomputeSafeStrike()
}

// RecordAssignment accumulates an assignment fill into the cycle. Partial
// assignments on the same expiry land in the same cycle rather than opening
// duplicates.
func (c *WheelCycle) RecordAssignment(price float64, shares float64) {
	c.AssignmentPrice = price
	c.SharesAssigned += shares
	c.RecomputeSafeStrike()
}

// RecomputeSafeStrike derives the breakeven floor: assignment price minus
// cumulative premium per assigned share.
func (c *WheelCycle) RecomputeSafeStrike() {
	if c.SharesAssigned <= 0 {
		c.SafeStrike = 0
		return
	}
	c.SafeStrike = c.AssignmentPrice - c.PremiumCollected/c.SharesAssigned
}

// Close completes the cycle and computes net profit from premium, attributed
// stock P&L, and fees.
func (c *WheelCycle) Close(condition string, at time.Time) error {
	if err := c.Transition(StateClosed, condition); err != nil {
		return err
	}
	c.ClosedAt = at
	c.NetProfit = c.PremiumCollected + c.StockPnL - c.TotalFees
	return nil
}

// OpenPutStrike returns the strike of the most recently sold put leg, used to
// price assignments. The second return is false when no put was sold.
func (c *WheelCycle) OpenPutStrike() (float64, bool) {
	leg, ok := c.OpenPutLeg()
	if !ok {
		return 0, false
	}
	return leg.Option.Strike, true
}

// OpenPutLeg returns the most recently sold put leg. The second return is
// false when no put was sold in this cycle.
func (c *WheelCycle) OpenPutLeg() (*Trade, bool) {
	for i := len(c.Trades) - 1; i >= 0; i-- {
		t := &c.Trades[i]
		if t.Option != nil && t.Option.Right == RightPut && t.Side == SideSell {
			return t, true
		}
	}
	return nil, false
}

// OpenPutContracts returns sold minus closed put contracts across all legs.
func (c *WheelCycle) OpenPutContracts() float64 {
	var open float64
	for _, t := range c.Trades {
		if t.Option == nil || t.Option.Right != RightPut {
			continue
		}
		if t.Side == SideSell {
			open += t.AbsQuantity()
		} else {
			open -= t.AbsQuantity()
		}
	}
	return open
}

// OpenContracts returns sold minus closed option contracts across all legs.
func (c *WheelCycle) OpenContracts() float64 {
	var open float64
	for _, t := range c.Trades {
		if !t.IsOption() {
			continue
		}
		if t.Side == SideSell {
			open += t.AbsQuantity()
		} else {
			open -= t.AbsQuantity()
		}
	}
	return open
}

// Duration returns how long the cycle has been (or was) open.
func (c *WheelCycle) Duration() time.Duration {
	if c.OpenedAt.IsZero() {
		return 0
	}
	end := c.ClosedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(c.OpenedAt)
}

// Validate ensures the cycle state is consistent with strong invariants.
func (c *WheelCycle) Validate() error {
	if c.Active() && len(c.Trades) == 0 {
		return fmt.Errorf("cycle %s for %s: active with zero contributing trades", c.ID, c.Symbol)
	}
	if c.TotalFees < 0 {
		return fmt.Errorf("cycle %s for %s: TotalFees cannot be negative (current: %.2f)", c.ID, c.Symbol, c.TotalFees)
	}
	if c.SharesAssigned < 0 {
		return fmt.Errorf("cycle %s for %s: SharesAssigned cannot be negative (current: %.2f)", c.ID, c.Symbol, c.SharesAssigned)
	}
	if c.State == StateAssigned && c.SharesAssigned == 0 {
		return fmt.Errorf("cycle %s for %s: assigned state with zero shares assigned", c.ID, c.Symbol)
	}
	if c.State == StateClosed && c.ClosedAt.IsZero() {
		return fmt.Errorf("cycle %s for %s: closed without a close timestamp", c.ID, c.Symbol)
	}
	if !c.ClosedAt.IsZero() && !c.OpenedAt.IsZero() && c.ClosedAt.Before(c.OpenedAt) {
		return fmt.Errorf("cycle %s for %s: ClosedAt (%v) precedes OpenedAt (%v)", c.ID, c.Symbol, c.ClosedAt, c.OpenedAt)
	}
	return nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
