package models

import (
	"fmt"
	"time"
)

// Position is the per-symbol running state derived from the trade stream.
// Quantity is always the signed sum of stock-leg trade quantities; average
// cost follows weighted-average-cost accounting and is unaffected by sells.
// Short stock is not modeled.
type Position struct {
	Symbol       string        `json:"symbol"`
	Quantity     float64       `json:"quantity"`
	AvgCost      float64       `json:"avg_cost"`
	RealizedPnL  float64       `json:"realized_pnl"`
	OpenCycles   []*WheelCycle `json:"open_cycles"`
	ClosedCycles []*WheelCycle `json:"closed_cycles"`
	LastTradeAt  time.Time     `json:"last_trade_at,omitempty"`
}

// NewPosition creates an empty position for a symbol.
func NewPosition(symbol string) *Position {
	return &Position{
		Symbol:       symbol,
		OpenCycles:   make([]*WheelCycle, 0),
		ClosedCycles: make([]*WheelCycle, 0),
	}
}

// ApplyBuy folds a stock buy into the position, recomputing the
// volume-weighted average cost.
func (p *Position) ApplyBuy(quantity, price float64) {
	if quantity <= 0 {
		return
	}
	total := p.Quantity + quantity
	if total > 0 {
		p.AvgCost = (p.AvgCost*p.Quantity + price*quantity) / total
	}
	p.Quantity = total
}

// ApplySell folds a stock sell into the position. Realized P&L accrues
// against the running average cost; average cost itself is untouched.
// The realized amount for this sell is returned for cycle attribution.
func (p *Position) ApplySell(quantity, price float64) float64 {
	if quantity <= 0 {
		return 0
	}
	realized := (price - p.AvgCost) * quantity
	p.RealizedPnL += realized
	p.Quantity -= quantity
	if p.Quantity <= 0 {
		p.Quantity = 0
		p.AvgCost = 0
	}
	return realized
}

// CurrentCycle returns the open cycle for the symbol, or nil.
func (p *Position) CurrentCycle() *WheelCycle {
	for _, c := range p.OpenCycles {
		if c.Active() {
			return c
		}
	}
	return nil
}

// CompleteCycle moves a cycle from the open set to the closed set.
func (p *Position) CompleteCycle(cycle *WheelCycle) {
	remaining := p.OpenCycles[:0]
	for _, c := range p.OpenCycles {
		if c.ID != cycle.ID {
			remaining = append(remaining, c)
		}
	}
	p.OpenCycles = remaining
	p.ClosedCycles = append(p.ClosedCycles, cycle)
}

// Validate checks position invariants.
func (p *Position) Validate() error {
	if p.Quantity < 0 {
		return fmt.Errorf("position %s: quantity cannot be negative (current: %.2f)", p.Symbol, p.Quantity)
	}
	if p.Quantity == 0 && p.AvgCost != 0 {
		return fmt.Errorf("position %s: flat position must carry zero average cost (current: %.4f)", p.Symbol, p.AvgCost)
	}
	for _, c := range p.OpenCycles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("position %s: %w", p.Symbol, err)
		}
		if !c.Active() {
			return fmt.Errorf("position %s: closed cycle %s listed as open", p.Symbol, c.ID)
		}
	}
	return nil
}
