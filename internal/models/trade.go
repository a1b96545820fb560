// Package models provides data structures and state management for wheel
// strategy tracking: trades, positions, and wheel cycles.
package models

import (
	"math"
	"time"
)

// DefaultMultiplier is the contract multiplier for standard equity options.
const DefaultMultiplier = 100.0

// AssetClass identifies the instrument category of a trade.
type AssetClass string

const (
	// AssetStock represents a common stock execution.
	AssetStock AssetClass = "STK"
	// AssetOption represents an equity option execution.
	AssetOption AssetClass = "OPT"
	// AssetFuturesOption represents an option on a futures contract.
	AssetFuturesOption AssetClass = "FOP"
)

// Valid returns true if the AssetClass is one of the defined constants.
func (a AssetClass) Valid() bool {
	switch a {
	case AssetStock, AssetOption, AssetFuturesOption:
		return true
	default:
		return false
	}
}

// TradeSide is the direction of an execution.
type TradeSide string

const (
	// SideBuy is a buy execution.
	SideBuy TradeSide = "BUY"
	// SideSell is a sell execution.
	SideSell TradeSide = "SELL"
)

// OptionRight distinguishes puts from calls.
type OptionRight string

const (
	// RightPut is a put contract.
	RightPut OptionRight = "P"
	// RightCall is a call contract.
	RightCall OptionRight = "C"
)

// OptionDetail carries the option-only fields of a trade. It is nil on stock
// trades so strike/expiry are never read off a stock execution.
type OptionDetail struct {
	Strike     float64     `json:"strike"`
	Expiry     time.Time   `json:"expiry"`
	Right      OptionRight `json:"right"`
	Multiplier float64     `json:"multiplier"`
}

// Trade is an immutable executed transaction decoded from a broker export.
// ID is the broker-assigned trade identifier and the global dedup key.
type Trade struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`     // underlying symbol
	RawSymbol  string        `json:"raw_symbol"` // contract symbol as exported
	AssetClass AssetClass    `json:"asset_class"`
	Side       TradeSide     `json:"side"`
	Quantity   float64       `json:"quantity"` // signed by side
	Price      float64       `json:"price"`
	Proceeds   float64       `json:"proceeds"`
	Commission float64       `json:"commission"`
	NetCash    float64       `json:"net_cash"`
	Currency   string        `json:"currency"`
	Time       time.Time     `json:"time"` // order time; fallback-filled when export omits it
	TradeDate  time.Time     `json:"trade_date"`
	ReportDate time.Time     `json:"report_date"`
	Option     *OptionDetail `json:"option,omitempty"`
}

// IsOption reports whether the trade is an option or futures-option leg.
func (t *Trade) IsOption() bool {
	return t.AssetClass == AssetOption || t.AssetClass == AssetFuturesOption
}

// IsStock reports whether the trade is a stock leg.
func (t *Trade) IsStock() bool {
	return t.AssetClass == AssetStock
}

// AbsQuantity returns the unsigned execution size.
func (t *Trade) AbsQuantity() float64 {
	return math.Abs(t.Quantity)
}

// AbsNetCash returns the unsigned net cash moved by the execution.
func (t *Trade) AbsNetCash() float64 {
	return math.Abs(t.NetCash)
}

// ContractShares returns the share count implied by an option execution
// (contracts times multiplier). Returns 0 for stock trades.
func (t *Trade) ContractShares() float64 {
	if t.Option == nil {
		return 0
	}
	m := t.Option.Multiplier
	if m <= 0 {
		m = DefaultMultiplier
	}
	return t.AbsQuantity() * m
}

// BrokerPosition is one entry of the externally supplied position snapshot
// used for reconciliation. It is ground truth as reported by the broker.
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	AccountID     string  `json:"account_id"`
}
