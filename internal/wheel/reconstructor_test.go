package wheel

import (
	"testing"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func stockTrade(id, symbol string, side models.TradeSide, qty, price float64, at time.Time) models.Trade {
	netCash := -qty * price
	if side == models.SideSell {
		netCash = qty * price
		qty = -qty
	}
	return models.Trade{
		ID:         id,
		Symbol:     symbol,
		AssetClass: models.AssetStock,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		NetCash:    netCash,
		Time:       at,
	}
}

func optionTrade(id, symbol string, side models.TradeSide, right models.OptionRight, strike, netCash, commission float64, at, expiry time.Time) models.Trade {
	qty := 1.0
	if side == models.SideSell {
		qty = -1
	}
	return models.Trade{
		ID:         id,
		Symbol:     symbol,
		AssetClass: models.AssetOption,
		Side:       side,
		Quantity:   qty,
		NetCash:    netCash,
		Commission: commission,
		Time:       at,
		Option: &models.OptionDetail{
			Strike:     strike,
			Right:      right,
			Expiry:     expiry,
			Multiplier: models.DefaultMultiplier,
		},
	}
}

func TestReconstruct_StockOnlyPosition(t *testing.T) {
	trades := []models.Trade{
		stockTrade("1", "AAPL", models.SideBuy, 235, 170, base),
		stockTrade("2", "AAPL", models.SideSell, 200, 180, base.Add(time.Hour)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["AAPL"]
	require.NotNil(t, pos)
	assert.Equal(t, 35.0, pos.Quantity)
	assert.Equal(t, 170.0, pos.AvgCost)
	assert.InDelta(t, 2000.0, pos.RealizedPnL, 1e-9)
	assert.Empty(t, res.Cycles["AAPL"])
}

func TestReconstruct_PutSaleOpensCycle(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "AAPL", models.SideSell, models.RightPut, 165, 150, 1, base, expiry),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	cycles := res.Cycles["AAPL"]
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, models.StateOptionOpen, c.State)
	assert.Equal(t, 150.0, c.PremiumCollected)
	assert.Equal(t, 1.0, c.TotalFees)
	assert.NotEmpty(t, c.ID)
}

func TestReconstruct_AssignmentSetsSafeStrike(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		stockTrade("2", "X", models.SideBuy, 100, 50, expiry),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["X"]
	assert.Equal(t, 100.0, pos.Quantity)
	assert.Equal(t, 50.0, pos.AvgCost)

	cycles := res.Cycles["X"]
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, models.StateAssigned, c.State)
	assert.Equal(t, 100.0, c.SharesAssigned)
	assert.Equal(t, 50.0, c.AssignmentPrice)
	assert.InDelta(t, 50-150.0/100, c.SafeStrike, 1e-9)
}

func TestReconstruct_FullWheelCalledAway(t *testing.T) {
	putExpiry := base.AddDate(0, 1, 0)
	callExpiry := base.AddDate(0, 2, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, putExpiry),
		stockTrade("2", "X", models.SideBuy, 100, 50, putExpiry),
		optionTrade("3", "X", models.SideSell, models.RightCall, 52, 100, 1, putExpiry.Add(time.Hour), callExpiry),
		stockTrade("4", "X", models.SideSell, 100, 52, callExpiry),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["X"]
	assert.Equal(t, 0.0, pos.Quantity)
	require.Len(t, pos.ClosedCycles, 1)

	c := pos.ClosedCycles[0]
	assert.Equal(t, models.StateClosed, c.State)
	// Premium 250, stock gain (52-50)*100 = 200, fees 2.
	assert.InDelta(t, 200.0, c.StockPnL, 1e-9)
	assert.InDelta(t, 250.0+200.0-2.0, c.NetProfit, 1e-9)
	assert.False(t, c.ClosedAt.IsZero())
}

func TestReconstruct_LiquidationWithoutCallStillCloses(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		stockTrade("2", "X", models.SideBuy, 100, 50, expiry),
		stockTrade("3", "X", models.SideSell, 100, 47, expiry.AddDate(0, 0, 7)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["X"]
	require.Len(t, pos.ClosedCycles, 1)
	c := pos.ClosedCycles[0]
	assert.Equal(t, models.StateClosed, c.State)
	// Loss on stock partially offset by premium: 150 - 300 - 1.
	assert.InDelta(t, -300.0, c.StockPnL, 1e-9)
	assert.InDelta(t, 150.0-300.0-1.0, c.NetProfit, 1e-9)
}

func TestReconstruct_BuyBackClosesFlatCycle(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		optionTrade("2", "X", models.SideBuy, models.RightPut, 50, -40, 1, base.AddDate(0, 0, 10), expiry),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["X"]
	require.Len(t, pos.ClosedCycles, 1)
	assert.Empty(t, pos.OpenCycles)

	c := pos.ClosedCycles[0]
	assert.InDelta(t, 110.0, c.PremiumCollected, 1e-9)
	assert.InDelta(t, 110.0-2.0, c.NetProfit, 1e-9)
}

func TestReconstruct_PartialAssignmentsAccumulate(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	put := optionTrade("1", "X", models.SideSell, models.RightPut, 50, 300, 1, base, expiry)
	put.Quantity = -2
	trades := []models.Trade{
		put,
		stockTrade("2", "X", models.SideBuy, 100, 50, expiry),
		stockTrade("3", "X", models.SideBuy, 100, 50, expiry.Add(time.Minute)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	cycles := res.Cycles["X"]
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, 200.0, c.SharesAssigned)
	assert.InDelta(t, 50-300.0/200, c.SafeStrike, 1e-9)
}

func TestReconstruct_MidCycleMarketBuyIsNotAssignment(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		// A small market buy weeks before expiry must not read as an
		// assignment at the strike.
		stockTrade("2", "X", models.SideBuy, 10, 45, base.AddDate(0, 0, 7)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	pos := res.Positions["X"]
	assert.Equal(t, 10.0, pos.Quantity)
	assert.Equal(t, 45.0, pos.AvgCost)

	cycles := res.Cycles["X"]
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, models.StateOptionOpen, c.State)
	assert.Equal(t, 0.0, c.SharesAssigned)
	assert.Equal(t, 0.0, c.AssignmentPrice)
	assert.Equal(t, 0.0, c.SafeStrike)
}

func TestReconstruct_AssignmentGateRejectsMismatchedFills(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	tests := []struct {
		name string
		buy  models.Trade
	}{
		{
			name: "odd lot near expiry",
			buy:  stockTrade("2", "X", models.SideBuy, 37, 50, expiry),
		},
		{
			name: "oversized for open contracts",
			buy:  stockTrade("2", "X", models.SideBuy, 200, 50, expiry),
		},
		{
			name: "contract multiple far from expiry",
			buy:  stockTrade("2", "X", models.SideBuy, 100, 50, base.AddDate(0, 0, 5)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades := []models.Trade{
				optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
				tt.buy,
			}
			res, err := NewReconstructor(nil).Reconstruct(trades)
			require.NoError(t, err)

			cycles := res.Cycles["X"]
			require.Len(t, cycles, 1)
			assert.Equal(t, models.StateOptionOpen, cycles[0].State)
			assert.Equal(t, 0.0, cycles[0].SharesAssigned)
			// The shares still land in the position.
			assert.Equal(t, tt.buy.Quantity, res.Positions["X"].Quantity)
		})
	}
}

func TestReconstruct_ExpiredWorthlessCycle(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		// A later trade on another symbol advances the end of the stream
		// past the expiry.
		stockTrade("2", "Y", models.SideBuy, 10, 100, expiry.AddDate(0, 0, 5)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	cycles := res.Cycles["X"]
	require.Len(t, cycles, 1)
	c := cycles[0]
	assert.Equal(t, models.StateClosed, c.State)
	assert.InDelta(t, 150.0-1.0, c.NetProfit, 1e-9)
	assert.True(t, c.ClosedAt.Equal(expiry))
}

func TestReconstruct_OrderInsensitive(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		optionTrade("1", "X", models.SideSell, models.RightPut, 50, 150, 1, base, expiry),
		stockTrade("2", "X", models.SideBuy, 100, 50, expiry),
		stockTrade("3", "X", models.SideSell, 100, 52, expiry.AddDate(0, 0, 7)),
	}
	shuffled := []models.Trade{trades[2], trades[0], trades[1]}

	resA, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)
	resB, err := NewReconstructor(nil).Reconstruct(shuffled)
	require.NoError(t, err)

	assert.Equal(t, resA.Positions["X"].Quantity, resB.Positions["X"].Quantity)
	require.Len(t, resB.Cycles["X"], 1)
	assert.Equal(t, resA.Cycles["X"][0].State, resB.Cycles["X"][0].State)
	assert.InDelta(t, resA.Cycles["X"][0].NetProfit, resB.Cycles["X"][0].NetProfit, 1e-9)
}

func TestReconstruct_OrphanOptionBuyIgnored(t *testing.T) {
	trades := []models.Trade{
		optionTrade("1", "X", models.SideBuy, models.RightPut, 50, -40, 1, base, base.AddDate(0, 1, 0)),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)
	assert.Empty(t, res.Cycles["X"])
}

func TestReconstruct_ShareConservation(t *testing.T) {
	expiry := base.AddDate(0, 1, 0)
	trades := []models.Trade{
		stockTrade("1", "X", models.SideBuy, 235, 10, base),
		stockTrade("2", "X", models.SideSell, 200, 11, base.Add(time.Hour)),
		stockTrade("3", "X", models.SideBuy, 65, 9, expiry),
	}

	res, err := NewReconstructor(nil).Reconstruct(trades)
	require.NoError(t, err)

	var net float64
	for _, tr := range trades {
		if tr.Side == models.SideBuy {
			net += tr.AbsQuantity()
		} else {
			net -= tr.AbsQuantity()
		}
	}
	assert.Equal(t, net, res.Positions["X"].Quantity)
}
