package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eddiefleurent/wheeltracker/internal/broker"
	"github.com/eddiefleurent/wheeltracker/internal/config"
	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FlexQueryResponse queryName="wheel">
  <FlexStatements>
    <FlexStatement accountId="U1234567">
      <Trades>
        <Trade tradeID="1" dateTime="2024-03-04;10:00:00" symbol="AAPL  240621P00165000"
               underlyingSymbol="AAPL" assetCategory="OPT" currency="USD" quantity="-1"
               tradePrice="1.50" proceeds="150.00" ibCommission="-1.00" netCash="149.00"
               buySell="SELL" strike="165" expiry="2024-06-21" putCall="P" multiplier="100"/>
        <Trade tradeID="2" dateTime="2024-06-21;16:00:00" symbol="AAPL" assetCategory="STK"
               currency="USD" quantity="100" tradePrice="165" proceeds="-16500"
               ibCommission="-1.00" netCash="-16501" buySell="BUY"/>
        <Trade tradeID="3" dateTime="2024-06-24" symbol="AAPL" assetCategory="STK"
               quantity="bogus" tradePrice="1" netCash="-1" buySell="BUY"/>
      </Trades>
    </FlexStatement>
  </FlexStatements>
</FlexQueryResponse>`

func testConfig(t *testing.T, exportPath string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Environment.LogLevel = "error"
	cfg.Exports.Paths = []string{exportPath}
	return cfg
}

func writeExport(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flex.xml")
	require.NoError(t, os.WriteFile(path, []byte(exportDoc), 0o600))
	return path
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestRun_EndToEndWithoutFeed(t *testing.T) {
	path := writeExport(t)
	p := New(testConfig(t, path), nil, quietLogger())

	snap, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Len(t, snap.Trades, 2)
	assert.Equal(t, 1, snap.ParseStats.Skipped)
	assert.Nil(t, snap.Validation)

	cycles := snap.Cycles["AAPL"]
	require.Len(t, cycles, 1)
	assert.Equal(t, models.StateAssigned, cycles[0].State)
	assert.Equal(t, 100.0, cycles[0].SharesAssigned)

	sa := snap.Analytics["AAPL"]
	require.NotNil(t, sa)
	assert.InDelta(t, 149.0, sa.GrossIncome, 1e-9)

	// Too few buckets for the default minimum: forecasts absent, run intact.
	assert.Nil(t, snap.Weekly)
	assert.Nil(t, snap.Monthly)

	assert.Same(t, snap, p.Store().Snapshot())
	assert.Equal(t, 2, p.Store().TradeCount())
}

func TestRun_FeedSnapshotEnablesValidation(t *testing.T) {
	path := writeExport(t)
	feed := &broker.StaticFeed{
		Snapshot: map[string]models.BrokerPosition{
			"AAPL": {Symbol: "AAPL", Quantity: 100},
		},
	}
	p := New(testConfig(t, path), feed, quietLogger())

	snap, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)

	require.NotNil(t, snap.Validation)
	assert.Equal(t, 1, snap.Validation.OKCount)
	assert.Equal(t, 0, snap.Validation.CriticalCount)
}

func TestRun_FeedFailureBlocksRun(t *testing.T) {
	path := writeExport(t)
	feed := &broker.StaticFeed{Err: broker.ErrNoSnapshot}
	p := New(testConfig(t, path), feed, quietLogger())

	_, err := p.Run(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, errors.Is(err, broker.ErrNoSnapshot))
	assert.Nil(t, p.Store().Snapshot())
}

func TestRun_MissingExportFileIsError(t *testing.T) {
	cfg := testConfig(t, "/nope/flex.xml")
	p := New(cfg, nil, quietLogger())

	_, err := p.Run(context.Background(), []string{"/nope/flex.xml"})
	require.Error(t, err)
}

func TestRun_RerunWithoutResetDeduplicates(t *testing.T) {
	path := writeExport(t)
	p := New(testConfig(t, path), nil, quietLogger())

	first, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, first.Trades, 2)

	second, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Empty(t, second.Trades)
	assert.Equal(t, 2, second.ParseStats.Duplicates)

	p.Reset()
	third, err := p.Run(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Len(t, third.Trades, 2)
}
