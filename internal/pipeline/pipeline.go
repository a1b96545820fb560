// Package pipeline wires the analysis stages together: parse exports, fetch
// the broker snapshot, reconstruct cycles, aggregate analytics, reconcile,
// and forecast.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/analytics"
	"github.com/eddiefleurent/wheeltracker/internal/broker"
	"github.com/eddiefleurent/wheeltracker/internal/cache"
	"github.com/eddiefleurent/wheeltracker/internal/config"
	"github.com/eddiefleurent/wheeltracker/internal/flex"
	"github.com/eddiefleurent/wheeltracker/internal/forecast"
	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/eddiefleurent/wheeltracker/internal/validate"
	"github.com/eddiefleurent/wheeltracker/internal/wheel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs one full analysis. All stages are constructor-injected; no
// package-level singletons.
type Pipeline struct {
	parser     *flex.Parser
	recon      *wheel.Reconstructor
	engine     *analytics.Engine
	validator  *validate.Validator
	forecaster *forecast.Engine
	feed       broker.Feed
	store      *cache.Store
	logger     *logrus.Logger
}

// New builds a pipeline from config. A nil feed disables reconciliation.
func New(cfg *config.Config, feed broker.Feed, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	stdlog := log.New(logger.Writer(), "", 0)
	return &Pipeline{
		parser: flex.NewParser(),
		recon:  wheel.NewReconstructor(stdlog),
		engine: analytics.NewEngine(),
		validator: validate.NewValidator(validate.Thresholds{
			CriticalShares: cfg.Validator.CriticalShares,
			WarningShares:  cfg.Validator.WarningShares,
			CriticalPct:    cfg.Validator.CriticalPct,
			WarningPct:     cfg.Validator.WarningPct,
		}, stdlog),
		forecaster: forecast.NewEngine(forecast.Config{
			MinHistory:   cfg.Forecast.MinHistory,
			Horizon:      cfg.Forecast.Horizon,
			Confidence:   cfg.Forecast.Confidence,
			SeasonPeriod: cfg.Forecast.SeasonPeriod,
		}),
		feed:   feed,
		store:  cache.NewStore(),
		logger: logger,
	}
}

// Store exposes the result cache for serving layers.
func (p *Pipeline) Store() *cache.Store {
	return p.store
}

// Reset clears all cached state from previous runs.
func (p *Pipeline) Reset() {
	p.parser.Clear()
	p.store.Clear()
}

// Run executes one analysis over the given export files. Reading exports and
// fetching the broker snapshot are the only I/O-bound steps and run
// concurrently; everything downstream is synchronous pure computation.
func (p *Pipeline) Run(ctx context.Context, exportPaths []string) (*cache.AnalysisSnapshot, error) {
	var (
		trades     []models.Trade
		parseStats cache.ParseStats
		snapshot   map[string]models.BrokerPosition
		snapErr    error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for _, path := range exportPaths {
			res, err := p.parser.ParseFile(path)
			if err != nil {
				return err
			}
			trades = append(trades, res.Trades...)
			parseStats.Skipped += res.Skipped
			parseStats.DateFallbacks += res.DateFallbacks
			parseStats.Duplicates += res.Duplicates
		}
		return nil
	})

	if p.feed != nil {
		g.Go(func() error {
			// A feed failure must not abort parsing; it blocks only the
			// reconciliation view, and is surfaced after the join.
			snapshot, snapErr = p.feed.GetPositionSnapshot(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingesting exports: %w", err)
	}

	if parseStats.Skipped > 0 {
		p.logger.WithField("skipped", parseStats.Skipped).Warn("some export records were malformed and skipped")
	}
	if parseStats.DateFallbacks > 0 {
		p.logger.WithField("fallbacks", parseStats.DateFallbacks).Warn("records with missing dates used the invocation time")
	}

	result, err := p.recon.Reconstruct(trades)
	if err != nil {
		return nil, fmt.Errorf("reconstructing cycles: %w", err)
	}

	snap := &cache.AnalysisSnapshot{
		Trades:     trades,
		Cycles:     result.Cycles,
		Analytics:  p.engine.PerSymbol(trades, result.Cycles),
		Statistics: p.engine.ComputeStatistics(result.Cycles),
		ParseStats: parseStats,
	}

	if p.feed != nil {
		if snapErr != nil {
			// The validator cannot invent an external snapshot; the
			// reconciliation view fails explicitly rather than showing a
			// false all-ok state.
			return nil, fmt.Errorf("fetching position snapshot: %w", snapErr)
		}
		snap.Validation = p.validator.Validate(result.Positions, snapshot)
	}

	allCycles := flattenCycles(result.Cycles)
	if weekly, err := p.forecaster.Forecast(p.engine.Aggregate(trades, allCycles, analytics.IntervalWeekly), analytics.IntervalWeekly); err == nil {
		snap.Weekly = weekly
	} else if !errors.Is(err, forecast.ErrInsufficientHistory) {
		return nil, fmt.Errorf("weekly forecast: %w", err)
	} else {
		p.logger.WithError(err).Info("weekly forecast unavailable")
	}
	if monthly, err := p.forecaster.Forecast(p.engine.Aggregate(trades, allCycles, analytics.IntervalMonthly), analytics.IntervalMonthly); err == nil {
		snap.Monthly = monthly
	} else if !errors.Is(err, forecast.ErrInsufficientHistory) {
		return nil, fmt.Errorf("monthly forecast: %w", err)
	} else {
		p.logger.WithError(err).Info("monthly forecast unavailable")
	}

	snap.GeneratedAt = time.Now().UTC()

	p.store.PutTrades(trades)
	p.store.SetSnapshot(snap)
	return snap, nil
}

func flattenCycles(bySymbol map[string][]*models.WheelCycle) []*models.WheelCycle {
	var all []*models.WheelCycle
	for _, cycles := range bySymbol {
		all = append(all, cycles...)
	}
	return all
}
