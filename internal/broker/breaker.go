package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
	"github.com/sony/gobreaker"
)

// CircuitBreakerFeed wraps a Feed with circuit breaker functionality so a
// flapping snapshot endpoint fails fast instead of stalling every run.
type CircuitBreakerFeed struct {
	feed    Feed
	breaker *gobreaker.CircuitBreaker
}

var _ Feed = (*CircuitBreakerFeed)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerFeed creates a CircuitBreakerFeed with sensible defaults.
func NewCircuitBreakerFeed(feed Feed) *CircuitBreakerFeed {
	return NewCircuitBreakerFeedWithSettings(feed, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerFeedWithSettings creates a CircuitBreakerFeed with custom settings.
func NewCircuitBreakerFeedWithSettings(feed Feed, settings CircuitBreakerSettings) *CircuitBreakerFeed {
	gbSettings := gobreaker.Settings{
		Name:        "SnapshotFeedCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerFeed{
		feed:    feed,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetPositionSnapshot wraps the underlying feed call with the circuit breaker.
func (c *CircuitBreakerFeed) GetPositionSnapshot(ctx context.Context) (map[string]models.BrokerPosition, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.feed.GetPositionSnapshot(ctx)
	})
	if err != nil {
		return nil, err
	}
	snapshot, ok := res.(map[string]models.BrokerPosition)
	if !ok {
		return nil, errors.New("circuit breaker: type assertion failed")
	}
	return snapshot, nil
}
