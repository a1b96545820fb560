package broker

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
)

// RetryConfig bounds the retry loop around snapshot fetches.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultRetryConfig is the standard retry envelope.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// RetryFeed wraps a Feed with bounded, jittered exponential backoff on
// transient failures.
type RetryFeed struct {
	feed   Feed
	logger *log.Logger
	config RetryConfig
}

var _ Feed = (*RetryFeed)(nil)

// NewRetryFeed creates a retrying feed wrapper.
func NewRetryFeed(feed Feed, logger *log.Logger, config ...RetryConfig) *RetryFeed {
	cfg := DefaultRetryConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(discardWriter{}, "", 0)
	}
	return &RetryFeed{feed: feed, logger: logger, config: cfg}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// GetPositionSnapshot fetches the snapshot, retrying transient failures.
func (r *RetryFeed) GetPositionSnapshot(ctx context.Context) (map[string]models.BrokerPosition, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if fetchCtx.Err() != nil {
			return nil, fmt.Errorf("snapshot fetch timed out after %v: %w", r.config.Timeout, fetchCtx.Err())
		}

		snapshot, err := r.feed.GetPositionSnapshot(fetchCtx)
		if err == nil {
			return snapshot, nil
		}

		lastErr = err
		r.logger.Printf("Snapshot fetch attempt %d/%d failed: %v", attempt+1, r.config.MaxRetries+1, err)

		if isTransientError(err) && attempt < r.config.MaxRetries {
			select {
			case <-time.After(backoff):
				backoff = r.nextBackoff(backoff)
			case <-fetchCtx.Done():
				return nil, fmt.Errorf("snapshot fetch timed out during backoff: %w", fetchCtx.Err())
			}
		} else {
			break
		}
	}

	return nil, fmt.Errorf("failed to fetch snapshot after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}

func (r *RetryFeed) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

// isTransientError classifies failures worth retrying. Permanent API errors
// (4xx other than 429) are not.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 {
			return false
		}
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
