// Package broker provides the external position snapshot feed used to
// reconcile reconstructed positions against broker-reported ground truth.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
)

// ErrNoSnapshot is returned when the feed cannot supply a snapshot. The
// validator must treat this as a hard failure, never as an empty account.
var ErrNoSnapshot = errors.New("position snapshot unavailable")

// Feed fetches the broker's position snapshot, keyed by symbol.
type Feed interface {
	GetPositionSnapshot(ctx context.Context) (map[string]models.BrokerPosition, error)
}

// APIError is a non-2xx response from the snapshot endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("snapshot API error: status %d: %s", e.Status, e.Body)
}

const defaultTimeout = 10 * time.Second

// Client is an HTTP JSON client for a broker positions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	accountID  string
	httpClient *http.Client
}

// Ensure Client implements Feed at compile time.
var _ Feed = (*Client)(nil)

// NewClient creates a snapshot client.
func NewClient(baseURL, apiKey, accountID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithTimeout overrides the request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// positionsResponse mirrors the endpoint's wire shape.
type positionsResponse struct {
	Positions []positionItem `json:"positions"`
}

type positionItem struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

// GetPositionSnapshot fetches and decodes the account's positions.
func (c *Client) GetPositionSnapshot(ctx context.Context) (map[string]models.BrokerPosition, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/positions", c.baseURL, url.PathEscape(c.accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building snapshot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// APIError stays unwrappable so retry classification can read the
		// status code.
		return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	var decoded positionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrNoSnapshot, err)
	}

	snapshot := make(map[string]models.BrokerPosition, len(decoded.Positions))
	for _, p := range decoded.Positions {
		snapshot[p.Symbol] = models.BrokerPosition{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AvgCost:       p.AvgCost,
			MarketValue:   p.MarketValue,
			UnrealizedPnL: p.UnrealizedPnL,
			RealizedPnL:   p.RealizedPnL,
			AccountID:     c.accountID,
		}
	}
	return snapshot, nil
}

// StaticFeed serves a fixed snapshot (or error). Used by tests and dry runs.
type StaticFeed struct {
	Snapshot map[string]models.BrokerPosition
	Err      error
}

var _ Feed = (*StaticFeed)(nil)

// GetPositionSnapshot returns the configured snapshot or error.
func (s *StaticFeed) GetPositionSnapshot(_ context.Context) (map[string]models.BrokerPosition, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]models.BrokerPosition, len(s.Snapshot))
	for k, v := range s.Snapshot {
		out[k] = v
	}
	return out, nil
}
