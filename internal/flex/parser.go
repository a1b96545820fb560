// Package flex decodes broker Flex XML trade exports into canonical trades.
package flex

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
)

// Date layouts used by Flex exports. DateTime embeds the time after a
// semicolon delimiter.
const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02;15:04:05"
)

// ParseResult is the outcome of one parse invocation. Skipped counts
// malformed records dropped from the batch; DateFallbacks counts records
// whose timestamp had to fall back to the invocation time; Duplicates counts
// records discarded because their trade ID was already ingested.
type ParseResult struct {
	Trades        []models.Trade
	Skipped       int
	DateFallbacks int
	Duplicates    int
}

// Parser decodes Flex export documents and deduplicates trades by broker
// trade ID. The dedup cache spans Parse calls on the same Parser so
// re-ingesting an export has no economic effect; Clear resets it.
// Construct one Parser per analysis run; there is no shared global instance.
type Parser struct {
	mu   sync.Mutex
	seen map[string]struct{}
	now  func() time.Time
}

// NewParser creates a parser with an empty dedup cache.
func NewParser() *Parser {
	return &Parser{
		seen: make(map[string]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the fallback clock. Used by tests.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// Clear resets the cross-invocation dedup cache.
func (p *Parser) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[string]struct{})
}

// ParseFile decodes a single export file.
func (p *Parser) ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a user-provided export file path
	if err != nil {
		return nil, fmt.Errorf("opening export file: %w", err)
	}
	defer func() { _ = f.Close() }()
	res, err := p.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing export file %s: %w", path, err)
	}
	return res, nil
}

// Parse decodes one export document. Malformed individual records are
// skipped and counted, never fatal to the batch. A document that is not
// valid XML at all is an error.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	var doc flexQueryResponse
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding flex document: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res := &ParseResult{}
	for _, stmt := range doc.Statements {
		for _, raw := range stmt.Trades {
			trade, fellBack, err := p.convert(raw)
			if err != nil {
				res.Skipped++
				continue
			}
			if _, dup := p.seen[trade.ID]; dup {
				res.Duplicates++
				continue
			}
			p.seen[trade.ID] = struct{}{}
			if fellBack {
				res.DateFallbacks++
			}
			res.Trades = append(res.Trades, trade)
		}
	}
	return res, nil
}

// convert turns one raw record into a canonical trade. The bool result
// reports whether the timestamp fell back to the invocation time.
func (p *Parser) convert(raw flexTrade) (models.Trade, bool, error) {
	var zero models.Trade

	id := strings.TrimSpace(raw.TradeID)
	if id == "" {
		return zero, false, fmt.Errorf("record missing trade ID")
	}

	class := models.AssetClass(strings.ToUpper(strings.TrimSpace(raw.AssetCategory)))
	if !class.Valid() {
		return zero, false, fmt.Errorf("trade %s: unknown asset category %q", id, raw.AssetCategory)
	}

	side, err := parseSide(raw.BuySell)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: %w", id, err)
	}

	qty, err := parseNumber(raw.Quantity)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: quantity: %w", id, err)
	}
	price, err := parseNumber(raw.Price)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: price: %w", id, err)
	}
	// Proceeds and commission may be absent on some record variants; treat
	// empty as zero but still reject garbage content.
	proceeds, err := parseOptionalNumber(raw.Proceeds)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: proceeds: %w", id, err)
	}
	commission, err := parseOptionalNumber(raw.Commission)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: commission: %w", id, err)
	}
	netCash, err := parseNumber(raw.NetCash)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: net cash: %w", id, err)
	}

	// Empty or missing dates fall back to the invocation time. This is a
	// data-quality condition, not a parse failure; a date with content
	// that fails both layouts still rejects the record.
	when, fellBack, err := p.parseWhen(raw.DateTime)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: %w", id, err)
	}
	tradeDate, _, err := p.parseWhen(raw.TradeDate)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: trade date: %w", id, err)
	}
	reportDate, _, err := p.parseWhen(raw.ReportDate)
	if err != nil {
		return zero, false, fmt.Errorf("trade %s: report date: %w", id, err)
	}

	rawSymbol := strings.TrimSpace(raw.Symbol)
	if rawSymbol == "" {
		return zero, false, fmt.Errorf("trade %s: missing symbol", id)
	}

	t := models.Trade{
		ID:         id,
		RawSymbol:  rawSymbol,
		Symbol:     rawSymbol,
		AssetClass: class,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Proceeds:   proceeds,
		Commission: commission,
		NetCash:    netCash,
		Currency:   strings.TrimSpace(raw.Currency),
		Time:       when,
		TradeDate:  tradeDate,
		ReportDate: reportDate,
	}

	if class == models.AssetOption || class == models.AssetFuturesOption {
		opt, underlying, err := p.convertOption(raw, rawSymbol)
		if err != nil {
			return zero, false, fmt.Errorf("trade %s: %w", id, err)
		}
		t.Option = opt
		t.Symbol = underlying
	}

	return t, fellBack, nil
}

func (p *Parser) convertOption(raw flexTrade, rawSymbol string) (*models.OptionDetail, string, error) {
	strike, err := parseNumber(raw.Strike)
	if err != nil {
		return nil, "", fmt.Errorf("strike: %w", err)
	}
	var right models.OptionRight
	switch strings.ToUpper(strings.TrimSpace(raw.PutCall)) {
	case "P", "PUT":
		right = models.RightPut
	case "C", "CALL":
		right = models.RightCall
	default:
		return nil, "", fmt.Errorf("invalid put/call flag %q", raw.PutCall)
	}
	expiry, _, err := p.parseWhen(raw.Expiry)
	if err != nil {
		return nil, "", fmt.Errorf("expiry: %w", err)
	}

	multiplier := models.DefaultMultiplier
	if strings.TrimSpace(raw.Multiplier) != "" {
		m, err := parseNumber(raw.Multiplier)
		if err != nil {
			return nil, "", fmt.Errorf("multiplier: %w", err)
		}
		if m > 0 {
			multiplier = m
		}
	}

	underlying := strings.TrimSpace(raw.UnderlyingSymbol)
	if underlying == "" {
		underlying = UnderlyingFromContract(rawSymbol)
	}

	return &models.OptionDetail{
		Strike:     strike,
		Expiry:     expiry,
		Right:      right,
		Multiplier: multiplier,
	}, underlying, nil
}

// parseWhen parses a date in either fixed layout. Empty input falls back to
// the invocation clock and flags the fallback.
func (p *Parser) parseWhen(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return p.now(), true, nil
	}
	if t, err := time.ParseInLocation(dateTimeLayout, s, time.Local); err == nil {
		return t, false, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, time.Local); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("unparseable date %q", s)
}

// parseNumber parses a float and rejects NaN/Inf so a single poisoned value
// cannot leak into downstream sums.
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

func parseOptionalNumber(s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return parseNumber(s)
}

func parseSide(s string) (models.TradeSide, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return models.SideBuy, nil
	case "SELL":
		return models.SideSell, nil
	default:
		return "", fmt.Errorf("invalid buy/sell flag %q", s)
	}
}

// UnderlyingFromContract strips the contract suffix from a raw option symbol.
// OPRA-style symbols embed a six-digit YYMMDD expiry after the ticker:
// AAPL240621C00190000 -> AAPL. Flex symbols may pad the ticker with spaces.
func UnderlyingFromContract(symbol string) string {
	if i := strings.IndexByte(symbol, ' '); i > 0 {
		return symbol[:i]
	}
	for i := 1; i <= len(symbol)-6; i++ {
		if isAllDigits(symbol[i : i+6]) {
			return symbol[:i]
		}
	}
	return symbol
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// flexQueryResponse mirrors the hierarchical Flex export document.
type flexQueryResponse struct {
	XMLName    xml.Name        `xml:"FlexQueryResponse"`
	QueryName  string          `xml:"queryName,attr"`
	Statements []flexStatement `xml:"FlexStatements>FlexStatement"`
}

type flexStatement struct {
	AccountID string      `xml:"accountId,attr"`
	Trades    []flexTrade `xml:"Trades>Trade"`
}

type flexTrade struct {
	TradeID          string `xml:"tradeID,attr"`
	DateTime         string `xml:"dateTime,attr"`
	TradeDate        string `xml:"tradeDate,attr"`
	ReportDate       string `xml:"reportDate,attr"`
	Symbol           string `xml:"symbol,attr"`
	UnderlyingSymbol string `xml:"underlyingSymbol,attr"`
	AssetCategory    string `xml:"assetCategory,attr"`
	Currency         string `xml:"currency,attr"`
	Quantity         string `xml:"quantity,attr"`
	Price            string `xml:"tradePrice,attr"`
	Proceeds         string `xml:"proceeds,attr"`
	Commission       string `xml:"ibCommission,attr"`
	NetCash          string `xml:"netCash,attr"`
	BuySell          string `xml:"buySell,attr"`
	Strike           string `xml:"strike,attr"`
	Expiry           string `xml:"expiry,attr"`
	PutCall          string `xml:"putCall,attr"`
	Multiplier       string `xml:"multiplier,attr"`
}
