// Package validate reconciles reconstructed positions against the broker's
// externally reported position snapshot.
package validate

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/wheeltracker/internal/models"
)

// Severity grades a per-symbol discrepancy.
type Severity string

const (
	// SeverityOK means calculated and external quantities match exactly.
	SeverityOK Severity = "ok"
	// SeverityMinor is any non-zero discrepancy below the warning bounds.
	SeverityMinor Severity = "minor"
	// SeverityWarning is a discrepancy of at least the warning bounds.
	SeverityWarning Severity = "warning"
	// SeverityCritical is a discrepancy of at least the critical bounds.
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for report sorting, worst first.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityMinor:
		return 2
	default:
		return 3
	}
}

// Result is the comparison outcome for one symbol.
type Result struct {
	Symbol         string   `json:"symbol"`
	Calculated     float64  `json:"calculated"`
	External       float64  `json:"external"`
	Discrepancy    float64  `json:"discrepancy"`
	DiscrepancyPct float64  `json:"discrepancy_pct"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// Report is the full reconciliation outcome, sorted worst-severity first.
type Report struct {
	GeneratedAt   time.Time `json:"generated_at"`
	Results       []Result  `json:"results"`
	OKCount       int       `json:"ok_count"`
	MinorCount    int       `json:"minor_count"`
	WarningCount  int       `json:"warning_count"`
	CriticalCount int       `json:"critical_count"`
}

// Fix is a proposed quantity correction. Callers must require explicit
// confirmation before applying one.
type Fix struct {
	Symbol           string  `json:"symbol"`
	CurrentQuantity  float64 `json:"current_quantity"`
	ProposedQuantity float64 `json:"proposed_quantity"`
	Reason           string  `json:"reason"`
}

// Thresholds bound the severity grading.
type Thresholds struct {
	CriticalShares float64
	WarningShares  float64
	CriticalPct    float64
	WarningPct     float64
}

// DefaultThresholds match the documented grading: critical at 100 shares or
// 100%, warning at 10 shares or 10%.
var DefaultThresholds = Thresholds{
	CriticalShares: 100,
	WarningShares:  10,
	CriticalPct:    100,
	WarningPct:     10,
}

// Validator compares calculated positions with the broker snapshot.
type Validator struct {
	thresholds Thresholds
	logger     *log.Logger
	now        func() time.Time
}

// NewValidator creates a validator. Zero-valued thresholds fall back to the
// defaults; a nil logger disables logging.
func NewValidator(thresholds Thresholds, logger *log.Logger) *Validator {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	if logger == nil {
		logger = log.New(discard{}, "", 0)
	}
	return &Validator{
		thresholds: thresholds,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Validate produces the reconciliation report for a calculated position map
// against the external snapshot. The snapshot must have been fetched
// successfully; callers propagate feed failures instead of calling in with
// invented data.
func (v *Validator) Validate(calculated map[string]*models.Position, external map[string]models.BrokerPosition) *Report {
	report := &Report{GeneratedAt: v.now()}

	symbols := make(map[string]struct{}, len(calculated)+len(external))
	for s := range calculated {
		symbols[s] = struct{}{}
	}
	for s := range external {
		symbols[s] = struct{}{}
	}

	for sym := range symbols {
		var calcQty float64
		pos, inCalc := calculated[sym]
		if inCalc {
			calcQty = pos.Quantity
		}
		ext, inExt := external[sym]

		switch {
		case inCalc && !inExt && calcQty != 0:
			r := v.score(sym, calcQty, 0)
			r.Severity = SeverityCritical
			r.Message = fmt.Sprintf("%s: position of %.0f shares calculated but absent from broker snapshot", sym, calcQty)
			r.Suggestions = []string{
				"verify the export covers the full trade history for this symbol",
				"confirm the broker account in the snapshot matches the export source",
			}
			report.Results = append(report.Results, r)
		case !inCalc && inExt && ext.Quantity != 0:
			r := v.score(sym, 0, ext.Quantity)
			r.Severity = SeverityWarning
			r.Message = fmt.Sprintf("%s: broker reports %.0f shares but no trades were ingested for the symbol", sym, ext.Quantity)
			r.Suggestions = []string{
				"check whether the export omits this symbol's trades",
				"re-run ingestion with a wider export date range",
			}
			report.Results = append(report.Results, r)
		default:
			report.Results = append(report.Results, v.compare(sym, calcQty, ext.Quantity))
		}
	}

	sort.Slice(report.Results, func(i, j int) bool {
		ri, rj := report.Results[i], report.Results[j]
		if severityRank(ri.Severity) != severityRank(rj.Severity) {
			return severityRank(ri.Severity) < severityRank(rj.Severity)
		}
		return ri.Symbol < rj.Symbol
	})

	for _, r := range report.Results {
		switch r.Severity {
		case SeverityOK:
			report.OKCount++
		case SeverityMinor:
			report.MinorCount++
		case SeverityWarning:
			report.WarningCount++
		case SeverityCritical:
			report.CriticalCount++
		}
	}

	v.logger.Printf("validation: %d symbols, %d critical, %d warning, %d minor, %d ok",
		len(report.Results), report.CriticalCount, report.WarningCount, report.MinorCount, report.OKCount)
	return report
}

// compare grades one symbol present on both sides (or absent-but-zero).
func (v *Validator) compare(sym string, calcQty, extQty float64) Result {
	r := v.score(sym, calcQty, extQty)
	switch {
	case r.Discrepancy == 0:
		r.Severity = SeverityOK
		r.Message = fmt.Sprintf("%s: quantities match (%.0f shares)", sym, calcQty)
	case r.Discrepancy >= v.thresholds.CriticalShares || r.DiscrepancyPct >= v.thresholds.CriticalPct:
		r.Severity = SeverityCritical
		r.Message = v.direction(sym, calcQty, extQty)
		r.Suggestions = []string{"re-ingest the full trade history", "inspect skipped-record counts from parsing"}
	case r.Discrepancy >= v.thresholds.WarningShares || r.DiscrepancyPct >= v.thresholds.WarningPct:
		r.Severity = SeverityWarning
		r.Message = v.direction(sym, calcQty, extQty)
		r.Suggestions = []string{"check for partial fills or corporate actions missing from the export"}
	default:
		r.Severity = SeverityMinor
		r.Message = v.direction(sym, calcQty, extQty)
	}
	return r
}

// score computes discrepancy figures. Discrepancy is symmetric in magnitude:
// swapping calculated and external flips only the implied sign of the
// difference, never the reported value, which is always >= 0.
func (v *Validator) score(sym string, calcQty, extQty float64) Result {
	disc := math.Abs(calcQty - extQty)
	var pct float64
	switch {
	case extQty != 0:
		pct = disc / math.Abs(extQty) * 100
	case disc != 0:
		pct = 100
	}
	return Result{
		Symbol:         sym,
		Calculated:     calcQty,
		External:       extQty,
		Discrepancy:    disc,
		DiscrepancyPct: pct,
	}
}

func (v *Validator) direction(sym string, calcQty, extQty float64) string {
	if calcQty < extQty {
		return fmt.Sprintf("%s: calculated quantity %.0f is lower than broker-reported %.0f", sym, calcQty, extQty)
	}
	return fmt.Sprintf("%s: calculated quantity %.0f is higher than broker-reported %.0f", sym, calcQty, extQty)
}

// ProposeFixes returns the external quantity as the corrected value for every
// critical and warning result. Nothing is applied here; the caller owns
// confirmation.
func (v *Validator) ProposeFixes(report *Report) []Fix {
	var fixes []Fix
	for _, r := range report.Results {
		if r.Severity != SeverityCritical && r.Severity != SeverityWarning {
			continue
		}
		fixes = append(fixes, Fix{
			Symbol:           r.Symbol,
			CurrentQuantity:  r.Calculated,
			ProposedQuantity: r.External,
			Reason:           fmt.Sprintf("adopt broker-reported quantity (%s discrepancy of %.0f shares)", r.Severity, r.Discrepancy),
		})
	}
	return fixes
}
