package validation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/zombor/receipt-capture/internal/overlap"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
)

// Weights scale each score component. A zero weight drops the component.
type Weights struct {
	Overlap        float64 `json:"overlap" yaml:"overlap"`
	TotalAgreement float64 `json:"total_agreement" yaml:"total_agreement"`
	Completeness   float64 `json:"completeness" yaml:"completeness"`
}

// DefaultWeights weighs every component equally
func DefaultWeights() Weights {
	return Weights{Overlap: 1, TotalAgreement: 1, Completeness: 1}
}

// Config controls scoring and the extraction call
type Config struct {
	Weights Weights
	// MismatchTolerance is the relative difference between the item sum and
	// the grand total above which a high severity issue is raised.
	MismatchTolerance float64
	// ExtractTimeout bounds the field extraction call
	ExtractTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		MismatchTolerance: 0.05,
		ExtractTimeout:    60 * time.Second,
	}
}

// Result pairs the extracted record with its validation
type Result struct {
	Record *scanning.Record `json:"record"`
	Report *Report          `json:"report"`
}

// Engine extracts and validates the merged text of a completed session
type Engine struct {
	extractor scanning.FieldExtractor
	cfg       Config
}

// NewEngine creates a new Engine
func NewEngine(extractor scanning.FieldExtractor, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.MismatchTolerance <= 0 {
		cfg.MismatchTolerance = def.MismatchTolerance
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = def.ExtractTimeout
	}
	return &Engine{extractor: extractor, cfg: cfg}
}

// Finalize runs field extraction once over the merged lines and validates
// the result. The session must already be completed; a failed extraction
// leaves it that way and may be retried.
func (e *Engine) Finalize(ctx context.Context, s *session.ScanSession) (*Result, error) {
	if s.Status != session.StatusCompleted {
		return nil, fmt.Errorf("%w: session %s is %s, not completed", session.ErrInvalidState, s.ID, s.Status)
	}
	if s.ImageCount() == 0 {
		return nil, fmt.Errorf("%w: %s", session.ErrEmptySession, s.ID)
	}

	ectx, cancel := context.WithTimeout(ctx, e.cfg.ExtractTimeout)
	defer cancel()

	record, err := e.extractor.ExtractFields(ectx, s.MergedLines)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Error("Failed to extract receipt fields",
			"session_id", s.ID,
			"line_count", len(s.MergedLines),
			"error", err,
		)
		return nil, fmt.Errorf("%w: extracting fields: %w", scanning.ErrExtractionFailed, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: extractor returned no record", scanning.ErrExtractionFailed)
	}

	return &Result{
		Record: record,
		Report: e.Validate(s, record),
	}, nil
}

// Validate scores a record against the session it was extracted from.
func (e *Engine) Validate(s *session.ScanSession, record *scanning.Record) *Report {
	b := reportBuilder{recommendations: []string{}}

	itemsSum := 0.0
	for _, item := range record.Items {
		itemsSum += item.LineTotal
	}
	itemsSum = roundCents(itemsSum)

	// Totals
	diff := math.Abs(itemsSum - record.Total)
	relDiff := diff / math.Max(record.Total, 1)
	agreement := 1 - math.Min(1, relDiff)
	if relDiff > e.cfg.MismatchTolerance {
		b.issue(SeverityHigh, fmt.Sprintf("Line items add up to %.2f but the receipt total is %.2f", itemsSum, record.Total))
		b.recommend("Re-capture the item section; a line may have been dropped or duplicated between images")
	}
	if record.Total == 0 {
		b.issue(SeverityMedium, "No grand total was found on the receipt")
		b.recommend("Make sure the last image includes the grand total line")
	}

	// Captures
	for _, img := range s.Images {
		if img.Blank || (img.Overlap != nil && img.Overlap.Blank) {
			b.issue(SeverityMedium, fmt.Sprintf("Image %d contained no readable text", img.Index+1))
			b.recommend(fmt.Sprintf("Retake image %d with the receipt flat and well lit", img.Index+1))
		}
	}

	// Seams
	var overlapScore *float64
	if seams := s.ImageCount() - 1; seams > 0 {
		sum := 0.0
		for i, img := range s.Images[1:] {
			if img.Overlap == nil {
				continue
			}
			sum += img.Overlap.Confidence
			prev := s.Images[i]
			// A blank capture on either side is already reported above.
			if img.Blank || img.Overlap.Blank || prev.Blank {
				continue
			}
			if img.Overlap.QualityLevel == overlap.QualityFair || img.Overlap.QualityLevel == overlap.QualityPoor {
				n := img.Index // previous image, counted from 1
				b.issue(SeverityMedium, fmt.Sprintf("Weak overlap between image %d and %d (%s, confidence %.2f)", n, n+1, img.Overlap.QualityLevel, img.Overlap.Confidence))
				b.recommend(fmt.Sprintf("Re-capture the overlapping region between image %d and %d", n, n+1))
			}
		}
		mean := sum / float64(seams)
		overlapScore = &mean
	}

	// Items
	for _, item := range record.Items {
		if item.Quantity == 0 || item.UnitPrice == 0 {
			continue
		}
		if math.Abs(roundCents(item.Quantity*item.UnitPrice)-item.LineTotal) > 0.01 {
			b.issue(SeverityMedium, fmt.Sprintf("Item %q: %g x %.2f does not equal line total %.2f", item.Description, item.Quantity, item.UnitPrice, item.LineTotal))
			b.recommend(fmt.Sprintf("Check the quantity and price of %q", item.Description))
		}
	}

	// Required fields
	present := 0
	if record.Business.Name != "" {
		present++
	} else {
		b.issue(SeverityMedium, "Business name is missing")
		b.recommend("Include the top of the receipt so the store name is captured")
	}
	if record.Date != "" {
		present++
	} else {
		b.issue(SeverityMedium, "Transaction date is missing")
		b.recommend("Include the part of the receipt that shows the purchase date")
	}
	if len(record.Items) > 0 {
		present++
	} else {
		b.issue(SeverityMedium, "No line items were found")
		b.recommend("Check that the item section of the receipt was captured")
	}
	completeness := float64(present) / 3

	// Optional fields
	if record.Business.TaxID == "" {
		b.issue(SeverityLow, "Business tax ID is missing")
		b.recommend("If the receipt prints a tax ID, include it in a capture")
	}

	components := Components{
		Overlap:        overlapScore,
		TotalAgreement: agreement,
		Completeness:   completeness,
	}

	return &Report{
		OverallScore:    e.score(components),
		Issues:          b.sortedIssues(),
		Recommendations: b.recommendations,
		ItemsSum:        itemsSum,
		Total:           record.Total,
		Components:      components,
	}
}

func (e *Engine) score(c Components) float64 {
	w := e.cfg.Weights
	weighted := w.TotalAgreement*c.TotalAgreement + w.Completeness*c.Completeness
	totalWeight := w.TotalAgreement + w.Completeness
	if c.Overlap != nil {
		weighted += w.Overlap * *c.Overlap
		totalWeight += w.Overlap
	}
	if totalWeight <= 0 {
		return 0
	}
	return weighted / totalWeight
}

type reportBuilder struct {
	issues          []Issue
	recommendations []string
	seen            map[string]bool
}

func (b *reportBuilder) issue(severity Severity, message string) {
	b.issues = append(b.issues, Issue{Severity: severity, Message: message})
}

func (b *reportBuilder) recommend(text string) {
	if b.seen == nil {
		b.seen = make(map[string]bool)
	}
	if b.seen[text] {
		return
	}
	b.seen[text] = true
	b.recommendations = append(b.recommendations, text)
}

// sortedIssues orders issues from high to low severity, keeping discovery
// order within a severity.
func (b *reportBuilder) sortedIssues() []Issue {
	out := make([]Issue, 0, len(b.issues))
	for _, sev := range []Severity{SeverityHigh, SeverityMedium, SeverityLow} {
		for _, issue := range b.issues {
			if issue.Severity == sev {
				out = append(out, issue)
			}
		}
	}
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
