package extractors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

const (
	// Used when the provider states no numeric confidence.
	singleShotConfidence   = 75
	multiSectionConfidence = 85
)

var confidencePattern = regexp.MustCompile(`(?i)\bconfidence(?:\s+(?:score|level))?\s*[:=]\s*(\d{1,3})\s*(?:%|/\s*100)?`)

var summaryLabels = []string{
	"SUMMARY", "EXECUTIVE SUMMARY", "MARKET SUMMARY", "ANALYSIS",
	"MARKET ANALYSIS", "OVERVIEW", "MARKET OVERVIEW",
}

// ConfidenceExtractor reads an explicit confidence score.
type ConfidenceExtractor struct{}

// NewConfidenceExtractor constructs a ConfidenceExtractor.
func NewConfidenceExtractor() *ConfidenceExtractor {
	return &ConfidenceExtractor{}
}

// Extract returns the stated confidence clamped to [0,100], else the
// format's default.
func (e *ConfidenceExtractor) Extract(doc *Document) int {
	if m := confidencePattern.FindStringSubmatch(doc.Raw); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return models.ClampConfidence(v)
		}
	}
	if doc.MultiSection() {
		return multiSectionConfidence
	}
	return singleShotConfidence
}

// SummaryExtractor finds the free-text market analysis.
type SummaryExtractor struct{}

// NewSummaryExtractor constructs a SummaryExtractor.
func NewSummaryExtractor() *SummaryExtractor {
	return &SummaryExtractor{}
}

// Extract returns the SUMMARY/ANALYSIS block, an overview section, or a placeholder.
func (e *SummaryExtractor) Extract(doc *Document, pair, timeframe string) string {
	for i, line := range doc.Lines {
		if !isSummaryLabel(line.Label) {
			continue
		}
		if text := strings.Join(doc.Block(i), " "); text != "" {
			return text
		}
	}
	if section, ok := doc.SectionMatching("OVERVIEW", "SUMMARY"); ok && len(section.Lines) > 0 {
		parts := make([]string, 0, len(section.Lines))
		for _, line := range section.Lines {
			parts = append(parts, stripListMarker(line.Text))
		}
		return strings.Join(parts, " ")
	}
	return placeholderSummary(pair, timeframe)
}

func isSummaryLabel(label string) bool {
	for _, l := range summaryLabels {
		if label == l {
			return true
		}
	}
	return false
}

func placeholderSummary(pair, timeframe string) string {
	subject := "the submitted chart"
	if pair != "" {
		subject = pair
		if timeframe != "" {
			subject = fmt.Sprintf("%s on the %s timeframe", pair, timeframe)
		}
	}
	return fmt.Sprintf("No written market analysis was returned for %s.", subject)
}
