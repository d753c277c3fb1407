package extractors

import (
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// defaultPatternConfidence is used because providers do not score patterns.
const defaultPatternConfidence = 70

var patternStatuses = map[string]struct{}{
	"forming":     {},
	"developing":  {},
	"emerging":    {},
	"completed":   {},
	"complete":    {},
	"confirmed":   {},
	"pending":     {},
	"breaking":    {},
	"invalidated": {},
}

// PatternExtractor reads the labelled PATTERN line.
type PatternExtractor struct {
	maxPatterns int
}

// NewPatternExtractor constructs a PatternExtractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{maxPatterns: 3}
}

// Extract returns at most one pattern for a labelled line. A numbered
// pattern section may list up to three, one per line.
func (e *PatternExtractor) Extract(doc *Document, trend models.Sentiment) []models.ChartPattern {
	idx, ok := doc.Find("PATTERN", "CHART PATTERN")
	if !ok {
		return []models.ChartPattern{}
	}

	candidates := []string{doc.Lines[idx].Value}
	if doc.Lines[idx].Value == "" {
		block := doc.Block(idx)
		if !doc.Lines[idx].Heading && len(block) > 1 {
			block = block[:1]
		}
		candidates = block
	}

	out := make([]models.ChartPattern, 0, 1)
	for _, candidate := range candidates {
		if len(out) >= e.maxPatterns {
			break
		}
		if p, ok := parsePattern(candidate, trend); ok {
			out = append(out, p)
		}
	}
	return out
}

func parsePattern(text string, trend models.Sentiment) (models.ChartPattern, bool) {
	text = stripListMarker(text)
	if text == "" || strings.Contains(strings.ToLower(text), "none") {
		return models.ChartPattern{}, false
	}

	name, status := splitStatus(text)
	if name == "" {
		return models.ChartPattern{}, false
	}
	return models.ChartPattern{
		Name:       name,
		Confidence: defaultPatternConfidence,
		Signal:     trend,
		Status:     status,
	}, true
}

// splitStatus separates a trailing status word such as "(forming)".
func splitStatus(text string) (string, string) {
	trimmed := strings.TrimRight(text, " .)")
	cut := strings.LastIndexAny(trimmed, " (-,")
	if cut < 0 {
		return strings.TrimSpace(text), ""
	}
	word := strings.ToLower(strings.TrimSpace(trimmed[cut+1:]))
	if _, ok := patternStatuses[word]; !ok {
		return strings.TrimRight(strings.TrimSpace(text), "."), ""
	}
	name := strings.TrimRight(strings.TrimSpace(trimmed[:cut]), " (-,:")
	return name, word
}
