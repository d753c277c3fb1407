// Package extractors turns free-form provider text into an AnalysisResult.
// Each field has its own extractor so a change in provider phrasing degrades
// one field rather than the whole result.
package extractors

import (
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// Context carries request labels the text may omit.
type Context struct {
	Symbol    string
	Timeframe string
}

// Parser composes the field extractors.
type Parser struct {
	trend      *TrendExtractor
	sentiment  *SentimentExtractor
	levels     *LevelsExtractor
	patterns   *PatternExtractor
	factors    *FactorsExtractor
	setup      *SetupExtractor
	confidence *ConfidenceExtractor
	summary    *SummaryExtractor
}

// NewParser constructs a Parser with the default extractors.
func NewParser() *Parser {
	return &Parser{
		trend:      NewTrendExtractor(),
		sentiment:  NewSentimentExtractor(),
		levels:     NewLevelsExtractor(),
		patterns:   NewPatternExtractor(),
		factors:    NewFactorsExtractor(),
		setup:      NewSetupExtractor(),
		confidence: NewConfidenceExtractor(),
		summary:    NewSummaryExtractor(),
	}
}

var defaultParser = NewParser()

// Parse runs the default parser.
func Parse(raw string, ctx Context) models.AnalysisResult {
	return defaultParser.Parse(raw, ctx)
}

// Parse is total: unrecognised text yields defaults, never an error.
func (p *Parser) Parse(raw string, ctx Context) models.AnalysisResult {
	doc := NewDocument(raw)

	pair := strings.TrimSpace(ctx.Symbol)
	if pair == "" {
		pair = labelValue(doc, "PAIR", "SYMBOL", "INSTRUMENT")
	}
	timeframe := strings.TrimSpace(ctx.Timeframe)
	if timeframe == "" {
		timeframe = labelValue(doc, "TIMEFRAME", "TIME FRAME")
	}

	trend := p.trend.Extract(doc)
	confidence := p.confidence.Extract(doc)

	result := models.AnalysisResult{
		Pair:             pair,
		Timeframe:        timeframe,
		OverallSentiment: p.sentiment.Extract(doc, trend),
		ConfidenceScore:  confidence,
		MarketAnalysis:   p.summary.Extract(doc, pair, timeframe),
		TrendDirection:   trend,
		MarketFactors:    p.factors.Extract(doc),
		ChartPatterns:    p.patterns.Extract(doc, trend),
		PriceLevels:      p.levels.Extract(doc),
		TradingSetup:     p.setup.Extract(doc, trend, confidence),
	}
	return result.Normalize()
}

func labelValue(doc *Document, keys ...string) string {
	for _, line := range doc.Lines {
		for _, key := range keys {
			if line.Label == key && line.Value != "" {
				return line.Value
			}
		}
	}
	return ""
}
