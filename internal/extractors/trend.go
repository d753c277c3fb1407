package extractors

import (
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// TrendExtractor classifies the labelled TREND line.
type TrendExtractor struct{}

// NewTrendExtractor constructs a TrendExtractor.
func NewTrendExtractor() *TrendExtractor {
	return &TrendExtractor{}
}

// Extract returns bullish, bearish or neutral. A missing label is neutral.
func (e *TrendExtractor) Extract(doc *Document) models.Sentiment {
	idx, ok := doc.Find("TREND")
	if !ok {
		return models.SentimentNeutral
	}
	return classifyTrend(doc.LabelText(idx))
}

func classifyTrend(text string) models.Sentiment {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bullish"):
		return models.SentimentBullish
	case strings.Contains(lower, "bearish"):
		return models.SentimentBearish
	default:
		return models.SentimentNeutral
	}
}

// SentimentExtractor reads an explicit SENTIMENT or BIAS line.
type SentimentExtractor struct{}

// NewSentimentExtractor constructs a SentimentExtractor.
func NewSentimentExtractor() *SentimentExtractor {
	return &SentimentExtractor{}
}

// Extract returns the stated sentiment or falls back to trend.
func (e *SentimentExtractor) Extract(doc *Document, trend models.Sentiment) models.Sentiment {
	idx, ok := doc.Find("OVERALL SENTIMENT", "SENTIMENT", "BIAS", "OVERALL BIAS")
	if !ok {
		return trend
	}
	value := strings.ToLower(doc.LabelText(idx))
	switch {
	case containsAny(value, "mildly bullish", "slightly bullish", "moderately bullish"):
		return models.SentimentMildlyBullish
	case containsAny(value, "mildly bearish", "slightly bearish", "moderately bearish"):
		return models.SentimentMildlyBearish
	case strings.Contains(value, "bullish"):
		return models.SentimentBullish
	case strings.Contains(value, "bearish"):
		return models.SentimentBearish
	case strings.Contains(value, "neutral"):
		return models.SentimentNeutral
	}
	return trend
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
