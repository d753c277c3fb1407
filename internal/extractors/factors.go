package extractors

import (
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

type sentimentKeyword struct {
	word      string
	sentiment models.Sentiment
}

var factorKeywords = []sentimentKeyword{
	{"positive", models.SentimentBullish},
	{"bullish", models.SentimentBullish},
	{"negative", models.SentimentBearish},
	{"bearish", models.SentimentBearish},
	{"pressure", models.SentimentBearish},
	{"neutral", models.SentimentNeutral},
}

// FactorsExtractor turns indicator commentary into market factors.
type FactorsExtractor struct {
	maxFactors int
}

// NewFactorsExtractor constructs a FactorsExtractor.
func NewFactorsExtractor() *FactorsExtractor {
	return &FactorsExtractor{maxFactors: 10}
}

// Extract folds a single INDICATORS line into one factor. In the numbered
// format every keyword-bearing line of the factors section (or the whole text
// when there is none) becomes a factor.
func (e *FactorsExtractor) Extract(doc *Document) []models.MarketFactor {
	if doc.MultiSection() {
		return e.fromSections(doc)
	}

	idx, ok := doc.Find("INDICATOR", "TECHNICAL INDICATOR")
	if !ok {
		return []models.MarketFactor{}
	}
	description := strings.Join(doc.Block(idx), " ")
	if description == "" {
		return []models.MarketFactor{}
	}
	sentiment, _ := keywordSentiment(description)
	return []models.MarketFactor{{
		Name:        "Technical Indicators",
		Description: description,
		Sentiment:   sentiment,
	}}
}

func (e *FactorsExtractor) fromSections(doc *Document) []models.MarketFactor {
	lines := doc.Lines
	if section, ok := doc.SectionMatching("FACTOR", "FUNDAMENTAL", "DRIVER", "INDICATOR", "NEWS"); ok {
		lines = section.Lines
	}

	out := make([]models.MarketFactor, 0)
	for _, line := range lines {
		if len(out) >= e.maxFactors {
			break
		}
		if line.Heading {
			continue
		}
		sentiment, ok := keywordSentiment(line.Text)
		if !ok {
			continue
		}
		out = append(out, factorFromLine(line, sentiment))
	}
	return out
}

func factorFromLine(line Line, sentiment models.Sentiment) models.MarketFactor {
	text := stripListMarker(line.Text)
	if line.Label != "" && line.Value != "" {
		name := strings.TrimSpace(strings.SplitN(text, ":", 2)[0])
		return models.MarketFactor{Name: name, Description: line.Value, Sentiment: sentiment}
	}
	name := text
	if cut := strings.Index(text, " - "); cut > 0 {
		name = text[:cut]
		text = strings.TrimSpace(text[cut+3:])
	} else if words := strings.Fields(text); len(words) > 4 {
		name = strings.Join(words[:4], " ")
	}
	return models.MarketFactor{Name: name, Description: text, Sentiment: sentiment}
}

// keywordSentiment classifies by keyword priority: positive/bullish first,
// then negative/bearish/pressure, then neutral.
func keywordSentiment(text string) (models.Sentiment, bool) {
	lower := strings.ToLower(text)
	for _, kw := range factorKeywords {
		if strings.Contains(lower, kw.word) {
			return kw.sentiment, true
		}
	}
	return models.SentimentNeutral, false
}
