package extractors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/chartpilot/analysis-engine/internal/models"
)

const (
	defaultRiskReward = "1:2"
	maxTargets        = 3
	price             = `(\d+(?:,\d{3})*(?:\.\d+)?)`
)

var (
	entryPattern      = regexp.MustCompile(`(?i)\bentry(?:\s+(?:price|zone|point|level))?\s*[:@=-]?\s*(?:at\s+|around\s+|near\s+)?` + price)
	stopPattern       = regexp.MustCompile(`(?i)\bstop(?:[\s-]*loss)?\s*[:@=-]?\s*(?:at\s+|below\s+|above\s+)?` + price)
	targetPattern     = regexp.MustCompile(`(?i)\b(?:take[\s-]*profit|targets?|tp)(?:\s*\d(?:\s|:))?\s*[:@=-]?\s*(?:at\s+)?` + price + `((?:\s*(?:,|/|and)\s*\d+(?:,\d{3})*(?:\.\d+)?)*)`)
	riskRewardPattern = regexp.MustCompile(`(?i)(?:risk\s*[/-]?\s*(?:to\s*)?[/-]?\s*reward|\br\s*[:/]\s*r\b|\brr\b)(?:\s*ratio)?\s*[:=]?\s*(?:of\s+)?(\d+(?:\.\d+)?\s*:\s*\d+(?:\.\d+)?)`)
)

// SetupExtractor builds a trading setup from entry, stop and target prices.
type SetupExtractor struct{}

// NewSetupExtractor constructs a SetupExtractor.
func NewSetupExtractor() *SetupExtractor {
	return &SetupExtractor{}
}

// Extract returns nil unless an entry, a stop and at least one target are found.
func (e *SetupExtractor) Extract(doc *Document, trend models.Sentiment, confidence int) *models.TradingSetup {
	entry, stop, targets := tripleLine(doc)
	if entry == "" {
		entry, stop, targets = keywordPrices(doc.Raw)
	}
	if entry == "" || stop == "" || len(targets) == 0 {
		return nil
	}

	setup := &models.TradingSetup{
		Type:       setupType(trend),
		Confidence: confidence,
		Entry:      entry,
		StopLoss:   stop,
		Targets:    targets,
		RiskReward: defaultRiskReward,
	}
	if m := riskRewardPattern.FindStringSubmatch(doc.Raw); m != nil {
		setup.RiskReward = strings.ReplaceAll(m[1], " ", "")
	}
	if idx, ok := doc.Find("TRADE SETUP", "SETUP", "RECOMMENDATION", "TRADE IDEA"); ok && doc.Lines[idx].Value != "" {
		setup.Description = doc.Lines[idx].Value
	} else {
		setup.Description = fmt.Sprintf("%s setup: entry %s, stop %s, target %s",
			titleCase(string(setup.Type)), entry, stop, strings.Join(targets, " / "))
	}
	return setup
}

// tripleLine reads a line labelled like "ENTRY/STOP/TARGET: a / b / c".
func tripleLine(doc *Document) (string, string, []string) {
	for _, line := range doc.Lines {
		if !strings.Contains(line.Label, "ENTRY") || !strings.Contains(line.Label, "STOP") || !strings.Contains(line.Label, "TARGET") {
			continue
		}
		if entryPattern.MatchString(line.Value) {
			return keywordPrices(line.Value)
		}
		tokens := priceToken.FindAllString(line.Value, 2+maxTargets)
		if len(tokens) >= 3 {
			return tokens[0], tokens[1], tokens[2:]
		}
	}
	return "", "", nil
}

func keywordPrices(text string) (string, string, []string) {
	var entry, stop string
	if m := entryPattern.FindStringSubmatch(text); m != nil {
		entry = m[1]
	}
	if m := stopPattern.FindStringSubmatch(text); m != nil {
		stop = m[1]
	}
	var targets []string
	for _, m := range targetPattern.FindAllStringSubmatch(text, -1) {
		targets = append(targets, m[1])
		targets = append(targets, priceToken.FindAllString(m[2], -1)...)
		if len(targets) >= maxTargets {
			break
		}
	}
	if len(targets) > maxTargets {
		targets = targets[:maxTargets]
	}
	return entry, stop, targets
}

func setupType(trend models.Sentiment) models.SetupType {
	switch trend {
	case models.SentimentBullish, models.SentimentMildlyBullish:
		return models.SetupLong
	case models.SentimentBearish, models.SentimentMildlyBearish:
		return models.SetupShort
	default:
		return models.SetupNeutral
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
