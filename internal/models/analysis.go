package models

import "time"

// Sentiment is the overall market bias reported for an analysis.
type Sentiment string

const (
	SentimentBullish       Sentiment = "bullish"
	SentimentBearish       Sentiment = "bearish"
	SentimentNeutral       Sentiment = "neutral"
	SentimentMildlyBullish Sentiment = "mildly bullish"
	SentimentMildlyBearish Sentiment = "mildly bearish"
)

// Direction marks whether a price level sits above (up) or below (down) price.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// SetupType is the side of a recommended trade.
type SetupType string

const (
	SetupLong    SetupType = "long"
	SetupShort   SetupType = "short"
	SetupNeutral SetupType = "neutral"
)

// AnalysisResult is the canonical output of one pipeline run.
type AnalysisResult struct {
	Pair             string         `json:"pair"`
	Timeframe        string         `json:"timeframe"`
	OverallSentiment Sentiment      `json:"overallSentiment"`
	ConfidenceScore  int            `json:"confidenceScore"`
	MarketAnalysis   string         `json:"marketAnalysis"`
	TrendDirection   Sentiment      `json:"trendDirection"`
	MarketFactors    []MarketFactor `json:"marketFactors"`
	ChartPatterns    []ChartPattern `json:"chartPatterns"`
	PriceLevels      []PriceLevel   `json:"priceLevels"`
	TradingSetup     *TradingSetup  `json:"tradingSetup,omitempty"`
}

// MarketFactor is one fundamental or technical driver mentioned by the provider.
type MarketFactor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Sentiment   Sentiment `json:"sentiment"`
}

// ChartPattern is a recognised chart formation.
type ChartPattern struct {
	Name       string    `json:"name"`
	Confidence int       `json:"confidence"`
	Signal     Sentiment `json:"signal"`
	Status     string    `json:"status,omitempty"`
}

// PriceLevel is a support or resistance level. Price keeps the provider's spelling.
type PriceLevel struct {
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Direction Direction `json:"direction"`
}

// TradingSetup is the recommended entry/stop/target plan.
type TradingSetup struct {
	Type        SetupType `json:"type"`
	Description string    `json:"description"`
	Confidence  int       `json:"confidence"`
	Entry       string    `json:"entry"`
	StopLoss    string    `json:"stopLoss"`
	Targets     []string  `json:"targets"`
	RiskReward  string    `json:"riskReward"`
}

// Normalize replaces nil slices with empty ones and clamps confidence values.
func (r AnalysisResult) Normalize() AnalysisResult {
	if r.MarketFactors == nil {
		r.MarketFactors = []MarketFactor{}
	}
	if r.ChartPatterns == nil {
		r.ChartPatterns = []ChartPattern{}
	}
	if r.PriceLevels == nil {
		r.PriceLevels = []PriceLevel{}
	}
	r.ConfidenceScore = ClampConfidence(r.ConfidenceScore)
	for i := range r.ChartPatterns {
		r.ChartPatterns[i].Confidence = ClampConfidence(r.ChartPatterns[i].Confidence)
	}
	if r.TradingSetup != nil {
		setup := *r.TradingSetup
		if setup.Targets == nil {
			setup.Targets = []string{}
		}
		setup.Confidence = ClampConfidence(setup.Confidence)
		r.TradingSetup = &setup
	}
	if r.OverallSentiment == "" {
		r.OverallSentiment = SentimentNeutral
	}
	if r.TrendDirection == "" {
		r.TrendDirection = SentimentNeutral
	}
	return r
}

// ClampConfidence bounds a confidence score to [0,100].
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Source records how an analysis was requested.
type Source string

const (
	SourceCapture Source = "capture"
	SourceSymbol  Source = "symbol"
)

// AnalysisRecord is a persisted analysis with its owner and display label.
type AnalysisRecord struct {
	ID        string         `json:"id"`
	SubjectID string         `json:"subjectId"`
	Display   string         `json:"display"`
	Source    Source         `json:"source"`
	CreatedAt time.Time      `json:"createdAt"`
	Result    AnalysisResult `json:"result"`
}
