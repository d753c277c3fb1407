package models

import "time"

// ChartRequest asks for analysis of a rendered chart image.
type ChartRequest struct {
	SubjectID string
	// Image holds PNG or JPEG bytes. SnapshotURL is used when Image is empty.
	Image          []byte
	SnapshotURL    string
	ExpectedWidth  int
	ExpectedHeight int
	Symbol         string
	Timeframe      string
}

// SymbolRequest asks for analysis of a currency pair without an image.
type SymbolRequest struct {
	SubjectID string
	Symbol    string
	Timeframe string
}

// ListHistoryRequest captures filters for a subject's analysis history.
type ListHistoryRequest struct {
	SubjectID string
	Pair      string
	Before    time.Time
	PageSize  int
	PageToken string
}

// ListHistoryResponse contains history records and pagination state.
type ListHistoryResponse struct {
	Records       []AnalysisRecord
	NextPageToken string
}

// PatternStat aggregates one chart pattern across a subject's history.
type PatternStat struct {
	Name          string    `json:"name"`
	Occurrences   int       `json:"occurrences"`
	Bullish       int       `json:"bullish"`
	Bearish       int       `json:"bearish"`
	AvgConfidence float64   `json:"avgConfidence"`
	Pairs         []string  `json:"pairs"`
	LastSeen      time.Time `json:"lastSeen"`
}
