package api

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chartpilot/analysis-engine/internal/engine"
	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/utils"
)

// ChartRequestBody is the wire shape of AnalyzeChart. Image is base64 in JSON.
type ChartRequestBody struct {
	SubjectID      string `json:"subjectId"`
	Image          []byte `json:"image,omitempty"`
	SnapshotURL    string `json:"snapshotUrl,omitempty"`
	ExpectedWidth  int    `json:"expectedWidth,omitempty"`
	ExpectedHeight int    `json:"expectedHeight,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
	Timeframe      string `json:"timeframe,omitempty"`
}

// SymbolRequestBody is the wire shape of AnalyzeSymbol.
type SymbolRequestBody struct {
	SubjectID string `json:"subjectId"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe,omitempty"`
}

// SubjectRequestBody carries the subject for read-only calls.
type SubjectRequestBody struct {
	SubjectID string `json:"subjectId"`
	ID        string `json:"id,omitempty"`
	Pair      string `json:"pair,omitempty"`
	Before    string `json:"before,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

// AnalysisResponse is returned by both analyze calls.
type AnalysisResponse struct {
	ID        string                `json:"id,omitempty"`
	Display   string                `json:"display"`
	CreatedAt string                `json:"createdAt,omitempty"`
	Result    models.AnalysisResult `json:"result"`
	Usage     models.UsageState     `json:"usage"`
	Provider  string                `json:"provider,omitempty"`
	Model     string                `json:"model,omitempty"`
	Warning   string                `json:"warning,omitempty"`
}

// UsageResponse lists both quota features.
type UsageResponse struct {
	Usage []models.UsageState `json:"usage"`
}

// HistoryResponse is a page of history records.
type HistoryResponse struct {
	Records       []models.AnalysisRecord `json:"records"`
	NextPageToken string                  `json:"nextPageToken,omitempty"`
}

// PatternsResponse lists aggregated patterns.
type PatternsResponse struct {
	Patterns []models.PatternStat `json:"patterns"`
}

// ToChartRequest maps the wire body into the service request.
func (b ChartRequestBody) ToChartRequest() models.ChartRequest {
	return models.ChartRequest{
		SubjectID:      b.SubjectID,
		Image:          b.Image,
		SnapshotURL:    b.SnapshotURL,
		ExpectedWidth:  b.ExpectedWidth,
		ExpectedHeight: b.ExpectedHeight,
		Symbol:         b.Symbol,
		Timeframe:      b.Timeframe,
	}
}

// ToSymbolRequest maps the wire body into the service request.
func (b SymbolRequestBody) ToSymbolRequest() models.SymbolRequest {
	return models.SymbolRequest{SubjectID: b.SubjectID, Symbol: b.Symbol, Timeframe: b.Timeframe}
}

// ToListHistoryRequest maps the wire body into a history query.
func (b SubjectRequestBody) ToListHistoryRequest() (models.ListHistoryRequest, error) {
	before, err := utils.OptionalRFC3339(b.Before)
	if err != nil {
		return models.ListHistoryRequest{}, fmt.Errorf("before: %w", err)
	}
	return models.ListHistoryRequest{
		SubjectID: b.SubjectID,
		Pair:      b.Pair,
		Before:    before,
		PageSize:  b.PageSize,
		PageToken: b.PageToken,
	}, nil
}

// NewAnalysisResponse flattens a pipeline outcome.
func NewAnalysisResponse(outcome engine.Outcome) AnalysisResponse {
	resp := AnalysisResponse{
		Display:  engine.DisplayLabel(outcome.Result),
		Result:   outcome.Result,
		Usage:    outcome.Usage,
		Provider: outcome.Response.Provider,
		Model:    outcome.Response.Model,
	}
	if outcome.Record != nil {
		resp.ID = outcome.Record.ID
		resp.Display = outcome.Record.Display
		resp.CreatedAt = outcome.Record.CreatedAt.Format(time.RFC3339Nano)
	}
	if outcome.PersistWarning != nil {
		resp.Warning = "analysis completed but could not be saved to history"
	}
	return resp
}

// decodeStruct converts a structpb request into a wire body via JSON.
func decodeStruct(in *structpb.Struct, out any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// encodeStruct converts a response value into a structpb message via JSON.
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return out, nil
}
