package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/provider"
	"github.com/chartpilot/analysis-engine/internal/quota"
)

const fixture = "TREND: Strong bullish momentum\nSUPPORT:\n1. 1.0950\n2. 1.0900\nRESISTANCE:\n1. 1.1050\nPATTERN: Double bottom\nINDICATORS: RSI oversold"

type fakeGateway struct {
	calls atomic.Int32
	text  string
	err   error
	last  provider.Input
}

func (f *fakeGateway) Analyze(ctx context.Context, in provider.Input, opts provider.Options) (provider.Response, error) {
	f.calls.Add(1)
	f.last = in
	if f.err != nil {
		return provider.Response{}, f.err
	}
	return provider.Response{Text: f.text, Format: provider.FormatSingleShot, Model: "fake"}, nil
}

type fakeHistory struct {
	saved []models.AnalysisRecord
	err   error
}

func (f *fakeHistory) Save(ctx context.Context, subjectID, display string, source models.Source, result models.AnalysisResult) (models.AnalysisRecord, error) {
	if f.err != nil {
		return models.AnalysisRecord{}, f.err
	}
	record := models.AnalysisRecord{ID: "rec-1", SubjectID: subjectID, Display: display, Source: source, Result: result}
	f.saved = append(f.saved, record)
	return record, nil
}

type countingValidator struct {
	calls int
	err   error
}

func (v *countingValidator) Validate(a capture.Artifact, w, h int) (capture.Report, error) {
	v.calls++
	return capture.Report{}, v.err
}

func newManager(tier models.Tier) *quota.Manager {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	return quota.NewManager(quota.NewMemoryStore(), clk, nil, quota.StaticTiers{Default: tier}, nil)
}

func chartArtifact() *capture.Artifact {
	img := image.NewRGBA(image.Rect(0, 0, 120, 60))
	palette := []color.RGBA{
		{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}, {255, 255, 0, 255},
		{0, 255, 255, 255}, {255, 0, 255, 255}, {128, 128, 128, 255}, {255, 128, 0, 255},
		{128, 0, 255, 255}, {0, 128, 255, 255}, {200, 200, 200, 255}, {90, 200, 60, 255},
	}
	for y := 0; y < 60; y++ {
		for x := 0; x < 120; x++ {
			c := color.RGBA{8, 10, 14, 255}
			if y < 20 {
				c = palette[(x/10)%len(palette)]
			}
			img.SetRGBA(x, y, c)
		}
	}
	a := capture.FromImage(img)
	return &a
}

func expectStageError(t *testing.T, err error, stage Stage, reason Reason) {
	t.Helper()
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *StageError, got %v", err)
	}
	if stageErr.Stage != stage || stageErr.Reason != reason {
		t.Fatalf("expected %s/%s, got %s/%s", stage, reason, stageErr.Stage, stageErr.Reason)
	}
}

func TestPipelineChartHappyPath(t *testing.T) {
	gateway := &fakeGateway{text: fixture}
	history := &fakeHistory{}
	p := NewPipeline(nil, capture.NewValidator(capture.Thresholds{}, nil), newManager(models.TierFree), gateway, history, nil)

	outcome, err := p.Execute(context.Background(), Run{
		SubjectID: "user-1",
		Artifact:  chartArtifact(),
		Symbol:    "EUR/USD",
		Timeframe: "1h",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Stage{StageIdle, StageValidating, StageQuotaChecking, StageInvoking, StageParsing, StagePersisting, StageDone}
	if len(outcome.Transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, outcome.Transitions)
	}
	for i := range want {
		if outcome.Transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, outcome.Transitions)
		}
	}

	if outcome.Result.TrendDirection != models.SentimentBullish || len(outcome.Result.PriceLevels) != 3 {
		t.Fatalf("unexpected result %+v", outcome.Result)
	}
	if outcome.Usage.Feature != models.FeatureBasic || outcome.Usage.Daily.Count != 1 {
		t.Fatalf("expected one basic reservation, got %+v", outcome.Usage)
	}
	if outcome.Record == nil || history.saved[0].Display != "EUR/USD (1h)" || history.saved[0].Source != models.SourceCapture {
		t.Fatalf("unexpected persisted record %+v", history.saved)
	}
}

func TestPipelineSymbolSkipsValidation(t *testing.T) {
	validator := &countingValidator{}
	gateway := &fakeGateway{text: fixture}
	p := NewPipeline(nil, validator, newManager(models.TierFree), gateway, nil, nil)

	outcome, err := p.Execute(context.Background(), Run{SubjectID: "user-1", Symbol: "GBP/USD", Timeframe: "4h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.calls != 0 {
		t.Fatalf("symbol runs must not be validated")
	}
	if outcome.Transitions[1] != StageQuotaChecking {
		t.Fatalf("expected Idle -> QuotaChecking, got %v", outcome.Transitions)
	}
	if outcome.Usage.Feature != models.FeatureDeep {
		t.Fatalf("symbol runs meter deep analysis, got %s", outcome.Usage.Feature)
	}
	if gateway.last.Artifact != nil || gateway.last.Symbol != "GBP/USD" {
		t.Fatalf("unexpected provider input %+v", gateway.last)
	}
}

func TestPipelineValidationFailureStopsRun(t *testing.T) {
	validator := &countingValidator{err: &capture.RejectedError{Reason: capture.ReasonInsufficientContent}}
	gateway := &fakeGateway{text: fixture}
	manager := newManager(models.TierFree)
	p := NewPipeline(nil, validator, manager, gateway, nil, nil)

	_, err := p.Execute(context.Background(), Run{SubjectID: "user-1", Artifact: chartArtifact()})
	expectStageError(t, err, StageValidating, ReasonInsufficientContent)
	if !errors.Is(err, capture.ErrInsufficientContent) {
		t.Fatalf("expected capture sentinel in chain, got %v", err)
	}
	if gateway.calls.Load() != 0 {
		t.Fatalf("provider must not be called")
	}

	state, _ := manager.CheckLimits(context.Background(), "user-1", models.FeatureBasic)
	if state.Daily.Count != 0 {
		t.Fatalf("rejected capture must not consume quota, got %d", state.Daily.Count)
	}
}

func TestPipelineNeverCallsProviderWhenQuotaRejects(t *testing.T) {
	gateway := &fakeGateway{text: fixture}
	p := NewPipeline(nil, nil, newManager(models.TierFree), gateway, nil, nil)
	ctx := context.Background()

	if _, err := p.Execute(ctx, Run{SubjectID: "user-1", Symbol: "EUR/USD"}); err != nil {
		t.Fatalf("first run should succeed: %v", err)
	}
	outcome, err := p.Execute(ctx, Run{SubjectID: "user-1", Symbol: "EUR/USD"})
	expectStageError(t, err, StageQuotaChecking, ReasonQuotaExceeded)
	if !errors.Is(err, quota.ErrQuotaExceeded) {
		t.Fatalf("expected quota sentinel, got %v", err)
	}
	if gateway.calls.Load() != 1 {
		t.Fatalf("expected exactly one provider call, got %d", gateway.calls.Load())
	}
	if outcome.Usage.CanProceed || outcome.Usage.Daily.ResetAt.IsZero() {
		t.Fatalf("rejection should carry usage state, got %+v", outcome.Usage)
	}
	if last := outcome.Transitions[len(outcome.Transitions)-1]; last != StageFailed {
		t.Fatalf("expected Failed transition, got %v", outcome.Transitions)
	}
}

func TestPipelineProviderErrorsMapToReasons(t *testing.T) {
	cases := []struct {
		err    error
		reason Reason
	}{
		{&provider.Error{Kind: provider.ErrProviderUnavailable, Provider: "fake"}, ReasonProviderUnavailable},
		{&provider.Error{Kind: provider.ErrProviderRejected, Provider: "fake", StatusCode: 400}, ReasonProviderRejected},
		{&provider.Error{Kind: provider.ErrEmptyResponse, Provider: "fake"}, ReasonEmptyResponse},
		{context.Canceled, ReasonCancelled},
	}
	for _, tc := range cases {
		p := NewPipeline(nil, nil, newManager(models.TierPro), &fakeGateway{err: tc.err}, nil, nil)
		_, err := p.Execute(context.Background(), Run{SubjectID: "user-1", Symbol: "EUR/USD"})
		expectStageError(t, err, StageInvoking, tc.reason)
	}
}

func TestPipelinePersistenceFailureStillReturnsResult(t *testing.T) {
	history := &fakeHistory{err: errors.New("disk full")}
	manager := newManager(models.TierFree)
	p := NewPipeline(nil, nil, manager, &fakeGateway{text: fixture}, history, nil)

	outcome, err := p.Execute(context.Background(), Run{SubjectID: "user-1", Symbol: "EUR/USD", Timeframe: "1h"})
	if err != nil {
		t.Fatalf("persistence failure must not fail the run: %v", err)
	}
	if outcome.Result.TrendDirection != models.SentimentBullish {
		t.Fatalf("expected parsed result, got %+v", outcome.Result)
	}
	expectStageError(t, outcome.PersistWarning, StagePersisting, ReasonPersistenceError)
	if outcome.Record != nil {
		t.Fatalf("no record expected when save fails")
	}

	state, _ := manager.CheckLimits(context.Background(), "user-1", models.FeatureDeep)
	if state.Daily.Count != 1 {
		t.Fatalf("quota must stay consumed, got %d", state.Daily.Count)
	}
}

type cancellingGateway struct {
	cancel context.CancelFunc
}

func (g *cancellingGateway) Analyze(ctx context.Context, in provider.Input, opts provider.Options) (provider.Response, error) {
	g.cancel()
	return provider.Response{Text: fixture}, nil
}

func TestPipelineCancellationKeepsQuotaConsumed(t *testing.T) {
	manager := newManager(models.TierStarter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPipeline(nil, nil, manager, &cancellingGateway{cancel: cancel}, &fakeHistory{}, nil)
	_, err := p.Execute(ctx, Run{SubjectID: "user-1", Symbol: "EUR/USD"})
	expectStageError(t, err, StageParsing, ReasonCancelled)

	state, _ := manager.CheckLimits(context.Background(), "user-1", models.FeatureDeep)
	if state.Daily.Count != 1 {
		t.Fatalf("cancelled run must not refund quota, got %d", state.Daily.Count)
	}
}

func TestPipelineRejectsInvalidInput(t *testing.T) {
	p := NewPipeline(nil, nil, newManager(models.TierFree), &fakeGateway{text: fixture}, nil, nil)
	for _, run := range []Run{{Symbol: "EUR/USD"}, {SubjectID: "user-1"}} {
		_, err := p.Execute(context.Background(), run)
		expectStageError(t, err, StageIdle, ReasonInvalidInput)
	}
}

func TestDisplayLabel(t *testing.T) {
	cases := map[string]models.AnalysisResult{
		"EUR/USD (1h)": {Pair: "EUR/USD", Timeframe: "1h"},
		"EUR/USD":      {Pair: "EUR/USD"},
		"Chart (4h)":   {Timeframe: "4h"},
	}
	for want, result := range cases {
		if got := DisplayLabel(result); got != want {
			t.Errorf("DisplayLabel(%+v) = %q, want %q", result, got, want)
		}
	}
}
