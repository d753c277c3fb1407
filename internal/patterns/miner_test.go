package patterns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chartpilot/analysis-engine/internal/models"
)

func record(pair string, at time.Time, patterns ...models.ChartPattern) models.AnalysisRecord {
	return models.AnalysisRecord{
		CreatedAt: at,
		Result:    models.AnalysisResult{Pair: pair, ChartPatterns: patterns},
	}
}

func TestMineAggregatesPatterns(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	records := []models.AnalysisRecord{
		record("EUR/USD", now,
			models.ChartPattern{Name: "Bull Flag", Confidence: 80, Signal: models.SentimentBullish},
			models.ChartPattern{Name: "Double Top", Confidence: 60, Signal: models.SentimentBearish}),
		record("GBP/USD", now.Add(time.Hour),
			models.ChartPattern{Name: "bull flag ", Confidence: 60, Signal: models.SentimentMildlyBullish}),
		record("EUR/USD", now.Add(-time.Hour),
			models.ChartPattern{Name: "Bull Flag", Confidence: 70, Signal: models.SentimentNeutral},
			models.ChartPattern{Name: "", Confidence: 10}),
	}

	stats := Mine(records)
	if len(stats) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(stats))
	}
	flag := stats[0]
	if flag.Name != "Bull Flag" || flag.Occurrences != 3 {
		t.Fatalf("unexpected top pattern: %+v", flag)
	}
	if flag.Bullish != 2 || flag.Bearish != 0 {
		t.Fatalf("unexpected signal split: %+v", flag)
	}
	if flag.AvgConfidence != 70 {
		t.Fatalf("expected avg confidence 70, got %v", flag.AvgConfidence)
	}
	if len(flag.Pairs) != 2 || flag.Pairs[0] != "EUR/USD" {
		t.Fatalf("unexpected pairs: %v", flag.Pairs)
	}
	if !flag.LastSeen.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected last seen: %v", flag.LastSeen)
	}
	if stats[1].Bearish != 1 {
		t.Fatalf("expected bearish double top, got %+v", stats[1])
	}
}

func TestMineEmpty(t *testing.T) {
	if stats := Mine(nil); stats != nil {
		t.Fatalf("expected nil, got %v", stats)
	}
}

func TestStatsUsesSource(t *testing.T) {
	var gotLimit int
	source := SourceFunc(func(ctx context.Context, subjectID, pair string, limit int) ([]models.AnalysisRecord, error) {
		gotLimit = limit
		if subjectID != "user-1" || pair != "EUR/USD" {
			t.Fatalf("unexpected query %s %s", subjectID, pair)
		}
		return []models.AnalysisRecord{
			record("EUR/USD", time.Now(), models.ChartPattern{Name: "Wedge", Confidence: 50}),
		}, nil
	})

	stats, err := NewMiner(nil, source, 0).Stats(context.Background(), "user-1", "EUR/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stats) != 1 || stats[0].Name != "Wedge" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if gotLimit != defaultWindow {
		t.Fatalf("expected default window, got %d", gotLimit)
	}
}

func TestStatsPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	source := SourceFunc(func(context.Context, string, string, int) ([]models.AnalysisRecord, error) {
		return nil, boom
	})
	if _, err := NewMiner(nil, source, 10).Stats(context.Background(), "u", ""); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
