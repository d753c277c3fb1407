package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chartpilot/analysis-engine/internal/cache"
	"github.com/chartpilot/analysis-engine/internal/clock"
	"github.com/chartpilot/analysis-engine/internal/models"
)

func newTestHistory(t *testing.T, clk clock.Source, provider cache.Provider, ttl time.Duration) *SQLiteHistory {
	t.Helper()
	h, err := NewSQLiteHistory(context.Background(), filepath.Join(t.TempDir(), "history.db"), clk, provider, ttl, nil)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func sampleResult(pair string) models.AnalysisResult {
	return models.AnalysisResult{
		Pair:             pair,
		Timeframe:        "1h",
		OverallSentiment: models.SentimentBullish,
		ConfidenceScore:  80,
		TrendDirection:   models.SentimentBullish,
		ChartPatterns:    []models.ChartPattern{{Name: "Bull Flag", Confidence: 70, Signal: models.SentimentBullish}},
		MarketFactors:    []models.MarketFactor{},
		PriceLevels:      []models.PriceLevel{{Name: "Support Level 1", Price: "1.0850", Direction: models.DirectionDown}},
	}
}

func TestSaveAndGet(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	h := newTestHistory(t, clk, nil, 0)
	ctx := context.Background()

	saved, err := h.Save(ctx, "user-1", "EUR/USD (1h)", models.SourceCapture, sampleResult("EUR/USD"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || !saved.CreatedAt.Equal(clk.Now()) {
		t.Fatalf("unexpected record: %+v", saved)
	}

	got, err := h.Get(ctx, "user-1", saved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Display != "EUR/USD (1h)" || got.Source != models.SourceCapture {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Result.PriceLevels[0].Price != "1.0850" || got.Result.ChartPatterns[0].Name != "Bull Flag" {
		t.Fatalf("result did not round trip: %+v", got.Result)
	}

	if _, err := h.Get(ctx, "user-2", saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another subject, got %v", err)
	}
}

func TestSaveRequiresSubject(t *testing.T) {
	h := newTestHistory(t, nil, nil, 0)
	if _, err := h.Save(context.Background(), "", "x", models.SourceSymbol, sampleResult("GBP/USD")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListPagesNewestFirst(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	h := newTestHistory(t, clk, nil, 0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		pair := "EUR/USD"
		if i%2 == 1 {
			pair = "GBP/USD"
		}
		rec, err := h.Save(ctx, "user-1", pair, models.SourceSymbol, sampleResult(pair))
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		ids = append(ids, rec.ID)
		clk.Advance(time.Minute)
	}
	if _, err := h.Save(ctx, "user-2", "other", models.SourceSymbol, sampleResult("EUR/USD")); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Records) != 2 || first.Records[0].ID != ids[4] || first.Records[1].ID != ids[3] {
		t.Fatalf("unexpected first page: %+v", first.Records)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Records) != 2 || second.Records[0].ID != ids[2] {
		t.Fatalf("unexpected second page: %+v", second.Records)
	}

	third, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", PageSize: 2, PageToken: second.NextPageToken})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(third.Records) != 1 || third.NextPageToken != "" {
		t.Fatalf("unexpected last page: %+v", third)
	}

	eur, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", Pair: "EUR/USD"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(eur.Records) != 3 {
		t.Fatalf("expected 3 EUR/USD records, got %d", len(eur.Records))
	}

	before, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", Before: time.Date(2026, 3, 2, 10, 2, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(before.Records) != 2 {
		t.Fatalf("expected 2 records before cutoff, got %d", len(before.Records))
	}

	if _, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1", PageToken: "%%%"}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestListCacheInvalidatedOnSave(t *testing.T) {
	stub := newStubCache()
	h := newTestHistory(t, clock.NewManual(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)), stub, time.Minute)
	ctx := context.Background()

	if _, err := h.Save(ctx, "user-1", "a", models.SourceSymbol, sampleResult("EUR/USD")); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(first.Records))
	}
	if stub.keys() != 2 {
		t.Fatalf("expected generation and list keys to be cached, got %d", stub.keys())
	}

	if _, err := h.Save(ctx, "user-1", "b", models.SourceSymbol, sampleResult("EUR/USD")); err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second.Records) != 2 {
		t.Fatalf("stale cache returned %d records", len(second.Records))
	}
}

func TestRecentAndPurge(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newTestHistory(t, clk, cache.NewMemoryProvider(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := h.Save(ctx, "user-1", "x", models.SourceSymbol, sampleResult("EUR/USD")); err != nil {
			t.Fatalf("save: %v", err)
		}
		clk.Advance(24 * time.Hour)
	}

	recent, err := h.Recent(ctx, "user-1", "", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent records, got %d", len(recent))
	}

	removed, err := h.PurgeOlderThan(ctx, time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	left, err := h.List(ctx, models.ListHistoryRequest{SubjectID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(left.Records) != 2 {
		t.Fatalf("expected 2 records after purge, got %d", len(left.Records))
	}
}
