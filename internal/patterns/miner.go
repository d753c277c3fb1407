package patterns

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chartpilot/analysis-engine/internal/models"
)

const defaultWindow = 500

// Source abstracts read access to a subject's analysis history.
type Source interface {
	Recent(ctx context.Context, subjectID, pair string, limit int) ([]models.AnalysisRecord, error)
}

// Miner aggregates recurring chart patterns from analysis history.
type Miner struct {
	source Source
	window int
	logger *slog.Logger
}

// NewMiner constructs a Miner that reads at most window records per query.
func NewMiner(logger *slog.Logger, source Source, window int) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Miner{source: source, window: window, logger: logger}
}

// Stats loads the subject's recent history and mines it.
func (m *Miner) Stats(ctx context.Context, subjectID, pair string) ([]models.PatternStat, error) {
	if m.source == nil {
		return nil, nil
	}
	records, err := m.source.Recent(ctx, subjectID, pair, m.window)
	if err != nil {
		return nil, err
	}
	stats := Mine(records)
	m.logger.Debug("patterns mined",
		slog.String("subject", subjectID),
		slog.Int("records", len(records)),
		slog.Int("patterns", len(stats)))
	return stats, nil
}

// Mine groups chart patterns by name and returns them most frequent first.
func Mine(records []models.AnalysisRecord) []models.PatternStat {
	if len(records) == 0 {
		return nil
	}

	stats := make(map[string]*patternAggregate)
	for _, record := range records {
		for _, pattern := range record.Result.ChartPatterns {
			key := strings.ToLower(strings.TrimSpace(pattern.Name))
			if key == "" {
				continue
			}
			agg := ensureAggregate(stats, key, pattern.Name)
			agg.count++
			agg.confidence += pattern.Confidence
			switch pattern.Signal {
			case models.SentimentBullish, models.SentimentMildlyBullish:
				agg.bullish++
			case models.SentimentBearish, models.SentimentMildlyBearish:
				agg.bearish++
			}
			if record.Result.Pair != "" {
				agg.pairs[record.Result.Pair] = struct{}{}
			}
			if record.CreatedAt.After(agg.lastSeen) {
				agg.lastSeen = record.CreatedAt
			}
		}
	}

	out := make([]models.PatternStat, 0, len(stats))
	for _, agg := range stats {
		out = append(out, models.PatternStat{
			Name:          agg.name,
			Occurrences:   agg.count,
			Bullish:       agg.bullish,
			Bearish:       agg.bearish,
			AvgConfidence: float64(agg.confidence) / float64(agg.count),
			Pairs:         agg.sortedPairs(),
			LastSeen:      agg.lastSeen,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type patternAggregate struct {
	name       string
	count      int
	bullish    int
	bearish    int
	confidence int
	lastSeen   time.Time
	pairs      map[string]struct{}
}

func ensureAggregate(m map[string]*patternAggregate, key, name string) *patternAggregate {
	agg, ok := m[key]
	if !ok {
		agg = &patternAggregate{name: strings.TrimSpace(name), pairs: make(map[string]struct{})}
		m[key] = agg
	}
	return agg
}

func (agg *patternAggregate) sortedPairs() []string {
	pairs := make([]string, 0, len(agg.pairs))
	for pair := range agg.pairs {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}
