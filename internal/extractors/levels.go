package extractors

import (
	"fmt"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// LevelsExtractor collects support and resistance prices.
type LevelsExtractor struct {
	maxPerSide int
}

// NewLevelsExtractor returns an extractor keeping at most three levels per side.
func NewLevelsExtractor() *LevelsExtractor {
	return &LevelsExtractor{maxPerSide: 3}
}

// Extract returns support levels (direction down) followed by resistance
// levels (direction up), each in order of appearance.
func (e *LevelsExtractor) Extract(doc *Document) []models.PriceLevel {
	levels := make([]models.PriceLevel, 0, 2*e.maxPerSide)
	levels = append(levels, e.side(doc, "SUPPORT", "RESISTANCE", "Support Level", models.DirectionDown)...)
	levels = append(levels, e.side(doc, "RESISTANCE", "SUPPORT", "Resistance Level", models.DirectionUp)...)
	return levels
}

func (e *LevelsExtractor) side(doc *Document, key, other, name string, dir models.Direction) []models.PriceLevel {
	var lines []string
	for _, idx := range doc.FindAll(key, other) {
		lines = append(lines, doc.Block(idx)...)
	}
	tokens := prices(lines, e.maxPerSide)
	out := make([]models.PriceLevel, 0, len(tokens))
	for i, price := range tokens {
		out = append(out, models.PriceLevel{
			Name:      fmt.Sprintf("%s %d", name, i+1),
			Price:     price,
			Direction: dir,
		})
	}
	return out
}
