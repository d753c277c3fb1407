package patterns

import (
	"context"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, subjectID, pair string, limit int) ([]models.AnalysisRecord, error)

// Recent implements Source.
func (f SourceFunc) Recent(ctx context.Context, subjectID, pair string, limit int) ([]models.AnalysisRecord, error) {
	return f(ctx, subjectID, pair, limit)
}
