package quota

import (
	"context"
	"fmt"

	"github.com/chartpilot/analysis-engine/internal/models"
)

// Limits is the allowance for one tier and feature.
type Limits struct {
	Daily   int `yaml:"daily"`
	Monthly int `yaml:"monthly"`
}

// LimitTable maps feature and tier to limits.
type LimitTable map[models.Feature]map[models.Tier]Limits

// DefaultLimits returns the built-in tables for deep and basic analysis.
func DefaultLimits() LimitTable {
	return LimitTable{
		models.FeatureDeep: {
			models.TierFree:    {Daily: 1, Monthly: 30},
			models.TierStarter: {Daily: 5, Monthly: 150},
			models.TierPro:     {Daily: 15, Monthly: 450},
		},
		models.FeatureBasic: {
			models.TierFree:    {Daily: 3, Monthly: 90},
			models.TierStarter: {Daily: 10, Monthly: 300},
			models.TierPro:     {Daily: 30, Monthly: 900},
		},
	}
}

// WithOverrides returns a copy of t with every positive override applied.
func (t LimitTable) WithOverrides(overrides LimitTable) LimitTable {
	merged := make(LimitTable, len(t))
	for feature, tiers := range t {
		merged[feature] = make(map[models.Tier]Limits, len(tiers))
		for tier, l := range tiers {
			merged[feature][tier] = l
		}
	}
	for feature, tiers := range overrides {
		if merged[feature] == nil {
			merged[feature] = make(map[models.Tier]Limits)
		}
		for tier, l := range tiers {
			current := merged[feature][tier]
			if l.Daily > 0 {
				current.Daily = l.Daily
			}
			if l.Monthly > 0 {
				current.Monthly = l.Monthly
			}
			merged[feature][tier] = current
		}
	}
	return merged
}

// Lookup returns the limits for tier and feature.
func (t LimitTable) Lookup(tier models.Tier, feature models.Feature) (Limits, error) {
	tiers, ok := t[feature]
	if !ok {
		return Limits{}, fmt.Errorf("unknown feature %q", feature)
	}
	l, ok := tiers[tier]
	if !ok {
		return Limits{}, fmt.Errorf("no limits for tier %q on feature %q", tier, feature)
	}
	if l.Daily <= 0 || l.Monthly <= 0 {
		return Limits{}, fmt.Errorf("limits for tier %q on feature %q must be positive", tier, feature)
	}
	return l, nil
}

// TierResolver maps a subject to its subscription tier.
type TierResolver interface {
	ResolveTier(ctx context.Context, subjectID string) (models.Tier, error)
}

// TierResolverFunc adapts a function to TierResolver.
type TierResolverFunc func(ctx context.Context, subjectID string) (models.Tier, error)

// ResolveTier implements TierResolver.
func (f TierResolverFunc) ResolveTier(ctx context.Context, subjectID string) (models.Tier, error) {
	return f(ctx, subjectID)
}

// StaticTiers resolves tiers from a fixed map with a fallback tier.
type StaticTiers struct {
	Default  models.Tier
	Subjects map[string]models.Tier
}

// ResolveTier implements TierResolver.
func (s StaticTiers) ResolveTier(_ context.Context, subjectID string) (models.Tier, error) {
	if tier, ok := s.Subjects[subjectID]; ok && tier.Valid() {
		return tier, nil
	}
	if s.Default.Valid() {
		return s.Default, nil
	}
	return models.TierFree, nil
}
