package models

import "time"

// Tier is a subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro:
		return true
	}
	return false
}

// Feature selects which quota table meters a run.
type Feature string

const (
	// FeatureBasic meters chart image analysis.
	FeatureBasic Feature = "basic"
	// FeatureDeep meters symbol analysis backed by real-time data.
	FeatureDeep Feature = "deep"
)

// Valid reports whether f is a known feature.
func (f Feature) Valid() bool {
	return f == FeatureBasic || f == FeatureDeep
}

// WindowKind is a quota accounting period.
type WindowKind string

const (
	WindowDaily   WindowKind = "daily"
	WindowMonthly WindowKind = "monthly"
)

// UsageWindow is the counter for one window.
type UsageWindow struct {
	Kind    WindowKind `json:"kind"`
	Count   int        `json:"count"`
	Limit   int        `json:"limit"`
	ResetAt time.Time  `json:"resetAt"`
}

// Remaining returns how many reservations are left in the window.
func (w UsageWindow) Remaining() int {
	if w.Count >= w.Limit {
		return 0
	}
	return w.Limit - w.Count
}

// Exhausted reports whether the window has no slots left.
func (w UsageWindow) Exhausted() bool {
	return w.Count >= w.Limit
}

// UsageState aggregates both windows for a subject and feature.
type UsageState struct {
	SubjectID  string      `json:"subjectId"`
	Tier       Tier        `json:"tier"`
	Feature    Feature     `json:"feature"`
	Daily      UsageWindow `json:"daily"`
	Monthly    UsageWindow `json:"monthly"`
	CanProceed bool        `json:"canProceed"`
}

// NewUsageState builds a state and derives CanProceed.
func NewUsageState(subjectID string, tier Tier, feature Feature, daily, monthly UsageWindow) UsageState {
	return UsageState{
		SubjectID:  subjectID,
		Tier:       tier,
		Feature:    feature,
		Daily:      daily,
		Monthly:    monthly,
		CanProceed: daily.Count < daily.Limit && monthly.Count < monthly.Limit,
	}
}
