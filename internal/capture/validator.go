package capture

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chartpilot/analysis-engine/internal/metrics"
)

// Reason classifies a rejected capture.
type Reason string

const (
	ReasonInsufficientContent Reason = "InsufficientContent"
	ReasonEmptyCapture        Reason = "EmptyCapture"
	ReasonDimensionMismatch   Reason = "DimensionMismatch"
)

// ErrInsufficientContent is matched by every *RejectedError.
var ErrInsufficientContent = errors.New("capture has insufficient content")

// RejectedError describes why a capture did not look like a populated chart.
type RejectedError struct {
	Reason            Reason
	ContentPercentage float64
	ColorDiversity    int
	Detail            string
}

func (e *RejectedError) Error() string {
	switch e.Reason {
	case ReasonInsufficientContent:
		return fmt.Sprintf("capture rejected: %.1f%% content, %d colour buckets", e.ContentPercentage, e.ColorDiversity)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("capture rejected: %s: %s", e.Reason, e.Detail)
		}
		return fmt.Sprintf("capture rejected: %s", e.Reason)
	}
}

// Is lets errors.Is match ErrInsufficientContent.
func (e *RejectedError) Is(target error) bool {
	return target == ErrInsufficientContent
}

// Thresholds tune the content heuristic.
type Thresholds struct {
	// ChannelThreshold is the level a channel must exceed to count as non-background.
	ChannelThreshold int `yaml:"channel_threshold" env:"CHANNEL_THRESHOLD"`
	// Buckets is the number of quantisation buckets per channel.
	Buckets           int     `yaml:"buckets" env:"BUCKETS"`
	MinContentPercent float64 `yaml:"min_content_percent" env:"MIN_CONTENT_PERCENT"`
	MinColorDiversity int     `yaml:"min_color_diversity" env:"MIN_COLOR_DIVERSITY"`
	TargetSamples     int     `yaml:"target_samples" env:"TARGET_SAMPLES"`
}

// DefaultThresholds matches a dark-background candlestick widget.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ChannelThreshold:  20,
		Buckets:           10,
		MinContentPercent: 3,
		MinColorDiversity: 8,
		TargetSamples:     4000,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ChannelThreshold <= 0 {
		t.ChannelThreshold = d.ChannelThreshold
	}
	if t.Buckets <= 0 {
		t.Buckets = d.Buckets
	}
	if t.MinContentPercent <= 0 {
		t.MinContentPercent = d.MinContentPercent
	}
	if t.MinColorDiversity <= 0 {
		t.MinColorDiversity = d.MinColorDiversity
	}
	if t.TargetSamples <= 0 {
		t.TargetSamples = d.TargetSamples
	}
	return t
}

// Report summarises one validation pass.
type Report struct {
	Sampled           int
	NonBackground     int
	ContentPercentage float64
	ColorDiversity    int
}

// Validator applies the content heuristic to captures.
type Validator struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// NewValidator constructs a Validator; zero threshold fields take defaults.
func NewValidator(thresholds Thresholds, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{thresholds: thresholds.withDefaults(), logger: logger}
}

// Thresholds returns the effective thresholds.
func (v *Validator) Thresholds() Thresholds {
	return v.thresholds
}

// Validate accepts a capture that looks rendered. expectedWidth and
// expectedHeight of 0 take the artifact's own dimensions.
func (v *Validator) Validate(a Artifact, expectedWidth, expectedHeight int) (Report, error) {
	if a.Empty() {
		return v.reject(Report{}, &RejectedError{Reason: ReasonEmptyCapture, Detail: "no pixel data"})
	}
	if (expectedWidth > 0 && expectedWidth != a.Width) || (expectedHeight > 0 && expectedHeight != a.Height) {
		return v.reject(Report{}, &RejectedError{
			Reason: ReasonDimensionMismatch,
			Detail: fmt.Sprintf("got %dx%d, expected %dx%d", a.Width, a.Height, expectedWidth, expectedHeight),
		})
	}

	report := v.measure(a)
	if report.ContentPercentage < v.thresholds.MinContentPercent || report.ColorDiversity < v.thresholds.MinColorDiversity {
		return v.reject(report, &RejectedError{
			Reason:            ReasonInsufficientContent,
			ContentPercentage: report.ContentPercentage,
			ColorDiversity:    report.ColorDiversity,
		})
	}

	metrics.ObserveCapture(metrics.CaptureAccepted)
	return report, nil
}

func (v *Validator) measure(a Artifact) Report {
	t := v.thresholds
	pixels := a.Width * a.Height
	stride := pixels / t.TargetSamples
	if stride < 1 {
		stride = 1
	}

	type bucket [3]int
	seen := make(map[bucket]struct{})
	var report Report
	for i := 0; i < pixels; i += stride {
		off := i * 4
		r, g, b := int(a.Pix[off]), int(a.Pix[off+1]), int(a.Pix[off+2])
		report.Sampled++
		if r > t.ChannelThreshold || g > t.ChannelThreshold || b > t.ChannelThreshold {
			report.NonBackground++
		}
		seen[bucket{quantize(r, t.Buckets), quantize(g, t.Buckets), quantize(b, t.Buckets)}] = struct{}{}
	}

	report.ColorDiversity = len(seen)
	if report.Sampled > 0 {
		report.ContentPercentage = float64(report.NonBackground) / float64(report.Sampled) * 100
	}
	return report
}

func quantize(value, buckets int) int {
	q := value * buckets / 256
	if q >= buckets {
		q = buckets - 1
	}
	return q
}

func (v *Validator) reject(report Report, err *RejectedError) (Report, error) {
	metrics.ObserveCapture(metrics.CaptureRejected)
	v.logger.Debug("capture rejected",
		slog.String("reason", string(err.Reason)),
		slog.Float64("content_pct", err.ContentPercentage),
		slog.Int("diversity", err.ColorDiversity))
	return report, err
}
