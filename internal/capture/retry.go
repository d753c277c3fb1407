package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Source produces a capture of a rendered chart.
type Source interface {
	Capture(ctx context.Context) (Artifact, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Artifact, error)

// Capture implements Source.
func (f SourceFunc) Capture(ctx context.Context) (Artifact, error) {
	return f(ctx)
}

// RetryPolicy bounds capture attempts. Attempt n (1-based) is preceded by
// InitialWait when n == 1, else by ExtraDelay * (n-1).
type RetryPolicy struct {
	InitialWait time.Duration `yaml:"initial_wait" env:"INITIAL_WAIT"`
	ExtraDelay  time.Duration `yaml:"extra_delay" env:"EXTRA_DELAY"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// DefaultRetryPolicy waits for the widget to render, then retries twice.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialWait: 3 * time.Second, ExtraDelay: 2 * time.Second, MaxAttempts: 3}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return p.InitialWait
	}
	return p.ExtraDelay * time.Duration(attempt-1)
}

// Retrier captures from a Source until the validator accepts the result.
type Retrier struct {
	source    Source
	validator *Validator
	policy    RetryPolicy
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewRetrier wires a Retrier. MaxAttempts below 1 means a single attempt.
func NewRetrier(source Source, validator *Validator, policy RetryPolicy, logger *slog.Logger) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{source: source, validator: validator, policy: policy, logger: logger, sleep: sleepContext}
}

// Capture returns the first accepted artifact. Only InsufficientContent
// rejections are retried; the last rejection is returned when attempts run out.
func (r *Retrier) Capture(ctx context.Context, expectedWidth, expectedHeight int) (Artifact, Report, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := r.sleep(ctx, r.policy.delay(attempt)); err != nil {
			return Artifact{}, Report{}, err
		}

		artifact, err := r.source.Capture(ctx)
		if err != nil {
			return Artifact{}, Report{}, fmt.Errorf("capture attempt %d: %w", attempt, err)
		}

		report, err := r.validator.Validate(artifact, expectedWidth, expectedHeight)
		if err == nil {
			return artifact, report, nil
		}

		var rejected *RejectedError
		if !errors.As(err, &rejected) || rejected.Reason != ReasonInsufficientContent {
			return Artifact{}, report, err
		}
		lastErr = err
		r.logger.Info("capture not rendered yet",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.policy.MaxAttempts),
			slog.Float64("content_pct", report.ContentPercentage))
	}
	return Artifact{}, Report{}, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
