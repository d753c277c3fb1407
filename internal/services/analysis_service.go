package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chartpilot/analysis-engine/internal/auth"
	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/engine"
	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/repo"
	"github.com/chartpilot/analysis-engine/internal/utils"
)

// ErrNotFound is returned when a history record does not exist for the caller.
var ErrNotFound = repo.ErrNotFound

// UsageReader reads quota windows without consuming them.
type UsageReader interface {
	CheckLimits(ctx context.Context, subjectID string, feature models.Feature) (models.UsageState, error)
}

// HistoryReader defines the history queries the service exposes.
type HistoryReader interface {
	List(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error)
	Get(ctx context.Context, subjectID, id string) (models.AnalysisRecord, error)
}

// PatternReader aggregates chart patterns from history.
type PatternReader interface {
	Stats(ctx context.Context, subjectID, pair string) ([]models.PatternStat, error)
}

// SnapshotConfig controls how AnalyzeChart fetches a snapshot URL.
// AllowedHosts, when set, is the exhaustive list of renderer hosts. Private
// and loopback addresses are refused unless AllowPrivate is set.
type SnapshotConfig struct {
	Validator    *capture.Validator
	Retry        capture.RetryPolicy
	Timeout      time.Duration
	AllowedHosts []string
	AllowPrivate bool
}

func (c SnapshotConfig) hostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range c.AllowedHosts {
		if strings.EqualFold(strings.TrimSpace(allowed), host) {
			return true
		}
	}
	return false
}

// AnalysisService is the transport-neutral facade over the pipeline and history.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	usage     UsageReader
	history   HistoryReader
	patterns  PatternReader
	snapshots SnapshotConfig
	latencies *utils.LatencyTracker
}

// NewAnalysisService constructs the service facade. history and patterns may be nil.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline, usage UsageReader, history HistoryReader, patterns PatternReader, snapshots SnapshotConfig) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if snapshots.Validator == nil {
		snapshots.Validator = capture.NewValidator(capture.DefaultThresholds(), logger)
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		usage:     usage,
		history:   history,
		patterns:  patterns,
		snapshots: snapshots,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// AnalyzeChart analyses an inline image or, when none is given, a snapshot
// fetched from SnapshotURL with render retries.
func (s *AnalysisService) AnalyzeChart(ctx context.Context, req models.ChartRequest) (engine.Outcome, error) {
	subject := auth.Subject(ctx, req.SubjectID)
	if subject == "" {
		return engine.Outcome{}, invalidInput(errors.New("subject id is required"))
	}

	var artifact capture.Artifact
	switch {
	case len(req.Image) > 0:
		decoded, err := capture.Decode(req.Image)
		if err != nil {
			return engine.Outcome{}, invalidInput(err)
		}
		artifact = decoded
	case strings.TrimSpace(req.SnapshotURL) != "":
		fetched, err := s.fetchSnapshot(ctx, req)
		if err != nil {
			return engine.Outcome{}, err
		}
		artifact = fetched
	default:
		return engine.Outcome{}, invalidInput(errors.New("an image or a snapshot url is required"))
	}

	return s.execute(ctx, engine.Run{
		SubjectID:      subject,
		Artifact:       &artifact,
		ExpectedWidth:  req.ExpectedWidth,
		ExpectedHeight: req.ExpectedHeight,
		Symbol:         strings.TrimSpace(req.Symbol),
		Timeframe:      strings.TrimSpace(req.Timeframe),
	})
}

// AnalyzeSymbol analyses a currency pair without an image.
func (s *AnalysisService) AnalyzeSymbol(ctx context.Context, req models.SymbolRequest) (engine.Outcome, error) {
	subject := auth.Subject(ctx, req.SubjectID)
	if subject == "" {
		return engine.Outcome{}, invalidInput(errors.New("subject id is required"))
	}
	return s.execute(ctx, engine.Run{
		SubjectID: subject,
		Symbol:    strings.TrimSpace(req.Symbol),
		Timeframe: strings.TrimSpace(req.Timeframe),
	})
}

// Usage returns the current windows for both features.
func (s *AnalysisService) Usage(ctx context.Context, subjectID string) ([]models.UsageState, error) {
	subject := auth.Subject(ctx, subjectID)
	if subject == "" {
		return nil, invalidInput(errors.New("subject id is required"))
	}
	if s.usage == nil {
		return nil, utils.NewAppError("Usage", "quota manager not configured", nil)
	}
	out := make([]models.UsageState, 0, 2)
	for _, feature := range []models.Feature{models.FeatureBasic, models.FeatureDeep} {
		state, err := s.usage.CheckLimits(ctx, subject, feature)
		if err != nil {
			s.logger.Error("check limits failed", slog.String("feature", string(feature)), slog.Any("error", err))
			return nil, utils.NewAppError("Usage", "failed to read usage", err)
		}
		out = append(out, state)
	}
	return out, nil
}

// ListHistory returns the caller's analyses, newest first.
func (s *AnalysisService) ListHistory(ctx context.Context, req models.ListHistoryRequest) (models.ListHistoryResponse, error) {
	req.SubjectID = auth.Subject(ctx, req.SubjectID)
	if req.SubjectID == "" {
		return models.ListHistoryResponse{}, invalidInput(errors.New("subject id is required"))
	}
	if s.history == nil {
		return models.ListHistoryResponse{}, utils.NewAppError("ListHistory", "history not configured", nil)
	}
	resp, err := s.history.List(ctx, req)
	if err != nil {
		if errors.Is(err, repo.ErrInvalidPageToken) {
			return models.ListHistoryResponse{}, invalidInput(err)
		}
		s.logger.Error("list history failed", slog.Any("error", err))
		return models.ListHistoryResponse{}, utils.NewAppError("ListHistory", "failed to list history", err)
	}
	return resp, nil
}

// GetAnalysis returns one of the caller's analyses.
func (s *AnalysisService) GetAnalysis(ctx context.Context, subjectID, id string) (models.AnalysisRecord, error) {
	subject := auth.Subject(ctx, subjectID)
	if subject == "" || strings.TrimSpace(id) == "" {
		return models.AnalysisRecord{}, invalidInput(errors.New("subject id and analysis id are required"))
	}
	if s.history == nil {
		return models.AnalysisRecord{}, utils.NewAppError("GetAnalysis", "history not configured", nil)
	}
	record, err := s.history.Get(ctx, subject, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.AnalysisRecord{}, err
		}
		return models.AnalysisRecord{}, utils.NewAppError("GetAnalysis", "failed to load analysis", err)
	}
	return record, nil
}

// PatternStats aggregates the caller's chart patterns, optionally for one pair.
func (s *AnalysisService) PatternStats(ctx context.Context, subjectID, pair string) ([]models.PatternStat, error) {
	subject := auth.Subject(ctx, subjectID)
	if subject == "" {
		return nil, invalidInput(errors.New("subject id is required"))
	}
	if s.patterns == nil {
		return []models.PatternStat{}, nil
	}
	stats, err := s.patterns.Stats(ctx, subject, strings.TrimSpace(pair))
	if err != nil {
		s.logger.Error("pattern stats failed", slog.Any("error", err))
		return nil, utils.NewAppError("PatternStats", "failed to aggregate patterns", err)
	}
	if stats == nil {
		stats = []models.PatternStat{}
	}
	return stats, nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *AnalysisService) execute(ctx context.Context, run engine.Run) (engine.Outcome, error) {
	if s.pipeline == nil {
		return engine.Outcome{}, utils.NewAppError("Analyze", "pipeline not configured", nil)
	}

	start := time.Now()
	outcome, err := s.pipeline.Execute(ctx, run)
	duration := time.Since(start)
	if err != nil {
		s.logger.Info("analysis failed",
			slog.String("subject", run.SubjectID),
			slog.String("feature", string(run.Feature())),
			slog.Any("error", err))
		return outcome, err
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return outcome, nil
}

func (s *AnalysisService) fetchSnapshot(ctx context.Context, req models.ChartRequest) (capture.Artifact, error) {
	u, err := url.Parse(strings.TrimSpace(req.SnapshotURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return capture.Artifact{}, invalidInput(fmt.Errorf("snapshot url %q must be an absolute http(s) url", req.SnapshotURL))
	}

	if !s.snapshots.hostAllowed(u.Hostname()) {
		return capture.Artifact{}, invalidInput(fmt.Errorf("snapshot host %q is not allowed", u.Hostname()))
	}

	source := capture.NewHTTPSource(u.String(), s.snapshots.Timeout)
	if !s.snapshots.AllowPrivate {
		source.WithHTTPClient(capture.NewGuardedClient(s.snapshots.Timeout))
	}
	retrier := capture.NewRetrier(source, s.snapshots.Validator, s.snapshots.Retry, s.logger)
	artifact, _, err := retrier.Capture(ctx, req.ExpectedWidth, req.ExpectedHeight)
	if err == nil {
		return artifact, nil
	}

	var rejected *capture.RejectedError
	switch {
	case errors.As(err, &rejected):
		return capture.Artifact{}, &engine.StageError{Stage: engine.StageValidating, Reason: engine.ReasonInsufficientContent, Err: err}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return capture.Artifact{}, &engine.StageError{Stage: engine.StageValidating, Reason: engine.ReasonCancelled, Err: err}
	}

	// Remote error detail stays in the log; callers only learn the status.
	s.logger.Warn("snapshot fetch failed", slog.String("host", u.Hostname()), slog.Any("error", err))
	var fetchErr *capture.FetchError
	switch {
	case errors.As(err, &fetchErr):
		return capture.Artifact{}, invalidInput(&capture.FetchError{StatusCode: fetchErr.StatusCode})
	case errors.Is(err, capture.ErrForbiddenAddress):
		return capture.Artifact{}, invalidInput(capture.ErrForbiddenAddress)
	default:
		return capture.Artifact{}, invalidInput(errors.New("snapshot fetch failed"))
	}
}

func invalidInput(err error) error {
	return &engine.StageError{Stage: engine.StageIdle, Reason: engine.ReasonInvalidInput, Err: err}
}
